package object

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/selvadb/selva/internal/selvaerr"
)

// Set is a uniformly-typed set (spec.md §3/§4.5), wrapping
// github.com/deckarep/golang-set/v2 generic sets tagged by SetKind since
// the underlying library has no notion of "the element type of this
// particular instance."
type Set struct {
	kind SetKind

	strs    mapset.Set[string]
	dbls    mapset.Set[float64]
	lls     mapset.Set[int64]
	nodeIDs mapset.Set[[10]byte]
}

// NewSet returns an empty Set of the given element kind.
func NewSet(kind SetKind) *Set {
	s := &Set{kind: kind}
	switch kind {
	case SetString:
		s.strs = mapset.NewThreadUnsafeSet[string]()
	case SetDouble:
		s.dbls = mapset.NewThreadUnsafeSet[float64]()
	case SetLL:
		s.lls = mapset.NewThreadUnsafeSet[int64]()
	case SetNodeID:
		s.nodeIDs = mapset.NewThreadUnsafeSet[[10]byte]()
	}
	return s
}

func (s *Set) Kind() SetKind { return s.kind }

func (s *Set) Len() int {
	switch s.kind {
	case SetString:
		return s.strs.Cardinality()
	case SetDouble:
		return s.dbls.Cardinality()
	case SetLL:
		return s.lls.Cardinality()
	default:
		return s.nodeIDs.Cardinality()
	}
}

func (s *Set) AddString(v string) bool {
	return s.strs.Add(v)
}

func (s *Set) AddDouble(v float64) bool {
	return s.dbls.Add(v)
}

func (s *Set) AddLL(v int64) bool {
	return s.lls.Add(v)
}

func (s *Set) AddNodeID(v [10]byte) bool {
	return s.nodeIDs.Add(v)
}

func (s *Set) RemoveString(v string) { s.strs.Remove(v) }
func (s *Set) RemoveNodeID(v [10]byte) { s.nodeIDs.Remove(v) }

func (s *Set) HasString(v string) bool     { return s.strs != nil && s.strs.Contains(v) }
func (s *Set) HasDouble(v float64) bool    { return s.dbls != nil && s.dbls.Contains(v) }
func (s *Set) HasLL(v int64) bool          { return s.lls != nil && s.lls.Contains(v) }
func (s *Set) HasNodeID(v [10]byte) bool   { return s.nodeIDs != nil && s.nodeIDs.Contains(v) }

func (s *Set) Strings() []string   { return s.strs.ToSlice() }
func (s *Set) Doubles() []float64  { return s.dbls.ToSlice() }
func (s *Set) LLs() []int64        { return s.lls.ToSlice() }
func (s *Set) NodeIDs() [][10]byte { return s.nodeIDs.ToSlice() }

// Union merges other into s in place; kind mismatch is EINTYPE per
// spec.md's "error if existing subtype differs" rule for sets.
func (s *Set) Union(other *Set) error {
	if other == nil {
		return nil
	}
	if s.kind != other.kind {
		return selvaerr.New(selvaerr.EINTYPE, "set union kind mismatch")
	}
	switch s.kind {
	case SetString:
		s.strs = s.strs.Union(other.strs)
	case SetDouble:
		s.dbls = s.dbls.Union(other.dbls)
	case SetLL:
		s.lls = s.lls.Union(other.lls)
	case SetNodeID:
		s.nodeIDs = s.nodeIDs.Union(other.nodeIDs)
	}
	return nil
}

// Clone deep-copies the set.
func (s *Set) Clone() *Set {
	c := NewSet(s.kind)
	switch s.kind {
	case SetString:
		c.strs = s.strs.Clone()
	case SetDouble:
		c.dbls = s.dbls.Clone()
	case SetLL:
		c.lls = s.lls.Clone()
	case SetNodeID:
		c.nodeIDs = s.nodeIDs.Clone()
	}
	return c
}
