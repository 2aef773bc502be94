package hierarchy

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"

	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/selvaerr"
)

// StorageKind selects where CompressSubtree parks a detached blob,
// matching spec.md §3's "detached-subtree store mapping NodeId ->
// compressed blob + storage kind" and spec.md §6's
// `hierarchy.compress`'s optional mode∈{mem,disk} argument.
type StorageKind uint8

const (
	// StorageMem keeps the blob resident in the process, the default.
	StorageMem StorageKind = iota
	// StorageDisk spills the blob to a temp file and keeps only its path
	// resident, trading memory for a read/write round-trip on compress
	// and restore.
	StorageDisk
)

// detachedEntry is one compressed subtree's bookkeeping: the deflated
// blob itself when Kind is StorageMem, or the path it was spilled to
// when Kind is StorageDisk.
type detachedEntry struct {
	Kind StorageKind
	blob []byte
	path string
}

// detachedStore holds the deflated blobs backing every compressed
// subtree (spec.md §4.6.5: "detached subtree store"), keyed by the
// subtree's root NodeID.
type detachedStore struct {
	entries map[NodeID]detachedEntry
}

func newDetachedStore() *detachedStore {
	return &detachedStore{entries: make(map[NodeID]detachedEntry)}
}

func (s *detachedStore) put(id NodeID, blob []byte, kind StorageKind) error {
	if kind == StorageDisk {
		f, err := os.CreateTemp("", "selva-detached-*.blob")
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		if _, err := f.Write(blob); err != nil {
			return errors.WithStack(err)
		}
		s.entries[id] = detachedEntry{Kind: StorageDisk, path: f.Name()}
		return nil
	}
	s.entries[id] = detachedEntry{Kind: StorageMem, blob: blob}
	return nil
}

func (s *detachedStore) take(id NodeID) ([]byte, bool, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false, nil
	}
	delete(s.entries, id)
	if e.Kind == StorageDisk {
		blob, err := os.ReadFile(e.path)
		os.Remove(e.path)
		if err != nil {
			return nil, true, errors.WithStack(err)
		}
		return blob, true, nil
	}
	return e.blob, true, nil
}

// peek reads id's blob without consuming the entry (used by Dump, which
// must leave detached subtrees detached across a save).
func (s *detachedStore) peek(id NodeID) ([]byte, StorageKind, bool, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, StorageMem, false, nil
	}
	if e.Kind == StorageDisk {
		blob, err := os.ReadFile(e.path)
		if err != nil {
			return nil, e.Kind, true, errors.WithStack(err)
		}
		return blob, e.Kind, true, nil
	}
	return e.blob, e.Kind, true, nil
}

func (s *detachedStore) has(id NodeID) bool {
	_, ok := s.entries[id]
	return ok
}

// list returns every currently-detached root id in ascending order
// (spec.md §6: `hierarchy.listCompressed`).
func (s *detachedStore) list() []NodeID {
	out := make([]NodeID, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Wire snapshot types. Fields are exported so encoding/gob can walk them
// directly; the types themselves stay package-private since nothing
// outside hierarchy needs to name them.

type subtreeSnap struct {
	RootID NodeID
	Nodes  []nodeSnap
}

type nodeSnap struct {
	ID       NodeID
	Object   *objectSnap
	Edges    []edgeSnap
	Origins  []EdgeOrigin
	Parents  []NodeID
	Children []NodeID
	Markers  []string
	Implicit bool
}

type edgeSnap struct {
	Name       string
	Dests      []NodeID
	SingleMeta *objectSnap
	KeyedMeta  map[NodeID]*objectSnap
}

type objectSnap struct {
	Keys []string
	Vals []valueSnap
}

type valueSnap struct {
	Tag     object.Tag
	LL      int64
	Dbl     float64
	Str     []byte
	SetKind object.SetKind
	SetStr  []string
	SetDbl  []float64
	SetLL   []int64
	SetNode [][10]byte
	Arr     []valueSnap
	Obj     *objectSnap
}

func snapshotObject(o *object.Object) *objectSnap {
	keys := o.Keys()
	snap := &objectSnap{Keys: keys, Vals: make([]valueSnap, len(keys))}
	for i, k := range keys {
		v, _ := o.Get(k)
		snap.Vals[i] = snapshotValue(v)
	}
	return snap
}

func snapshotValue(v object.Value) valueSnap {
	vs := valueSnap{Tag: v.Tag, LL: v.LL, Dbl: v.Dbl, Str: v.Str}
	switch v.Tag {
	case object.TagSet:
		vs.SetKind = v.Set.Kind()
		switch v.Set.Kind() {
		case object.SetString:
			vs.SetStr = v.Set.Strings()
		case object.SetDouble:
			vs.SetDbl = v.Set.Doubles()
		case object.SetLL:
			vs.SetLL = v.Set.LLs()
		case object.SetNodeID:
			vs.SetNode = v.Set.NodeIDs()
		}
	case object.TagArray:
		vs.Arr = make([]valueSnap, len(v.Arr))
		for i, e := range v.Arr {
			vs.Arr[i] = snapshotValue(e)
		}
	case object.TagObject:
		vs.Obj = snapshotObject(v.Obj)
	}
	return vs
}

func restoreObjectSnap(s *objectSnap) *object.Object {
	o := object.New()
	if s == nil {
		return o
	}
	for i, k := range s.Keys {
		_ = o.Set(k, restoreValueSnap(s.Vals[i]))
	}
	return o
}

func restoreValueSnap(vs valueSnap) object.Value {
	switch vs.Tag {
	case object.TagLL:
		return object.LL(vs.LL)
	case object.TagDouble:
		return object.Dbl(vs.Dbl)
	case object.TagString:
		return object.Str(vs.Str)
	case object.TagSet:
		s := object.NewSet(vs.SetKind)
		switch vs.SetKind {
		case object.SetString:
			for _, x := range vs.SetStr {
				s.AddString(x)
			}
		case object.SetDouble:
			for _, x := range vs.SetDbl {
				s.AddDouble(x)
			}
		case object.SetLL:
			for _, x := range vs.SetLL {
				s.AddLL(x)
			}
		case object.SetNodeID:
			for _, x := range vs.SetNode {
				s.AddNodeID(x)
			}
		}
		return object.SetVal(s)
	case object.TagArray:
		arr := make([]object.Value, len(vs.Arr))
		for i, e := range vs.Arr {
			arr[i] = restoreValueSnap(e)
		}
		return object.ArrVal(arr)
	case object.TagObject:
		return object.ObjVal(restoreObjectSnap(vs.Obj))
	default:
		return object.Null()
	}
}

// containsPtr reports whether o (recursively) holds an opaque pointer
// field, which a subtree snapshot cannot round-trip (spec.md §3: ptr
// values carry a caller-supplied vtable with no serialization contract).
func containsPtr(o *object.Object) bool {
	for _, k := range o.Keys() {
		v, err := o.Get(k)
		if err != nil {
			continue
		}
		if valueContainsPtr(v) {
			return true
		}
	}
	return false
}

func valueContainsPtr(v object.Value) bool {
	switch v.Tag {
	case object.TagPtr:
		return true
	case object.TagArray:
		for _, e := range v.Arr {
			if valueContainsPtr(e) {
				return true
			}
		}
	case object.TagObject:
		return containsPtr(v.Obj)
	}
	return false
}

func encodeSnapshot(snap *subtreeSnap) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(raw []byte) (*subtreeSnap, error) {
	var snap subtreeSnap
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func deflateBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflateBytes(blob []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(blob))
	defer r.Close()
	return io.ReadAll(r)
}

// CompressSubtree pages the subtree rooted at id out to the detached
// store (spec.md §4.6.5): id stays live as a detached stub, every proper
// descendant is removed from the arena, and the whole subtree is
// reconstituted transparently the next time anything looks id up
// (FindNode, Upsert). kind selects whether the blob is kept resident
// (StorageMem) or spilled to disk (StorageDisk); spec.md §6's
// `hierarchy.compress` exposes this as a mode∈{mem,disk} argument.
//
// The subtree must be self-contained: no descendant may have a parent or
// an edge-field origin from outside it, and nothing in it may carry an
// opaque pointer field or an active subscription marker.
func (h *Hierarchy) CompressSubtree(id NodeID, kind StorageKind) error {
	if id == Root {
		return selvaerr.New(selvaerr.HierarchyEINVAL, "cannot detach the root node")
	}
	root, err := h.requireNode(id)
	if err != nil {
		return err
	}
	if root.Detached() {
		return nil
	}

	subtree := make(map[NodeID]*Node)
	var order []NodeID
	queue := []NodeID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := subtree[cur]; seen {
			continue
		}
		n, ok := h.nodes[cur]
		if !ok {
			continue
		}
		subtree[cur] = n
		order = append(order, cur)
		queue = append(queue, n.Children...)
	}

	for _, nid := range order {
		n := subtree[nid]
		if len(n.Markers) > 0 {
			return selvaerr.New(selvaerr.HierarchyEINVAL, "node %s has active subscription markers, cannot detach", nid)
		}
		if containsPtr(n.Object) {
			return selvaerr.New(selvaerr.HierarchyENOTSUP, "node %s holds an opaque pointer field, cannot detach", nid)
		}
		if nid != id {
			for _, p := range n.Parents {
				if _, ok := subtree[p]; !ok {
					return selvaerr.New(selvaerr.HierarchyEINVAL, "node %s has a parent outside the subtree", nid)
				}
			}
		}
		for _, o := range n.Origins {
			if _, ok := subtree[o.Source]; !ok {
				return selvaerr.New(selvaerr.HierarchyEINVAL, "node %s is referenced by an edge field outside the subtree", nid)
			}
		}
		for _, ef := range n.Edges {
			for _, d := range ef.Dests {
				if _, ok := subtree[d]; !ok {
					return selvaerr.New(selvaerr.HierarchyEINVAL, "node %s has an edge field pointing outside the subtree", nid)
				}
			}
		}
	}

	snap := &subtreeSnap{RootID: id}
	for _, nid := range order {
		snap.Nodes = append(snap.Nodes, snapshotNode(subtree[nid]))
	}

	raw, err := encodeSnapshot(snap)
	if err != nil {
		return errors.WithStack(err)
	}
	blob, err := deflateBytes(raw)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := h.detached.put(id, blob, kind); err != nil {
		return err
	}

	for _, nid := range order {
		if nid == id {
			continue
		}
		delete(h.nodes, nid)
		delete(h.heads, nid)
		h.inactive.Remove(nid)
	}
	root.setDetached(true)
	return nil
}

func snapshotNode(n *Node) nodeSnap {
	ns := nodeSnap{
		ID:       n.ID,
		Object:   snapshotObject(n.Object),
		Origins:  append([]EdgeOrigin{}, n.Origins...),
		Parents:  append([]NodeID{}, n.Parents...),
		Children: append([]NodeID{}, n.Children...),
		Implicit: n.Implicit(),
	}
	for m := range n.Markers {
		ns.Markers = append(ns.Markers, m)
	}
	for name, ef := range n.Edges {
		es := edgeSnap{Name: name, Dests: append([]NodeID{}, ef.Dests...)}
		if ef.SingleMeta != nil {
			es.SingleMeta = snapshotObject(ef.SingleMeta)
		}
		if len(ef.KeyedMeta) > 0 {
			es.KeyedMeta = make(map[NodeID]*objectSnap, len(ef.KeyedMeta))
			for k, v := range ef.KeyedMeta {
				es.KeyedMeta[k] = snapshotObject(v)
			}
		}
		ns.Edges = append(ns.Edges, es)
	}
	return ns
}

// restoreSubtree reinstalls every node recorded in id's detached blob
// and clears id's detached flag. A no-op (beyond clearing the flag) if id
// is not actually in the detached store, which happens if two callers
// race to restore the same stub within one reactor tick.
func (h *Hierarchy) restoreSubtree(id NodeID) error {
	blob, ok, err := h.detached.take(id)
	if err != nil {
		return err
	}
	if !ok {
		if n, present := h.nodes[id]; present {
			n.setDetached(false)
		}
		return nil
	}
	raw, err := inflateBytes(blob)
	if err != nil {
		return errors.WithStack(err)
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, ns := range snap.Nodes {
		n := h.restoreNodeFromSnap(ns)
		h.nodes[n.ID] = n
	}
	if root, present := h.nodes[id]; present {
		root.setDetached(false)
	}
	return nil
}

func (h *Hierarchy) restoreNodeFromSnap(ns nodeSnap) *Node {
	n := &Node{
		ID:       ns.ID,
		flags:    bitset.New(2),
		Object:   restoreObjectSnap(ns.Object),
		Edges:    make(map[string]*EdgeField),
		Origins:  append([]EdgeOrigin{}, ns.Origins...),
		Parents:  append([]NodeID{}, ns.Parents...),
		Children: append([]NodeID{}, ns.Children...),
		Markers:  make(map[string]struct{}),
	}
	for _, m := range ns.Markers {
		n.Markers[m] = struct{}{}
	}
	if ns.Implicit {
		n.setImplicit(true)
	}
	for _, es := range ns.Edges {
		c := h.Constraints.Lookup(ns.ID.Type(), es.Name)
		ef := newEdgeField(es.Name, c)
		ef.Dests = append([]NodeID{}, es.Dests...)
		if es.SingleMeta != nil {
			ef.SingleMeta = restoreObjectSnap(es.SingleMeta)
		}
		if es.KeyedMeta != nil {
			ef.KeyedMeta = make(map[NodeID]*object.Object, len(es.KeyedMeta))
			for k, v := range es.KeyedMeta {
				ef.KeyedMeta[k] = restoreObjectSnap(v)
			}
		}
		n.Edges[es.Name] = ef
	}
	return n
}

// Compressed reports whether id is currently paged out to the detached
// store, without restoring it.
func (h *Hierarchy) Compressed(id NodeID) bool {
	return h.detached.has(id)
}

// ListCompressed returns every root id currently paged out to the
// detached store, in ascending order (spec.md §6: `hierarchy.listCompressed`).
func (h *Hierarchy) ListCompressed() []NodeID {
	return h.detached.list()
}
