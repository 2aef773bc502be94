// Package object implements the Selva Object store (spec.md §4.5): a
// recursively typed map from dotted-path string keys to scalars, typed
// sets, arrays, nested objects, or opaque pointers.
//
// Grounded on the teacher's internal/state.paths.go for dotted-path
// parsing conventions, and on github.com/deckarep/golang-set/v2 for the
// typed Set implementation (see SPEC_FULL.md §3). Sets are additionally
// tagged with their element kind since golang-set is itself untyped by
// design (any comparable T).
package object

import (
	"strings"

	"github.com/selvadb/selva/internal/selvaerr"
)

// Tag identifies the kind of value stored at a key (spec.md §4.5 table).
type Tag uint8

const (
	TagNull Tag = iota
	TagLL
	TagDouble
	TagString
	TagSet
	TagArray
	TagObject
	TagPtr
)

// SetKind identifies the uniform element type of a Set value.
type SetKind uint8

const (
	SetString SetKind = iota
	SetDouble
	SetLL
	SetNodeID
)

// PtrVTable is the opaque-pointer vtable spec.md §3/§4.5 describes.
type PtrVTable struct {
	Reply func(v any) ([]byte, error)
	Free  func(v any)
	Save  func(v any) ([]byte, error)
	Load  func([]byte) (any, error)
	Len   func(v any) int
}

// Ptr is an opaque pointer value with a caller-supplied vtable.
type Ptr struct {
	Value  any
	VTable *PtrVTable
}

// Value is a tagged union over everything an Object key can hold.
type Value struct {
	Tag Tag

	LL     int64
	Dbl    float64
	Str    []byte
	Deflate bool

	Set     *Set
	Arr     []Value
	Obj     *Object
	Pointer *Ptr
}

func Null() Value               { return Value{Tag: TagNull} }
func LL(v int64) Value          { return Value{Tag: TagLL, LL: v} }
func Dbl(v float64) Value       { return Value{Tag: TagDouble, Dbl: v} }
func Str(v []byte) Value        { return Value{Tag: TagString, Str: v} }
func ObjVal(o *Object) Value    { return Value{Tag: TagObject, Obj: o} }
func ArrVal(v []Value) Value    { return Value{Tag: TagArray, Arr: v} }
func SetVal(s *Set) Value       { return Value{Tag: TagSet, Set: s} }
func PtrVal(p *Ptr) Value       { return Value{Tag: TagPtr, Pointer: p} }

// Reserved top-level field names guaranteed present on every node
// object (spec.md §3).
const (
	FieldID        = "id"
	FieldType      = "type"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldAliases   = "aliases"
)

var reserved = map[string]bool{
	FieldID: true, FieldType: true, FieldCreatedAt: true,
	FieldUpdatedAt: true, FieldAliases: true,
}

// IsReserved reports whether name is excluded from Clear (spec.md §4.5).
func IsReserved(name string) bool { return reserved[name] }

// Object is an insertion-ordered string-keyed map, per spec.md "Iteration
// is insertion-ordered at each level."
type Object struct {
	keys   []string
	values map[string]Value
}

// New returns an empty Object.
func New() *Object {
	return &Object{values: make(map[string]Value)}
}

// NewNode returns an Object pre-populated with the reserved node fields
// (spec.md §3), suitable as the top-level object embedded by a new
// hierarchy Node.
func NewNode(nodeType string, now int64) *Object {
	o := New()
	o.setRaw(FieldType, Str([]byte(nodeType)))
	o.setRaw(FieldCreatedAt, LL(now))
	o.setRaw(FieldUpdatedAt, LL(now))
	o.setRaw(FieldAliases, SetVal(NewSet(SetString)))
	return o
}

func (o *Object) setRaw(key string, v Value) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

func (o *Object) delRaw(key string) bool {
	if _, ok := o.values[key]; !ok {
		return false
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the top-level keys in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// splitPath splits a dotted path into segments; each segment must itself
// be dot-free, per spec.md §4.5.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// resolve walks segs[:len-1] through nested Objects, creating
// intermediate Objects lazily when create is true. It returns the final
// Object and the last segment name.
func (o *Object) resolve(segs []string, create bool) (*Object, string, error) {
	cur := o
	for _, seg := range segs[:len(segs)-1] {
		v, ok := cur.values[seg]
		if !ok {
			if !create {
				return nil, "", selvaerr.New(selvaerr.ENOENT, "path segment %q not found", seg)
			}
			child := New()
			cur.setRaw(seg, ObjVal(child))
			cur = child
			continue
		}
		if v.Tag != TagObject {
			return nil, "", selvaerr.New(selvaerr.EINTYPE, "path segment %q is not an object", seg)
		}
		cur = v.Obj
	}
	return cur, segs[len(segs)-1], nil
}

// Get returns the value at path, or ENOENT.
func (o *Object) Get(path string) (Value, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return Value{}, selvaerr.New(selvaerr.EINVAL, "empty path")
	}
	parent, last, err := o.resolve(segs, false)
	if err != nil {
		return Value{}, err
	}
	v, ok := parent.values[last]
	if !ok {
		return Value{}, selvaerr.New(selvaerr.ENOENT, "field %q not found", path)
	}
	return v, nil
}

// Exists reports whether path resolves to a value.
func (o *Object) Exists(path string) bool {
	_, err := o.Get(path)
	return err == nil
}

// Set overwrites (or creates) the scalar/container value at path,
// creating intermediate objects lazily (spec.md §4.5).
func (o *Object) Set(path string, v Value) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return selvaerr.New(selvaerr.EINVAL, "empty path")
	}
	parent, last, err := o.resolve(segs, true)
	if err != nil {
		return err
	}
	if existing, ok := parent.values[last]; ok && existing.Tag == TagSet && v.Tag == TagSet {
		if existing.Set.kind != v.Set.kind {
			return selvaerr.New(selvaerr.EINTYPE, "set subtype mismatch at %q", path)
		}
	}
	parent.setRaw(last, v)
	return nil
}

// IncrLL implements incr_ll(path, default, delta): creates with default
// if missing, otherwise adds delta; EINVAL if the existing value isn't
// an ll.
func (o *Object) IncrLL(path string, def, delta int64) (int64, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return 0, selvaerr.New(selvaerr.EINVAL, "empty path")
	}
	parent, last, err := o.resolve(segs, true)
	if err != nil {
		return 0, err
	}
	existing, ok := parent.values[last]
	if !ok {
		parent.setRaw(last, LL(def))
		return def, nil
	}
	if existing.Tag != TagLL {
		return 0, selvaerr.New(selvaerr.EINVAL, "incr on non-ll field %q", path)
	}
	nv := existing.LL + delta
	parent.setRaw(last, LL(nv))
	return nv, nil
}

// Del removes the value at path; ENOENT if absent, idempotent
// otherwise (a second Del on the same path also returns ENOENT, which
// callers treat as a no-op per spec.md's idempotence law).
func (o *Object) Del(path string) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return selvaerr.New(selvaerr.EINVAL, "empty path")
	}
	parent, last, err := o.resolve(segs, false)
	if err != nil {
		return err
	}
	if !parent.delRaw(last) {
		return selvaerr.New(selvaerr.ENOENT, "field %q not found", path)
	}
	return nil
}

// Clear removes every non-reserved top-level key (spec.md §4.5: reserved
// names on the node's top-level Object are excluded from clear).
func (o *Object) Clear() {
	var keep []string
	for _, k := range o.keys {
		if IsReserved(k) {
			keep = append(keep, k)
			continue
		}
		delete(o.values, k)
	}
	o.keys = keep
}

// ArrayPush appends to the array at path (creating an empty array if
// absent).
func (o *Object) ArrayPush(path string, v Value) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return selvaerr.New(selvaerr.EINVAL, "empty path")
	}
	parent, last, err := o.resolve(segs, true)
	if err != nil {
		return err
	}
	existing, ok := parent.values[last]
	if !ok {
		parent.setRaw(last, ArrVal([]Value{v}))
		return nil
	}
	if existing.Tag != TagArray {
		return selvaerr.New(selvaerr.EINTYPE, "field %q is not an array", path)
	}
	existing.Arr = append(existing.Arr, v)
	parent.setRaw(last, existing)
	return nil
}

// ArrayInsert inserts v at index in the array at path.
func (o *Object) ArrayInsert(path string, index int, v Value) error {
	segs := splitPath(path)
	parent, last, err := o.resolve(segs, true)
	if err != nil {
		return err
	}
	existing, ok := parent.values[last]
	if !ok || existing.Tag != TagArray {
		return selvaerr.New(selvaerr.EINTYPE, "field %q is not an array", path)
	}
	arr := existing.Arr
	if index < 0 || index > len(arr) {
		return selvaerr.New(selvaerr.EINVAL, "index %d out of range", index)
	}
	arr = append(arr, Value{})
	copy(arr[index+1:], arr[index:])
	arr[index] = v
	existing.Arr = arr
	parent.setRaw(last, existing)
	return nil
}

// ArrayRemove removes the element at index; out-of-range is a silent
// no-op per spec.md §4.5.
func (o *Object) ArrayRemove(path string, index int) error {
	segs := splitPath(path)
	parent, last, err := o.resolve(segs, false)
	if err != nil {
		return err
	}
	existing, ok := parent.values[last]
	if !ok || existing.Tag != TagArray {
		return nil
	}
	if index < 0 || index >= len(existing.Arr) {
		return nil
	}
	arr := existing.Arr
	arr = append(arr[:index], arr[index+1:]...)
	existing.Arr = arr
	parent.setRaw(last, existing)
	return nil
}

// Clone deep-copies the Object, used by Hierarchy snapshotting and
// compress/restore round trips.
func (o *Object) Clone() *Object {
	c := New()
	for _, k := range o.keys {
		c.setRaw(k, cloneValue(o.values[k]))
	}
	return c
}

func cloneValue(v Value) Value {
	switch v.Tag {
	case TagString:
		nb := make([]byte, len(v.Str))
		copy(nb, v.Str)
		v.Str = nb
	case TagSet:
		v.Set = v.Set.Clone()
	case TagArray:
		na := make([]Value, len(v.Arr))
		for i, e := range v.Arr {
			na[i] = cloneValue(e)
		}
		v.Arr = na
	case TagObject:
		v.Obj = v.Obj.Clone()
	}
	return v
}
