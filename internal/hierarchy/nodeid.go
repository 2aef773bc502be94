// Package hierarchy implements the Selva node/edge/object data model,
// its invariants, the traversal engine, and compress-and-detach subtree
// paging (spec.md §3, §4.6).
//
// No example repo carries this exact cyclic parent/child + typed-edge
// graph; it is grounded directly on spec.md §3/§4.6 and
// original_source/server/selvad/modules/db/module/hierarchy/hierarchy.c
// (the reference implementation), built the idiomatic-Go way per
// DESIGN NOTES §9: a central arena owns every Node, and inter-node links
// are NodeId values (non-owning), never pointers, which sidesteps the
// ownership/cycle problem C solves with manual refcounting.
package hierarchy

import "encoding/hex"

// NodeID is the fixed 10-byte node identifier (spec.md §3). The first
// two bytes are the NodeType.
type NodeID [10]byte

// Empty is the reserved all-zero NodeID.
var Empty NodeID

// Root is the permanent root node id ("root\0\0\0\0\0\0").
var Root = func() NodeID {
	var id NodeID
	copy(id[:], "root")
	return id
}()

// Type returns the 2-byte NodeType prefix.
func (id NodeID) Type() [2]byte {
	return [2]byte{id[0], id[1]}
}

// IsEmpty reports whether id is the reserved all-zero id.
func (id NodeID) IsEmpty() bool { return id == Empty }

func (id NodeID) String() string {
	// NodeIds are usually printable ASCII (type prefix + counter); fall
	// back to hex for any non-printable byte so String never mangles
	// data silently.
	for _, b := range id {
		if b != 0 && (b < 0x20 || b > 0x7e) {
			return hex.EncodeToString(id[:])
		}
	}
	end := len(id)
	for end > 0 && id[end-1] == 0 {
		end--
	}
	return string(id[:end])
}

// ParseNodeID right-pads s with NUL bytes into a NodeID, truncating if
// s is longer than 10 bytes (matches the reference's fixed-width id
// buffers).
func ParseNodeID(s string) NodeID {
	var id NodeID
	n := copy(id[:], s)
	_ = n
	return id
}
