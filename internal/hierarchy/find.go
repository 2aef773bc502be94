package hierarchy

import (
	"github.com/google/btree"

	"github.com/selvadb/selva/internal/object"
)

// FindOptions configures a Find traversal (spec.md §4.6.4).
type FindOptions struct {
	Start     NodeID
	Direction Direction
	Field     string // ref / edge_field / bfs_edge_field field name

	// Filter, when set, is evaluated against each visited node; only
	// nodes for which it returns true are included in the result.
	Filter func(n *Node) (bool, error)

	// Sort names a field path to order results by; empty means
	// traversal order. SortDesc reverses the order.
	Sort     string
	SortDesc bool

	Offset int
	Limit  int // <0 means unlimited

	// Fields projects the result to just these dotted paths; nil means
	// the full node Object.
	Fields []string
}

// FindResult is one matched node, with either its full Object or a
// Fields projection populated depending on FindOptions.Fields.
type FindResult struct {
	ID     NodeID
	Object *object.Object    // full object, when Fields is nil
	Fields map[string]object.Value // projection, when Fields is set
}

func projectNode(n *Node, fields []string) FindResult {
	if fields == nil {
		return FindResult{ID: n.ID, Object: n.Object}
	}
	r := FindResult{ID: n.ID, Fields: make(map[string]object.Value, len(fields))}
	for _, f := range fields {
		if v, err := n.Object.Get(f); err == nil {
			r.Fields[f] = v
		}
	}
	return r
}

// sortItem is one btree.Item backing Find's sorted output buffer (spec.md
// §4.6.4: "A sorted output buffers items and flushes them after the
// traversal completes").
type sortItem struct {
	result FindResult
	seq    int64
	desc   bool

	isNum bool
	num   float64
	str   string
}

func sortKeyOf(n *Node, path string) (isNum bool, num float64, str string) {
	v, err := n.Object.Get(path)
	if err != nil {
		return false, 0, ""
	}
	switch v.Tag {
	case object.TagLL:
		return true, float64(v.LL), ""
	case object.TagDouble:
		return true, v.Dbl, ""
	case object.TagString:
		return false, 0, string(v.Str)
	default:
		return false, 0, ""
	}
}

func (a *sortItem) Less(than btree.Item) bool {
	b := than.(*sortItem)
	var less bool
	switch {
	case a.isNum && b.isNum:
		if a.num != b.num {
			less = a.num < b.num
		} else {
			less = a.seq < b.seq
		}
	case !a.isNum && !b.isNum:
		if a.str != b.str {
			less = a.str < b.str
		} else {
			less = a.seq < b.seq
		}
	default:
		// Mixed types sort numeric before string, matching the
		// reference's scalar ordering.
		less = a.isNum
	}
	if a.desc {
		return !less
	}
	return less
}

// Find runs a traversal from opts.Start and collects matching nodes,
// applying an optional filter, sort, offset/limit, and field projection
// (spec.md §4.6.4).
func (h *Hierarchy) Find(opts FindOptions) ([]FindResult, error) {
	if opts.Limit == 0 {
		return nil, nil
	}

	var (
		unsorted []FindResult
		tree     *btree.BTree
		seq      int64
		matched  int64
		skipped  int64
	)
	if opts.Sort != "" {
		tree = btree.New(32)
	}

	visit := func(n *Node) (bool, error) {
		if opts.Filter != nil {
			ok, err := opts.Filter(n)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		if skipped < int64(opts.Offset) {
			skipped++
			return false, nil
		}
		matched++

		r := projectNode(n, opts.Fields)
		if tree != nil {
			isNum, num, str := sortKeyOf(n, opts.Sort)
			tree.ReplaceOrInsert(&sortItem{result: r, seq: seq, desc: opts.SortDesc, isNum: isNum, num: num, str: str})
			seq++
		} else {
			unsorted = append(unsorted, r)
		}

		if tree == nil && opts.Limit >= 0 && matched >= int64(opts.Limit) {
			return true, nil
		}
		return false, nil
	}

	cb := Callbacks{
		Node: func(n *Node) (bool, error) { return visit(n) },
	}

	if err := h.Traverse(TraverseOptions{Start: opts.Start, Direction: opts.Direction, Field: opts.Field}, cb); err != nil {
		return nil, err
	}

	if tree == nil {
		return unsorted, nil
	}

	out := make([]FindResult, 0, tree.Len())
	var walkErr error
	tree.Ascend(func(i btree.Item) bool {
		out = append(out, i.(*sortItem).result)
		if opts.Limit >= 0 && int64(len(out)) >= int64(opts.Limit) {
			return false
		}
		return true
	})
	return out, walkErr
}
