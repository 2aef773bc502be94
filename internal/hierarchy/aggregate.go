package hierarchy

import (
	"fmt"
	"math"

	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/selvaerr"
)

// Reducer selects an Aggregate accumulator (spec.md §4.6.4).
type Reducer int

const (
	ReduceCountNodes Reducer = iota
	ReduceCountUniqueField
	ReduceSumField
	ReduceAvgField
	ReduceMinField
	ReduceMaxField
)

// AggregateOptions configures an Aggregate traversal; it shares Find's
// walk/filter shape but reduces matches instead of collecting them.
type AggregateOptions struct {
	Start     NodeID
	Direction Direction
	Field     string

	Filter func(n *Node) (bool, error)

	Reducer     Reducer
	ReduceField string // field path the reducer reads, ignored for ReduceCountNodes
}

// AggregateResult is Aggregate's reduced value. Value holds the
// numeric result for every reducer except ReduceCountNodes /
// ReduceCountUniqueField, which use Count.
type AggregateResult struct {
	Value float64
	Count int64
}

// Aggregate walks opts.Start the same way Find does, reducing matching
// nodes instead of collecting them (spec.md §4.6.4).
func (h *Hierarchy) Aggregate(opts AggregateOptions) (AggregateResult, error) {
	var (
		res      AggregateResult
		sum      float64
		avgCount int64
		seen     map[string]struct{}
	)
	if opts.Reducer == ReduceMinField {
		res.Value = math.Inf(1)
	} else if opts.Reducer == ReduceMaxField {
		res.Value = math.Inf(-1)
	}
	if opts.Reducer == ReduceCountUniqueField {
		seen = make(map[string]struct{})
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

		switch opts.Reducer {
		case ReduceCountNodes:
			res.Count++
			return false, nil
		case ReduceCountUniqueField:
			v, err := n.Object.Get(opts.ReduceField)
			if err != nil {
				return false, nil
			}
			key := fieldCompareKey(v)
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				res.Count++
			}
			return false, nil
		}

		v, err := n.Object.Get(opts.ReduceField)
		if err != nil {
			return false, nil
		}
		num, ok := fieldAsFloat(v)
		if !ok {
			return false, nil
		}
		switch opts.Reducer {
		case ReduceSumField:
			sum += num
			res.Value = sum
		case ReduceAvgField:
			sum += num
			avgCount++
		case ReduceMinField:
			if num < res.Value {
				res.Value = num
			}
		case ReduceMaxField:
			if num > res.Value {
				res.Value = num
			}
		default:
			return false, selvaerr.New(selvaerr.HierarchyEINVAL, "unknown aggregate reducer")
		}
		return false, nil
	}

	cb := Callbacks{Node: func(n *Node) (bool, error) { return visit(n) }}
	if err := h.Traverse(TraverseOptions{Start: opts.Start, Direction: opts.Direction, Field: opts.Field}, cb); err != nil {
		return AggregateResult{}, err
	}
	if opts.Reducer == ReduceAvgField {
		// 0/0 naturally produces NaN when nothing matched (spec.md:455:
		// callers must accept NaN for avg over zero items), rather than
		// leaving res.Value at float64's zero value.
		res.Value = sum / float64(avgCount)
		res.Count = avgCount
	}
	return res, nil
}

func fieldAsFloat(v object.Value) (float64, bool) {
	switch v.Tag {
	case object.TagLL:
		return float64(v.LL), true
	case object.TagDouble:
		return v.Dbl, true
	default:
		return 0, false
	}
}

func fieldCompareKey(v object.Value) string {
	switch v.Tag {
	case object.TagLL:
		return fmt.Sprintf("ll:%d", v.LL)
	case object.TagDouble:
		return fmt.Sprintf("dbl:%v", v.Dbl)
	case object.TagString:
		return "str:" + string(v.Str)
	default:
		return fmt.Sprintf("tag:%d", v.Tag)
	}
}
