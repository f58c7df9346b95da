package strategy

import (
	"marlin/internal/frame"
)

// Predicate evaluates a compiled condition query against one frame row.
type Predicate func(f *frame.Frame, row int) bool

// Compile turns a parsed query array into a Predicate. The top level is
// AND-mode: every sibling must hold.
func Compile(nodes []Node) Predicate {
	return func(f *frame.Frame, row int) bool {
		return evalNodes(nodes, f, row, false)
	}
}

// evalNodes folds a node list into a single boolean, starting from true.
// Sibling groups always fold in with AND, regardless of the current mode;
// orMode only changes how leaves at this level combine with the accumulator.
// This asymmetry is inherited wire behavior that deployed strategy documents
// rely on, so it stays.
func evalNodes(nodes []Node, f *frame.Frame, row int, orMode bool) bool {
	acc := true
	for _, n := range nodes {
		switch n := n.(type) {
		case *Group:
			acc = acc && evalNodes(n.Children, f, row, n.Or)
		case *Leaf:
			v := evalLeaf(n, f, row)
			if orMode {
				acc = acc || v
			} else {
				acc = acc && v
			}
		}
	}
	return acc
}

// falsy mirrors the weak truthiness the query language uses for cells:
// zero and the missing sentinel both disable a leaf.
func falsy(v float64) bool {
	return v == 0 || frame.IsMissing(v)
}

// evalLeaf evaluates one comparison. Referencing an absent column or a
// missing (or zero) cell makes the leaf false, never an error: a strategy
// that looks at a not-yet-warmed-up column simply does not fire on that row.
func evalLeaf(l *Leaf, f *frame.Frame, row int) bool {
	cur := f.Cell(row, l.Column)
	if falsy(cur) {
		return false
	}
	if l.Index > 0 {
		hist, err := f.Lookback(row, l.Column, l.Index)
		if err != nil || len(hist) <= l.Index || falsy(hist[l.Index]) {
			return false
		}
	}

	switch l.Op {
	case OpCrossover:
		return crosses(l, f, row, cur, true)
	case OpCrossunder:
		return crosses(l, f, row, cur, false)
	case OpGT:
		lhs, rhs, ok := operands(l, f, row, cur)
		return ok && lhs > rhs
	case OpGTE:
		lhs, rhs, ok := operands(l, f, row, cur)
		return ok && lhs >= rhs
	case OpLT:
		lhs, rhs, ok := operands(l, f, row, cur)
		return ok && lhs < rhs
	case OpLTE:
		lhs, rhs, ok := operands(l, f, row, cur)
		return ok && lhs <= rhs
	}
	return false
}

// crosses detects an upward (over=true) or downward cross between the
// previous row and the current row: both legs strict. The leaf's Index does
// not shift the comparison; a cross is always previous-vs-current.
func crosses(l *Leaf, f *frame.Frame, row int, cur float64, over bool) bool {
	tgtCur := l.TargetNum
	if !l.NumTarget {
		tgtCur = f.Cell(row, l.TargetCol)
	}
	// NaN comparisons are false, which also covers an absent target column.
	if over && !(cur > tgtCur) {
		return false
	}
	if !over && !(cur < tgtCur) {
		return false
	}

	hist, err := f.Lookback(row, l.Column, 1)
	if err != nil || len(hist) < 2 {
		return false
	}
	prev := hist[1]

	tgtPrev := l.TargetNum
	if !l.NumTarget {
		th, err := f.Lookback(row, l.TargetCol, 1)
		if err != nil || len(th) < 2 {
			return false
		}
		tgtPrev = th[1]
	}
	if over {
		return prev < tgtPrev
	}
	return prev > tgtPrev
}

// operands resolves the two sides of a gt/gte/lt/lte comparison, honoring
// the leaf's lookback Index on both the source and a column target.
func operands(l *Leaf, f *frame.Frame, row int, cur float64) (lhs, rhs float64, ok bool) {
	if l.Index > 0 {
		hist, err := f.Lookback(row, l.Column, l.Index)
		if err != nil || len(hist) <= l.Index {
			return 0, 0, false
		}
		lhs = hist[l.Index]
		if l.NumTarget {
			return lhs, l.TargetNum, true
		}
		th, err := f.Lookback(row, l.TargetCol, l.Index)
		if err != nil || len(th) <= l.Index {
			return 0, 0, false
		}
		return lhs, th[l.Index], true
	}
	if l.NumTarget {
		return cur, l.TargetNum, true
	}
	return cur, f.Cell(row, l.TargetCol), true
}
