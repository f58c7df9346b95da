// Package strategy parses declarative strategy documents and compiles their
// condition queries and safety specs into functions the simulator evaluates
// per row. Documents are JSON, validated once up front; a malformed document
// is rejected before any candle is processed.
package strategy

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// InvalidQueryError reports a condition query that cannot be compiled: an
// unrecognized comparison operator, a leaf with no recognized key, or a
// malformed leaf body.
type InvalidQueryError struct {
	Detail string
}

func (e *InvalidQueryError) Error() string {
	return "strategy: invalid query: " + e.Detail
}

// Op is a comparison operator in a condition leaf.
type Op string

const (
	OpGT         Op = "gt"
	OpGTE        Op = "gte"
	OpLT         Op = "lt"
	OpLTE        Op = "lte"
	OpCrossover  Op = "crossover"
	OpCrossunder Op = "crossunder"
)

// Node is one element of a condition query tree: either a Group (and/or
// container) or a comparison Leaf.
type Node interface {
	isNode()
}

// Group nests a sub-query. Or selects how the sub-query's own leaves combine
// at that level; the group itself always folds into its parent with AND.
type Group struct {
	Or       bool
	Children []Node
}

func (*Group) isNode() {}

// Leaf is a single comparison: the cell at (row−Index, Column) against
// either a literal number or the same-indexed cell of another column.
type Leaf struct {
	Op        Op
	Column    string
	Index     int
	TargetCol string  // set when the target is a column reference
	TargetNum float64 // set when the target is a literal
	NumTarget bool
}

func (*Leaf) isNode() {}

// IndicatorKind names a supported indicator.
type IndicatorKind string

const (
	IndSMA  IndicatorKind = "sma"
	IndEMA  IndicatorKind = "ema"
	IndRSI  IndicatorKind = "rsi"
	IndATR  IndicatorKind = "atr"
	IndMACD IndicatorKind = "macd"
	IndBB   IndicatorKind = "bb"
)

// IndicatorInput carries the numeric parameters for one indicator.
type IndicatorInput struct {
	Period       int
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
	StdDev       float64
}

// IndicatorSpec requests one indicator column (or column group, for macd/bb)
// to be computed and added to the frame under Name.
type IndicatorSpec struct {
	Name  string
	Kind  IndicatorKind
	Input IndicatorInput
}

// SafetyTerm is one leg body: an optional column reference and a value.
type SafetyTerm struct {
	ColumnName string
	Value      float64
}

// SafetySpec configures a target or stop leg. Exactly one of Fixed or
// Percent is set.
type SafetySpec struct {
	Fixed   *SafetyTerm
	Percent *SafetyTerm
}

// Definition is a fully validated, immutable strategy document.
type Definition struct {
	Name       string
	Indicators []IndicatorSpec
	LongEntry  []Node
	ShortEntry []Node
	LongExit   []Node
	ShortExit  []Node
	Target     *SafetySpec
	Stop       *SafetySpec
}

// Parse validates and decodes a JSON strategy document into a Definition.
func Parse(doc []byte) (*Definition, error) {
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("strategy: document is not valid JSON")
	}
	root := gjson.ParseBytes(doc)
	if !root.IsObject() {
		return nil, fmt.Errorf("strategy: document must be a JSON object")
	}

	def := &Definition{Name: root.Get("name").String()}
	if def.Name == "" {
		return nil, fmt.Errorf("strategy: document has no name")
	}

	var err error
	if def.Indicators, err = parseIndicators(root.Get("indicators")); err != nil {
		return nil, err
	}
	for _, q := range []struct {
		key  string
		dest *[]Node
	}{
		{"longEntry", &def.LongEntry},
		{"shortEntry", &def.ShortEntry},
		{"longExit", &def.LongExit},
		{"shortExit", &def.ShortExit},
	} {
		nodes, err := parseNodes(root.Get(q.key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", q.key, err)
		}
		*q.dest = nodes
	}
	if def.Target, err = parseSafety(root.Get("target"), "target"); err != nil {
		return nil, err
	}
	if def.Stop, err = parseSafety(root.Get("stop"), "stop"); err != nil {
		return nil, err
	}
	return def, nil
}

func parseIndicators(res gjson.Result) ([]IndicatorSpec, error) {
	if !res.Exists() {
		return nil, nil
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("strategy: indicators must be an array")
	}
	var specs []IndicatorSpec
	var err error
	res.ForEach(func(_, item gjson.Result) bool {
		spec := IndicatorSpec{
			Name: item.Get("name").String(),
			Kind: IndicatorKind(item.Get("indicator").String()),
		}
		input := item.Get("input")
		spec.Input = IndicatorInput{
			Period:       int(input.Get("period").Int()),
			FastPeriod:   int(input.Get("fastPeriod").Int()),
			SlowPeriod:   int(input.Get("slowPeriod").Int()),
			SignalPeriod: int(input.Get("signalPeriod").Int()),
			StdDev:       input.Get("stdDev").Float(),
		}
		if err = validateIndicator(spec); err != nil {
			return false
		}
		specs = append(specs, spec)
		return true
	})
	if err != nil {
		return nil, err
	}
	return specs, nil
}

func validateIndicator(spec IndicatorSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("strategy: indicator has no name")
	}
	switch spec.Kind {
	case IndSMA, IndEMA, IndRSI, IndATR, IndBB:
		if spec.Input.Period <= 0 {
			return fmt.Errorf("strategy: indicator %q needs a positive period", spec.Name)
		}
		if spec.Kind == IndBB && spec.Input.StdDev <= 0 {
			return fmt.Errorf("strategy: indicator %q needs a positive stdDev", spec.Name)
		}
	case IndMACD:
		in := spec.Input
		if in.FastPeriod <= 0 || in.SlowPeriod <= 0 || in.SignalPeriod <= 0 {
			return fmt.Errorf("strategy: indicator %q needs positive fast/slow/signal periods", spec.Name)
		}
	default:
		return fmt.Errorf("strategy: unknown indicator kind %q", spec.Kind)
	}
	return nil
}

// parseNodes decodes one query array. Each element is an object with exactly
// one key: "or"/"and" containing a nested array, or a comparison operator
// containing a leaf body.
func parseNodes(res gjson.Result) ([]Node, error) {
	if !res.Exists() || res.Type == gjson.Null {
		return nil, nil
	}
	if !res.IsArray() {
		return nil, &InvalidQueryError{Detail: "query must be an array"}
	}
	var nodes []Node
	var err error
	res.ForEach(func(_, item gjson.Result) bool {
		var node Node
		node, err = parseNode(item)
		if err != nil {
			return false
		}
		nodes = append(nodes, node)
		return true
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func parseNode(item gjson.Result) (Node, error) {
	if !item.IsObject() {
		return nil, &InvalidQueryError{Detail: "query element must be an object"}
	}
	var key string
	var value gjson.Result
	keys := 0
	item.ForEach(func(k, v gjson.Result) bool {
		keys++
		key, value = k.String(), v
		return true
	})
	if keys != 1 {
		return nil, &InvalidQueryError{Detail: fmt.Sprintf("query element must have exactly one key, got %d", keys)}
	}
	if value.Type == gjson.Null {
		return nil, &InvalidQueryError{Detail: "no query given for key " + key}
	}

	switch key {
	case "or", "and":
		children, err := parseNodes(value)
		if err != nil {
			return nil, err
		}
		return &Group{Or: key == "or", Children: children}, nil
	case string(OpGT), string(OpGTE), string(OpLT), string(OpLTE), string(OpCrossover), string(OpCrossunder):
		return parseLeaf(Op(key), value)
	default:
		return nil, &InvalidQueryError{Detail: "unrecognized operator " + key}
	}
}

func parseLeaf(op Op, body gjson.Result) (*Leaf, error) {
	leaf := &Leaf{
		Op:     op,
		Column: body.Get("columnName").String(),
		Index:  int(body.Get("index").Int()),
	}
	if leaf.Column == "" {
		return nil, &InvalidQueryError{Detail: string(op) + " leaf has no columnName"}
	}
	if leaf.Index < 0 {
		return nil, &InvalidQueryError{Detail: string(op) + " leaf has a negative index"}
	}
	target := body.Get("target")
	switch target.Type {
	case gjson.Number:
		leaf.TargetNum = target.Float()
		leaf.NumTarget = true
	case gjson.String:
		leaf.TargetCol = target.String()
	default:
		return nil, &InvalidQueryError{Detail: string(op) + " leaf target must be a number or column name"}
	}
	return leaf, nil
}

func parseSafety(res gjson.Result, kind string) (*SafetySpec, error) {
	if !res.Exists() || res.Type == gjson.Null {
		return nil, nil
	}
	if !res.IsObject() {
		return nil, fmt.Errorf("strategy: %s must be an object", kind)
	}
	spec := &SafetySpec{}
	if fixed := res.Get("fixed"); fixed.Exists() && fixed.Type != gjson.Null {
		spec.Fixed = &SafetyTerm{
			ColumnName: fixed.Get("columnName").String(),
			Value:      fixed.Get("value").Float(),
		}
	}
	if pct := res.Get("percent"); pct.Exists() && pct.Type != gjson.Null {
		spec.Percent = &SafetyTerm{
			ColumnName: pct.Get("columnName").String(),
			Value:      pct.Get("value").Float(),
		}
	}
	if spec.Fixed != nil && spec.Percent != nil {
		return nil, fmt.Errorf("strategy: %s sets both fixed and percent", kind)
	}
	if spec.Fixed == nil && spec.Percent == nil {
		return nil, fmt.Errorf("strategy: %s sets neither fixed nor percent", kind)
	}
	return spec, nil
}
