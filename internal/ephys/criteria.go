package ephys

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Op is the comparison a Condition applies.
type Op int

const (
	OpEqual Op = iota
	OpLess
	OpGreater
)

// Condition compares a response property against a threshold.
type Condition struct {
	Op    Op
	Value float64
}

// Equal returns an approximate-equality condition.
func Equal(v float64) Condition { return Condition{Op: OpEqual, Value: v} }

// Less returns a strict less-than condition.
func Less(v float64) Condition { return Condition{Op: OpLess, Value: v} }

// Greater returns a strict greater-than condition.
func Greater(v float64) Condition { return Condition{Op: OpGreater, Value: v} }

// ParseCondition accepts "N" for equality and "<N" or ">N" for strict comparisons.
func ParseCondition(s string) (Condition, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "<") && strings.Contains(s, ">") {
		return Condition{}, fmt.Errorf("%w: %q has both < and >", ErrUnsupportedCondition, s)
	}
	op, num := OpEqual, s
	switch {
	case strings.HasPrefix(s, "<"):
		op, num = OpLess, s[1:]
	case strings.HasPrefix(s, ">"):
		op, num = OpGreater, s[1:]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil || math.IsNaN(v) {
		return Condition{}, fmt.Errorf("%w: %q", ErrUnsupportedCondition, s)
	}
	return Condition{Op: op, Value: v}, nil
}

// Match reports whether v satisfies the condition. NaN never matches.
func (c Condition) Match(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	switch c.Op {
	case OpLess:
		return v < c.Value
	case OpGreater:
		return v > c.Value
	default:
		return approxEqual(v, c.Value)
	}
}

// String renders the condition in the form ParseCondition accepts.
func (c Condition) String() string {
	v := strconv.FormatFloat(c.Value, 'g', -1, 64)
	switch c.Op {
	case OpLess:
		return "<" + v
	case OpGreater:
		return ">" + v
	}
	return v
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-8+1e-5*math.Abs(b)
}

// Criterion constrains one response property.
type Criterion struct {
	Property  string
	Condition Condition
}

func (c Criterion) String() string {
	return c.Property + "=" + c.Condition.String()
}

// ParseCriterion builds a Criterion from a property name and condition string.
func ParseCriterion(property, condition string) (Criterion, error) {
	cond, err := ParseCondition(condition)
	if err != nil {
		return Criterion{}, fmt.Errorf("criterion %s: %w", property, err)
	}
	if err := ValidateProperty(property); err != nil {
		return Criterion{}, fmt.Errorf("criterion %s: %w", property, err)
	}
	return Criterion{Property: property, Condition: cond}, nil
}

// Criteria is an ordered set of constraints a response must satisfy.
type Criteria []Criterion

// priority lists properties that are evaluated before all others.
var priority = map[string]int{"sweep_time": 0}

// Ordered returns the criteria with prioritised properties first, keeping the
// caller's order otherwise.
func (c Criteria) Ordered() Criteria {
	out := append(Criteria(nil), c...)
	rank := func(p string) int {
		if r, ok := priority[p]; ok {
			return r
		}
		return len(priority)
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i].Property) < rank(out[j].Property) })
	return out
}

// String renders the criteria in evaluation order.
func (c Criteria) String() string {
	parts := make([]string, 0, len(c))
	for _, cr := range c.Ordered() {
		parts = append(parts, cr.String())
	}
	return strings.Join(parts, ",")
}

// Meets evaluates the criteria in priority order and stops at the first miss.
func (r *Response) Meets(criteria Criteria) (bool, error) {
	for _, cr := range criteria.Ordered() {
		v, err := r.Property(cr.Property)
		if err != nil {
			return false, err
		}
		if v.IsVector() {
			return false, fmt.Errorf("%w: criterion on per-spike property %q", ErrUnsupportedCondition, cr.Property)
		}
		if !cr.Condition.Match(v.Float()) {
			return false, nil
		}
	}
	return true, nil
}
