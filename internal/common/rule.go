package common

// Predicate is a compiled filter expression. Match must be pure: it may be
// called any number of times for the same snapshot.
type Predicate interface {
	Match(snapshot *FlowSnapshot) bool
	String() string
}

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc struct {
	Expr string
	Fn   func(snapshot *FlowSnapshot) bool
}

func (p PredicateFunc) Match(snapshot *FlowSnapshot) bool {
	return p.Fn(snapshot)
}

func (p PredicateFunc) String() string {
	return p.Expr
}
