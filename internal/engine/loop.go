package engine

// LoopKind discriminates the two iteration constructs.
type LoopKind int

const (
	LoopNumeric LoopKind = iota
	LoopList
)

// LoopState tracks one active iteration: a numeric counter or a cursor into
// a list snapshot taken when the loop started.
type LoopState struct {
	kind     LoopKind
	variable string

	current float64
	end     float64
	step    float64

	items  []any
	cursor int
}

// NewNumericLoop creates a counter running from start towards end.
func NewNumericLoop(variable string, start, end, step float64) *LoopState {
	return &LoopState{kind: LoopNumeric, variable: variable, current: start, end: end, step: step}
}

// NewListLoop creates a loop over a private copy of items.
func NewListLoop(variable string, items []any) *LoopState {
	snapshot := make([]any, len(items))
	copy(snapshot, items)
	return &LoopState{kind: LoopList, variable: variable, items: snapshot}
}

func (l *LoopState) Kind() LoopKind   { return l.kind }
func (l *LoopState) Variable() string { return l.variable }

// ShouldContinue reports whether the current position is inside the range.
func (l *LoopState) ShouldContinue() bool {
	if l.kind == LoopList {
		return l.cursor < len(l.items)
	}
	switch {
	case l.step > 0:
		return l.current <= l.end
	case l.step < 0:
		return l.current >= l.end
	default:
		return false
	}
}

// Value returns the value bound to the loop variable at the current position.
func (l *LoopState) Value() any {
	if l.kind == LoopNumeric {
		return l.current
	}
	if l.cursor < len(l.items) {
		return l.items[l.cursor]
	}
	return nil
}

// Next moves to the following position and returns the value it left.
func (l *LoopState) Next() any {
	v := l.Value()
	if l.kind == LoopNumeric {
		l.current += l.step
	} else {
		l.cursor++
	}
	return v
}
