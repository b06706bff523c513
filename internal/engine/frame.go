package engine

import "github.com/rendis/skillscript/pkg/schema"

// FrameKind discriminates the nested scopes kept on the execution stack.
type FrameKind int

const (
	FrameBlock FrameKind = iota
	FrameNumericLoop
	FrameListLoop
	FrameParallel
)

func (k FrameKind) String() string {
	switch k {
	case FrameBlock:
		return "block"
	case FrameNumericLoop:
		return "numeric_loop"
	case FrameListLoop:
		return "list_loop"
	case FrameParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// Frame is one nested scope of execution. Sequential frames own a step list
// and cursor; parallel frames own branches and nothing else.
type Frame interface {
	Kind() FrameKind
	Finished() bool
}

// SequentialFrame is a block or a loop body.
type SequentialFrame struct {
	kind   FrameKind
	steps  []schema.StepRecord
	cursor int
	loop   *LoopState
}

func (f *SequentialFrame) Kind() FrameKind  { return f.kind }
func (f *SequentialFrame) Finished() bool   { return f.cursor >= len(f.steps) }
func (f *SequentialFrame) Cursor() int      { return f.cursor }
func (f *SequentialFrame) Len() int         { return len(f.steps) }
func (f *SequentialFrame) Loop() *LoopState { return f.loop }
func (f *SequentialFrame) advance()         { f.cursor++ }

// Next returns the step at the cursor, if any.
func (f *SequentialFrame) Next() (schema.StepRecord, bool) {
	if f.cursor >= len(f.steps) {
		return schema.StepRecord{}, false
	}
	return f.steps[f.cursor], true
}

// BranchState tracks one sub-sequence of a parallel split.
type BranchState struct {
	steps    []schema.StepRecord
	cursor   int
	delay    int
	finished bool
}

func newBranch(steps []schema.StepRecord) *BranchState {
	return &BranchState{steps: steps}
}

func (b *BranchState) Cursor() int    { return b.cursor }
func (b *BranchState) Finished() bool { return b.finished }
func (b *BranchState) Delay() int     { return b.delay }
func (b *BranchState) advance()       { b.cursor++ }
func (b *BranchState) finish()        { b.finished = true }

// Next returns the step at the cursor, if any.
func (b *BranchState) Next() (schema.StepRecord, bool) {
	if b.finished || b.cursor >= len(b.steps) {
		return schema.StepRecord{}, false
	}
	return b.steps[b.cursor], true
}

func (b *BranchState) delaying() bool {
	if b.delay <= 0 {
		return false
	}
	b.delay--
	return b.delay > 0
}

func (b *BranchState) setDelay(ticks int) {
	if ticks <= 0 {
		b.delay = 0
		return
	}
	b.delay = ticks
}

// ParallelFrame holds the branches of one parallel split.
type ParallelFrame struct {
	branches []*BranchState
	opener   int // branch whose step pushed the scope above this frame
}

func (f *ParallelFrame) Kind() FrameKind { return FrameParallel }

// Finished reports whether every branch finished. A nil branch counts as finished.
func (f *ParallelFrame) Finished() bool {
	for _, b := range f.branches {
		if b != nil && !b.finished {
			return false
		}
	}
	return true
}

// Branches returns the branch states in declaration order.
func (f *ParallelFrame) Branches() []*BranchState { return f.branches }

// Branch returns branch i, or nil when out of range.
func (f *ParallelFrame) Branch(i int) *BranchState {
	if i < 0 || i >= len(f.branches) {
		return nil
	}
	return f.branches[i]
}
