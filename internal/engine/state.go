package engine

import (
	"github.com/rendis/skillscript/internal/actions"
	"github.com/rendis/skillscript/pkg/schema"
)

// ExecutionState is the explicit call stack of one task plus the delay
// counter used while the top frame is sequential.
type ExecutionState struct {
	frames      []Frame
	globalDelay int

	pushes int
	pops   int
}

var _ actions.FlowControl = (*ExecutionState)(nil)

// NewExecutionState starts with one block frame holding the script's
// top-level steps. An empty script yields an already finished state.
func NewExecutionState(steps []schema.StepRecord) *ExecutionState {
	s := &ExecutionState{}
	s.PushBlock(steps)
	return s
}

func (s *ExecutionState) push(f Frame) {
	s.frames = append(s.frames, f)
	s.pushes++
}

// PushBlock opens a sequential block. Empty step lists are ignored.
func (s *ExecutionState) PushBlock(steps []schema.StepRecord) bool {
	if len(steps) == 0 {
		return false
	}
	s.push(&SequentialFrame{kind: FrameBlock, steps: steps})
	return true
}

// PushNumericLoop opens a counting loop and binds variable to start. Nothing
// is pushed when the range is empty or step is zero.
func (s *ExecutionState) PushNumericLoop(variable string, start, end, step float64, body []schema.StepRecord, vars actions.Variables) bool {
	loop := NewNumericLoop(variable, start, end, step)
	if !loop.ShouldContinue() {
		return false
	}
	s.push(&SequentialFrame{kind: FrameNumericLoop, steps: body, loop: loop})
	vars.Set(variable, start)
	return true
}

// PushListLoop opens a loop over a snapshot of items and binds variable to
// the first item. Empty lists are ignored.
func (s *ExecutionState) PushListLoop(variable string, items []any, body []schema.StepRecord, vars actions.Variables) bool {
	if len(items) == 0 {
		return false
	}
	loop := NewListLoop(variable, items)
	s.push(&SequentialFrame{kind: FrameListLoop, steps: body, loop: loop})
	vars.Set(variable, loop.Value())
	return true
}

// PushParallel opens one branch per step list. An empty split is ignored.
func (s *ExecutionState) PushParallel(branches [][]schema.StepRecord) bool {
	if len(branches) == 0 {
		return false
	}
	f := &ParallelFrame{branches: make([]*BranchState, len(branches))}
	for i, steps := range branches {
		f.branches[i] = newBranch(steps)
	}
	s.push(f)
	return true
}

// IsFinished reports whether the stack is empty.
func (s *ExecutionState) IsFinished() bool {
	return len(s.frames) == 0
}

// Top returns the frame currently making progress, or nil.
func (s *ExecutionState) Top() Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Depth returns the number of frames on the stack.
func (s *ExecutionState) Depth() int {
	return len(s.frames)
}

// IsTopFrameFinished reports whether the top frame has nothing left to run.
// An empty stack counts as finished.
func (s *ExecutionState) IsTopFrameFinished() bool {
	top := s.Top()
	return top == nil || top.Finished()
}

// PopFrame removes the top frame. A loop frame whose loop continues is put
// back with its cursor rewound and the loop variable bound to the next value.
// When the pop uncovers a parallel frame, a pending global delay moves to
// the branch that opened the popped scope.
func (s *ExecutionState) PopFrame(vars actions.Variables) {
	if len(s.frames) == 0 {
		return
	}
	top := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	s.pops++
	defer s.resumeSplit()

	seq, ok := top.(*SequentialFrame)
	if !ok || seq.loop == nil {
		return
	}
	seq.loop.Next()
	if !seq.loop.ShouldContinue() {
		return
	}
	seq.cursor = 0
	vars.Set(seq.loop.variable, seq.loop.Value())
	s.push(seq)
}

func (s *ExecutionState) resumeSplit() {
	p, ok := s.Top().(*ParallelFrame)
	if !ok || s.globalDelay <= 0 {
		return
	}
	if b := p.Branch(p.opener); b != nil {
		b.setDelay(s.globalDelay)
	}
	s.globalDelay = 0
}

// IsGloballyDelaying ticks the global delay down once and reports whether
// the task must keep waiting. Call at most once per tick.
func (s *ExecutionState) IsGloballyDelaying() bool {
	if s.globalDelay <= 0 {
		return false
	}
	s.globalDelay--
	return s.globalDelay > 0
}

// SetGlobalDelay sets the global delay; ticks <= 0 clears it.
func (s *ExecutionState) SetGlobalDelay(ticks int) {
	if ticks <= 0 {
		s.globalDelay = 0
		return
	}
	s.globalDelay = ticks
}

// GlobalDelay returns the remaining global delay.
func (s *ExecutionState) GlobalDelay() int {
	return s.globalDelay
}

// IsBranchDelaying is IsGloballyDelaying for branch i of the top parallel
// frame. It is false when the top frame is not parallel or i is out of range.
func (s *ExecutionState) IsBranchDelaying(i int) bool {
	b := s.topBranch(i)
	return b != nil && b.delaying()
}

// SetBranchDelay is SetGlobalDelay for branch i of the top parallel frame.
func (s *ExecutionState) SetBranchDelay(i, ticks int) {
	if b := s.topBranch(i); b != nil {
		b.setDelay(ticks)
	}
}

func (s *ExecutionState) topBranch(i int) *BranchState {
	p, ok := s.Top().(*ParallelFrame)
	if !ok {
		return nil
	}
	return p.Branch(i)
}

// Pushes and Pops count stack operations over the state's lifetime,
// including the re-push of a continuing loop.
func (s *ExecutionState) Pushes() int { return s.pushes }
func (s *ExecutionState) Pops() int   { return s.pops }

// unwind drops frames above depth, undoing pushes made by a rejected step.
func (s *ExecutionState) unwind(depth int) {
	for len(s.frames) > depth {
		s.frames[len(s.frames)-1] = nil
		s.frames = s.frames[:len(s.frames)-1]
		s.pops++
	}
}
