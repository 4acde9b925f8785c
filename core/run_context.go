package core

import "sync"

// ExecutionContext is the view of a context tree node handed to the engine,
// tool factories and agent tools.
type ExecutionContext interface {
	// Step creates a new child node of the receiver and returns it.
	Step() *StepContext
	// Steps returns the immediate children of the receiver in creation order.
	Steps() []*StepContext
	// History returns the environment's conversation history unchanged.
	History() []Message
	// Environment returns the shared environment of the run.
	Environment() *Environment
	// Writer returns the shared output writer of the run.
	Writer() *Writer
	// SetData replaces the scratch data of the receiver.
	SetData(data map[string]any)
	// Data returns the scratch data of the receiver.
	Data() map[string]any
}

// rootIndex is the arena slot of the RunContext itself.
const rootIndex = 0

// node is one arena slot. Parent and child links are indices into the arena,
// so no node holds a pointer to another node.
type node struct {
	parent   int
	children []int
	data     map[string]any
}

// RunContext is the root of the context tree of one top-level run. It owns
// the arena of all nodes created during the run.
//
// RunContext is safe for concurrent use: sibling tool calls of one model turn
// may create steps and set data at the same time.
type RunContext struct {
	env    *Environment
	writer *Writer

	mu    sync.RWMutex
	nodes []node
}

// NewRunContext creates the root context for env. A nil env is treated as an
// empty environment.
func NewRunContext(env *Environment) *RunContext {
	if env == nil {
		env = &Environment{}
	}

	return &RunContext{
		env:    env,
		writer: NewWriter(env.Sink),
		nodes:  []node{{parent: -1}},
	}
}

// Step implements ExecutionContext.
func (rc *RunContext) Step() *StepContext { return rc.newStep(rootIndex) }

// Steps implements ExecutionContext.
func (rc *RunContext) Steps() []*StepContext { return rc.children(rootIndex) }

// History implements ExecutionContext.
func (rc *RunContext) History() []Message { return rc.env.History }

// Environment implements ExecutionContext.
func (rc *RunContext) Environment() *Environment { return rc.env }

// Writer implements ExecutionContext.
func (rc *RunContext) Writer() *Writer { return rc.writer }

// SetData is a no-op on the root: only steps are ever executed, so only steps
// retain scratch data.
func (rc *RunContext) SetData(map[string]any) {}

// Data always returns nil for the root.
func (rc *RunContext) Data() map[string]any { return nil }

// Len returns the number of nodes in the tree, the root included.
func (rc *RunContext) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return len(rc.nodes)
}

func (rc *RunContext) newStep(parent int) *StepContext {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	idx := len(rc.nodes)
	rc.nodes = append(rc.nodes, node{parent: parent, data: map[string]any{}})
	rc.nodes[parent].children = append(rc.nodes[parent].children, idx)

	return &StepContext{run: rc, index: idx}
}

func (rc *RunContext) children(idx int) []*StepContext {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	ids := rc.nodes[idx].children
	steps := make([]*StepContext, len(ids))

	for i, id := range ids {
		steps[i] = &StepContext{run: rc, index: id}
	}

	return steps
}

func (rc *RunContext) setData(idx int, data map[string]any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.nodes[idx].data = data
}

func (rc *RunContext) data(idx int) map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return rc.nodes[idx].data
}

func (rc *RunContext) parent(idx int) int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return rc.nodes[idx].parent
}

// StepContext is a handle to a non-root node of a RunContext arena. Two
// handles with the same run and index address the same node.
type StepContext struct {
	run   *RunContext
	index int
}

// Step implements ExecutionContext.
func (s *StepContext) Step() *StepContext { return s.run.newStep(s.index) }

// Steps implements ExecutionContext.
func (s *StepContext) Steps() []*StepContext { return s.run.children(s.index) }

// History implements ExecutionContext.
func (s *StepContext) History() []Message { return s.run.env.History }

// Environment implements ExecutionContext.
func (s *StepContext) Environment() *Environment { return s.run.env }

// Writer implements ExecutionContext.
func (s *StepContext) Writer() *Writer { return s.run.writer }

// SetData implements ExecutionContext. The previous map is discarded.
func (s *StepContext) SetData(data map[string]any) { s.run.setData(s.index, data) }

// Data implements ExecutionContext.
func (s *StepContext) Data() map[string]any { return s.run.data(s.index) }

// Run returns the owning RunContext.
func (s *StepContext) Run() *RunContext { return s.run }

// Index returns the arena slot of the step.
func (s *StepContext) Index() int { return s.index }

// Depth returns the distance from the root; direct children of the root have
// depth 1.
func (s *StepContext) Depth() int {
	depth := 0
	for idx := s.index; idx != rootIndex; idx = s.run.parent(idx) {
		depth++
	}

	return depth
}

// Compile-time interface assertions.
var (
	_ ExecutionContext = (*RunContext)(nil)
	_ ExecutionContext = (*StepContext)(nil)
)
