// Package calltree tracks the operations and child model calls of the
// recursive engine: who spawned whom, what is still running, how much budget
// and money each operation has consumed, and the cancellation fan-out.
package calltree

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a call node's lifecycle state. All non-running states are
// terminal.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// MaxInstructionPreview bounds the instruction excerpt stored on a node.
const MaxInstructionPreview = 200

// CallNode is one child model call in the tree.
type CallNode struct {
	ID           string        `json:"id"`
	ParentID     string        `json:"parent_id,omitempty"`
	OperationID  string        `json:"operation_id"`
	Depth        int           `json:"depth"`
	Model        string        `json:"model"`
	Instructions string        `json:"instructions"` // truncated preview
	Status       Status        `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Children     []*CallNode   `json:"children,omitempty"`
}

// Operation is a top-level recursive action (query or batch) owning a
// cancellation handle and a child-call budget.
type Operation struct {
	ID            string
	Token         *Token
	RootCallID    string
	ChildCalls    int
	EstimatedCost float64
	ActualCost    float64
	StartedAt     time.Time
	Completed     bool
}

// CallUpdate is a partial call-node mutation; nil fields are left unchanged.
type CallUpdate struct {
	Status       *Status
	Duration     *time.Duration
	InputTokens  *int
	OutputTokens *int
	RootCallID   string // convenience: also set the owning operation's root
}

// Tree holds all operations and call nodes for one session.
type Tree struct {
	mu            sync.Mutex
	maxChildCalls int
	ops           map[string]*Operation
	calls         map[string]*CallNode
	roots         []*CallNode
}

// New creates a tree with the given per-operation child-call budget.
func New(maxChildCalls int) *Tree {
	return &Tree{
		maxChildCalls: maxChildCalls,
		ops:           make(map[string]*Operation),
		calls:         make(map[string]*CallNode),
	}
}

// SetMaxChildCalls updates the budget at runtime.
func (t *Tree) SetMaxChildCalls(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxChildCalls = n
}

// RegisterOperation creates an operation with an estimated cost and returns
// it together with its cancellation token.
func (t *Tree) RegisterOperation(estimatedCost float64) *Operation {
	op := &Operation{
		ID:            "op-" + uuid.NewString(),
		Token:         NewToken(),
		EstimatedCost: estimatedCost,
		StartedAt:     time.Now(),
	}
	t.mu.Lock()
	t.ops[op.ID] = op
	t.mu.Unlock()
	return op
}

// IncrementChildCalls bumps the operation's counter and reports whether the
// budget is still respected. Unknown operations are over budget by
// definition.
func (t *Tree) IncrementChildCalls(opID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[opID]
	if !ok {
		return false
	}
	op.ChildCalls++
	return op.ChildCalls <= t.maxChildCalls
}

// RegisterCall attaches a node to its parent's children, or to the roots list
// when parentless.
func (t *Tree) RegisterCall(node *CallNode) {
	if len(node.Instructions) > MaxInstructionPreview {
		node.Instructions = node.Instructions[:MaxInstructionPreview]
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[node.ID] = node
	if parent, ok := t.calls[node.ParentID]; ok && node.ParentID != "" {
		parent.Children = append(parent.Children, node)
		return
	}
	t.roots = append(t.roots, node)
	if op, ok := t.ops[node.OperationID]; ok && op.RootCallID == "" {
		op.RootCallID = node.ID
	}
}

// UpdateCall merges partial state into a node. Unknown ids are ignored.
func (t *Tree) UpdateCall(id string, update CallUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.calls[id]
	if !ok {
		return
	}
	if update.Status != nil {
		node.Status = *update.Status
	}
	if update.Duration != nil {
		node.Duration = *update.Duration
	}
	if update.InputTokens != nil {
		node.InputTokens += *update.InputTokens
	}
	if update.OutputTokens != nil {
		node.OutputTokens += *update.OutputTokens
	}
}

// AbortOperation fires only that operation's token.
func (t *Tree) AbortOperation(opID string) {
	t.mu.Lock()
	op, ok := t.ops[opID]
	t.mu.Unlock()
	if ok {
		op.Token.Abort(AbortReasonCancelled)
	}
}

// AbortAll fires every operation's token.
func (t *Tree) AbortAll() {
	t.mu.Lock()
	ops := make([]*Operation, 0, len(t.ops))
	for _, op := range t.ops {
		ops = append(ops, op)
	}
	t.mu.Unlock()
	for _, op := range ops {
		op.Token.Abort(AbortReasonCancelled)
	}
}

// GetActive returns all running call nodes, depth-first from the roots.
func (t *Tree) GetActive() []*CallNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	var active []*CallNode
	var walk func(nodes []*CallNode)
	walk = func(nodes []*CallNode) {
		for _, n := range nodes {
			if n.Status == StatusRunning {
				active = append(active, n)
			}
			walk(n.Children)
		}
	}
	walk(t.roots)
	return active
}

// MaxActiveDepth returns the maximum depth among running nodes, or 0 when
// nothing runs.
func (t *Tree) MaxActiveDepth() int {
	max := 0
	for _, n := range t.GetActive() {
		if n.Depth > max {
			max = n.Depth
		}
	}
	return max
}

// GetTree returns the root call nodes.
func (t *Tree) GetTree() []*CallNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	roots := make([]*CallNode, len(t.roots))
	copy(roots, t.roots)
	return roots
}

// GetActiveOperation returns the most recently started incomplete operation,
// or nil.
func (t *Tree) GetActiveOperation() *Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ops []*Operation
	for _, op := range t.ops {
		if !op.Completed {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return nil
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].StartedAt.After(ops[j].StartedAt) })
	return ops[0]
}

// AddActualCost accumulates dollars onto an operation.
func (t *Tree) AddActualCost(opID string, delta float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op, ok := t.ops[opID]; ok {
		op.ActualCost += delta
	}
}

// GetOperationEstimate returns the estimated cost, or 0 for unknown ids.
func (t *Tree) GetOperationEstimate(opID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op, ok := t.ops[opID]; ok {
		return op.EstimatedCost
	}
	return 0
}

// GetOperationActual returns the accumulated actual cost.
func (t *Tree) GetOperationActual(opID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op, ok := t.ops[opID]; ok {
		return op.ActualCost
	}
	return 0
}

// GetOperation returns the operation entry, or nil.
func (t *Tree) GetOperation(opID string) *Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ops[opID]
}

// CompleteOperation marks the operation finished and removes it from the
// active set. Its call nodes remain in the tree for inspection.
func (t *Tree) CompleteOperation(opID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op, ok := t.ops[opID]; ok {
		op.Completed = true
		delete(t.ops, opID)
	}
}
