package calltree

import (
	"sync/atomic"
	"testing"
	"time"
)

func runningNode(id, parentID, opID string, depth int) *CallNode {
	return &CallNode{
		ID:          id,
		ParentID:    parentID,
		OperationID: opID,
		Depth:       depth,
		Model:       "claude-sonnet-4-20250514",
		Status:      StatusRunning,
		StartedAt:   time.Now(),
	}
}

func TestChildCallBudget(t *testing.T) {
	tree := New(3)
	op := tree.RegisterOperation(0.01)

	for i := 1; i <= 3; i++ {
		if !tree.IncrementChildCalls(op.ID) {
			t.Fatalf("IncrementChildCalls() call %d = false, want true", i)
		}
	}
	if tree.IncrementChildCalls(op.ID) {
		t.Error("IncrementChildCalls() beyond budget = true, want false")
	}
}

func TestBudgetMutableAtRuntime(t *testing.T) {
	tree := New(1)
	op := tree.RegisterOperation(0)
	tree.IncrementChildCalls(op.ID)
	tree.SetMaxChildCalls(5)
	if !tree.IncrementChildCalls(op.ID) {
		t.Error("IncrementChildCalls() after raising budget = false, want true")
	}
}

func TestUnknownOperationOverBudget(t *testing.T) {
	tree := New(10)
	if tree.IncrementChildCalls("op-missing") {
		t.Error("IncrementChildCalls() for unknown op = true, want false")
	}
}

func TestRegisterCallBuildsTree(t *testing.T) {
	tree := New(10)
	op := tree.RegisterOperation(0)

	root := runningNode("call-1", "", op.ID, 1)
	child := runningNode("call-2", "call-1", op.ID, 2)
	tree.RegisterCall(root)
	tree.RegisterCall(child)

	roots := tree.GetTree()
	if len(roots) != 1 {
		t.Fatalf("len(GetTree()) = %d, want 1", len(roots))
	}
	if len(roots[0].Children) != 1 || roots[0].Children[0].ID != "call-2" {
		t.Errorf("root children = %+v, want [call-2]", roots[0].Children)
	}
	if op.RootCallID != "call-1" {
		t.Errorf("op.RootCallID = %q, want call-1", op.RootCallID)
	}
}

func TestGetActiveAndMaxDepth(t *testing.T) {
	tree := New(10)
	op := tree.RegisterOperation(0)
	tree.RegisterCall(runningNode("call-1", "", op.ID, 1))
	tree.RegisterCall(runningNode("call-2", "call-1", op.ID, 2))
	tree.RegisterCall(runningNode("call-3", "call-2", op.ID, 3))

	status := StatusSuccess
	tree.UpdateCall("call-3", CallUpdate{Status: &status})

	active := tree.GetActive()
	if len(active) != 2 {
		t.Fatalf("len(GetActive()) = %d, want 2", len(active))
	}
	if got := tree.MaxActiveDepth(); got != 2 {
		t.Errorf("MaxActiveDepth() = %d, want 2", got)
	}
}

func TestUpdateCallAccumulatesTokens(t *testing.T) {
	tree := New(10)
	op := tree.RegisterOperation(0)
	tree.RegisterCall(runningNode("call-1", "", op.ID, 1))

	in, out := 100, 50
	tree.UpdateCall("call-1", CallUpdate{InputTokens: &in, OutputTokens: &out})
	tree.UpdateCall("call-1", CallUpdate{InputTokens: &in})

	node := tree.GetTree()[0]
	if node.InputTokens != 200 {
		t.Errorf("InputTokens = %d, want 200", node.InputTokens)
	}
	if node.OutputTokens != 50 {
		t.Errorf("OutputTokens = %d, want 50", node.OutputTokens)
	}
}

func TestAbortOperationIsScoped(t *testing.T) {
	tree := New(10)
	op1 := tree.RegisterOperation(0)
	op2 := tree.RegisterOperation(0)

	tree.AbortOperation(op1.ID)
	if !op1.Token.Aborted() {
		t.Error("aborted operation's token did not fire")
	}
	if op2.Token.Aborted() {
		t.Error("sibling operation's token fired")
	}

	tree.AbortAll()
	if !op2.Token.Aborted() {
		t.Error("AbortAll() left an operation unaborted")
	}
}

func TestCostAccounting(t *testing.T) {
	tree := New(10)
	op := tree.RegisterOperation(0.25)
	tree.AddActualCost(op.ID, 0.10)
	tree.AddActualCost(op.ID, 0.05)

	if got := tree.GetOperationEstimate(op.ID); got != 0.25 {
		t.Errorf("GetOperationEstimate() = %v, want 0.25", got)
	}
	if got := tree.GetOperationActual(op.ID); got < 0.149999 || got > 0.150001 {
		t.Errorf("GetOperationActual() = %v, want 0.15", got)
	}
}

func TestGetActiveOperationMostRecent(t *testing.T) {
	tree := New(10)
	op1 := tree.RegisterOperation(0)
	op1.StartedAt = time.Now().Add(-time.Minute)
	op2 := tree.RegisterOperation(0)

	if got := tree.GetActiveOperation(); got == nil || got.ID != op2.ID {
		t.Errorf("GetActiveOperation() = %v, want %s", got, op2.ID)
	}

	tree.CompleteOperation(op2.ID)
	if got := tree.GetActiveOperation(); got == nil || got.ID != op1.ID {
		t.Errorf("GetActiveOperation() after complete = %v, want %s", got, op1.ID)
	}
}

func TestTokenListeners(t *testing.T) {
	tok := NewToken()
	var fired atomic.Int32

	remove := tok.OnAbort(func(reason string) { fired.Add(1) })
	removed := tok.OnAbort(func(reason string) { fired.Add(100) })
	removed()

	tok.Abort(AbortReasonCancelled)
	tok.Abort("second") // no-op

	if got := fired.Load(); got != 1 {
		t.Errorf("listener fire count = %d, want 1", got)
	}
	if tok.Reason() != AbortReasonCancelled {
		t.Errorf("Reason() = %q, want %q", tok.Reason(), AbortReasonCancelled)
	}
	remove() // removing after fire is a no-op

	// Late listener runs immediately.
	tok.OnAbort(func(reason string) { fired.Add(10) })
	if got := fired.Load(); got != 11 {
		t.Errorf("late listener fire count = %d, want 11", got)
	}
}

func TestComposeWithTimeout(t *testing.T) {
	owner := NewToken()
	child, release := ComposeWithTimeout(owner, 10*time.Millisecond)
	defer release()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child token did not time out")
	}
	if child.Reason() != AbortReasonTimeout {
		t.Errorf("Reason() = %q, want %q", child.Reason(), AbortReasonTimeout)
	}
	if owner.Aborted() {
		t.Error("child timeout propagated to owner")
	}
}

func TestComposeOwnerAbortPropagates(t *testing.T) {
	owner := NewToken()
	child, release := ComposeWithTimeout(owner, time.Minute)
	defer release()

	owner.Abort(AbortReasonCancelled)
	if !child.Aborted() {
		t.Fatal("owner abort did not reach child")
	}
	if child.Reason() != AbortReasonCancelled {
		t.Errorf("Reason() = %q, want %q", child.Reason(), AbortReasonCancelled)
	}
}

func TestComposeReleaseUnsubscribes(t *testing.T) {
	owner := NewToken()
	child, release := ComposeWithTimeout(owner, time.Minute)
	release()

	owner.Abort(AbortReasonCancelled)
	if child.Aborted() {
		t.Error("released child still aborted by owner")
	}
}
