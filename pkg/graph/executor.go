package graph

import (
	"context"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/recipespec"
)

// PhaseRunner executes one phase's work for a node. pkg/handlers
// implements this; pkg/graph only calls through the interface so it
// never imports pkg/handlers (handlers, in turn, imports pkg/graph to
// read node state while running a phase).
type PhaseRunner interface {
	RunPhase(ctx context.Context, node *Node, phase recipespec.Phase) error
}

// startExecutor launches the node's single executor goroutine if one
// is not already running (§4.5: "each node has at most one executor
// thread").
func (n *Node) startExecutor(ctx context.Context, runner PhaseRunner) {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return
	}
	n.started = true
	n.mu.Unlock()

	go n.executorLoop(ctx, runner)
}

// executorLoop is the phase state machine's thread loop (§4.5), run
// once per node for the life of the process.
func (n *Node) executorLoop(ctx context.Context, runner PhaseRunner) {
	for {
		n.mu.Lock()
		for n.target <= n.current && !n.shutdown {
			n.cond.Wait()
		}
		if n.shutdown {
			n.mu.Unlock()
			return
		}
		next := n.current + 1
		target := n.target
		deps := make(map[string]DepEdge, len(n.Dependencies))
		for k, v := range n.Dependencies {
			deps[k] = v
		}
		n.mu.Unlock()

		nextPhase := recipespec.Phase("")
		for p, ord := range phaseByOrdinal {
			if ord == next {
				nextPhase = p
			}
		}
		if nextPhase == "" {
			return
		}

		for _, edge := range deps {
			if next >= edge.NeededBy.Ordinal() {
				if err := edge.Node.EnsureAt(recipespec.PhaseCompletion); err != nil {
					n.fail(envyerrors.Wrap(envyerrors.KindPhaseFailure, n.CanonicalKey, "dependency failed", err).WithPhase(string(nextPhase)))
					return
				}
			}
		}

		if nextPhase != recipespec.PhaseCompletion {
			if err := runner.RunPhase(ctx, n, nextPhase); err != nil {
				n.fail(err)
				return
			}
		}

		n.mu.Lock()
		n.current = next
		done := next == target && nextPhase == recipespec.PhaseCompletion
		n.cond.Broadcast()
		n.mu.Unlock()
		if done {
			return
		}
	}
}

var phaseByOrdinal = map[recipespec.Phase]int{
	recipespec.PhaseRecipeFetch: 0,
	recipespec.PhaseCheck:       1,
	recipespec.PhaseFetch:       2,
	recipespec.PhaseStage:       3,
	recipespec.PhaseBuild:       4,
	recipespec.PhaseInstall:     5,
	recipespec.PhaseDeploy:      6,
	recipespec.PhaseCompletion: 7,
}

func (n *Node) fail(err *envyerrors.Error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err == nil {
		n.err = err
	}
	n.cond.Broadcast()
}

// StartTo implements §4.5 start_to: lazily starts the executor and
// raises target_phase to max(target, current target) ("target
// extension").
func (n *Node) StartTo(ctx context.Context, runner PhaseRunner, target recipespec.Phase) {
	n.mu.Lock()
	if target.Ordinal() > n.target {
		n.target = target.Ordinal()
	}
	n.cond.Broadcast()
	n.mu.Unlock()

	n.startExecutor(ctx, runner)
}

// Shutdown wakes the executor so it can exit without completing,
// releasing any EnsureAt waiters with the node's (possibly nil) error.
func (n *Node) Shutdown() {
	n.mu.Lock()
	n.shutdown = true
	n.cond.Broadcast()
	n.mu.Unlock()
}
