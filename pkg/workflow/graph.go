package workflow

import (
	"slices"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/expression"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/conditional"
)

// graph is the static adjacency of a workflow version.
type graph struct {
	order    []*models.Node
	nodes    map[string]*models.Node
	inbound  map[string][]*models.Edge
	outbound map[string][]*models.Edge
}

func newGraph(wf *models.Workflow) *graph {
	g := &graph{
		nodes:    make(map[string]*models.Node, len(wf.Nodes)),
		inbound:  make(map[string][]*models.Edge),
		outbound: make(map[string][]*models.Edge),
	}

	for _, node := range wf.Nodes {
		if node == nil {
			continue
		}

		g.order = append(g.order, node)
		g.nodes[node.ID] = node
	}

	for _, edge := range wf.Edges {
		if edge == nil {
			continue
		}

		g.inbound[edge.Target] = append(g.inbound[edge.Target], edge)
		g.outbound[edge.Source] = append(g.outbound[edge.Source], edge)
	}

	return g
}

// isSink reports whether no edge leaves the node.
func (g *graph) isSink(nodeID string) bool {
	return len(g.outbound[nodeID]) == 0
}

// runnable is a node the walker may execute now.
type runnable struct {
	node      *models.Node
	resumedAt *time.Time
}

// plan is the walker's view of one step.
type plan struct {
	skips   []models.SkippedNode
	ready   []runnable
	waiting []time.Time
}

// earliestResume returns the first time a suspended node becomes runnable.
func (p plan) earliestResume() time.Time {
	return slices.MinFunc(p.waiting, func(a, b time.Time) int { return a.Compare(b) })
}

// nodeState is the decided outcome of one node within an execution.
type nodeState int

const (
	stateUndecided nodeState = iota
	stateCompleted
	stateFailed
	stateSkipped
	stateDependencyFailed
)

// planStep decides every node it can from the persisted execution state:
// skips propagate to a fixpoint, then the nodes whose inputs are all
// decided and that have an active inbound edge are ready.
func (g *graph) planStep(exec *models.Execution, roots map[string]bool, now time.Time) plan {
	states := make(map[string]nodeState, len(g.order))

	for _, id := range exec.CompletedNodes {
		states[id] = stateCompleted
	}

	for _, id := range exec.FailedNodes {
		states[id] = stateFailed
	}

	for _, skipped := range exec.SkippedNodes {
		states[skipped.NodeID] = stateSkipped
		if skipped.Reason == models.SkipReasonDependencyFailed {
			states[skipped.NodeID] = stateDependencyFailed
		}
	}

	taken := make(map[string]bool, len(exec.TakenEdges))
	for _, key := range exec.TakenEdges {
		taken[key] = true
	}

	var p plan

	for changed := true; changed; {
		changed = false

		for _, node := range g.order {
			if states[node.ID] != stateUndecided {
				continue
			}

			if _, suspended := exec.Suspended[node.ID]; suspended {
				continue
			}

			reason, skip := g.skipReason(node, states, taken, roots)
			if !skip {
				continue
			}

			p.skips = append(p.skips, models.SkippedNode{NodeID: node.ID, Reason: reason})
			states[node.ID] = stateSkipped

			if reason == models.SkipReasonDependencyFailed {
				states[node.ID] = stateDependencyFailed
			}

			changed = true
		}
	}

	for _, node := range g.order {
		if states[node.ID] != stateUndecided {
			continue
		}

		if resumeAt, suspended := exec.Suspended[node.ID]; suspended {
			if resumeAt.After(now) {
				p.waiting = append(p.waiting, resumeAt)

				continue
			}

			at := resumeAt
			p.ready = append(p.ready, runnable{node: node, resumedAt: &at})

			continue
		}

		if g.isReady(node, states, taken, roots) {
			p.ready = append(p.ready, runnable{node: node})
		}
	}

	return p
}

func (g *graph) skipReason(node *models.Node, states map[string]nodeState, taken map[string]bool, roots map[string]bool) (models.SkipReason, bool) {
	inbound := g.inbound[node.ID]

	if len(inbound) == 0 {
		if node.Type == models.NodeKindTrigger {
			if roots[node.ID] {
				return "", false
			}

			return models.SkipReasonInactiveTrigger, true
		}

		return models.SkipReasonBranchNotTaken, true
	}

	for _, edge := range inbound {
		if states[edge.Source] == stateUndecided {
			return "", false
		}
	}

	for _, edge := range inbound {
		if s := states[edge.Source]; s == stateFailed || s == stateDependencyFailed {
			return models.SkipReasonDependencyFailed, true
		}
	}

	for _, edge := range inbound {
		if taken[edge.Key()] {
			return "", false
		}
	}

	return models.SkipReasonBranchNotTaken, true
}

func (g *graph) isReady(node *models.Node, states map[string]nodeState, taken map[string]bool, roots map[string]bool) bool {
	inbound := g.inbound[node.ID]
	if len(inbound) == 0 {
		return node.Type == models.NodeKindTrigger && roots[node.ID]
	}

	for _, edge := range inbound {
		if states[edge.Source] == stateUndecided {
			return false
		}
	}

	for _, edge := range inbound {
		if taken[edge.Key()] {
			return true
		}
	}

	return false
}

// handleMatches reports whether an edge leaving a node that selected
// branch may be followed. A node that selects no branch lets every edge
// through; an unlabelled edge follows only the true branch, so a
// conditional with a single plain edge acts as a guard.
func handleMatches(edge *models.Edge, branch string) bool {
	if branch == "" {
		return true
	}

	if edge.SourceHandle == "" {
		return branch == conditional.BranchTrue
	}

	return edge.SourceHandle == branch
}

// activeEdges routes the output of a completed node. Non-default edges are
// taken when their handle matches and their condition holds. Default edges
// are taken only when no other edge is. Conditions that fail to evaluate
// count as false and are reported through onError.
func (g *graph) activeEdges(nodeID, branch string, scope expression.Scope, onError func(*models.Edge, error)) []string {
	var active, defaults []string

	for _, edge := range g.outbound[nodeID] {
		if edge.IsDefault() {
			defaults = append(defaults, edge.Key())

			continue
		}

		if !handleMatches(edge, branch) {
			continue
		}

		ok, err := expression.EvalCondition(edge.Condition, scope)
		if err != nil {
			onError(edge, err)

			continue
		}

		if ok {
			active = append(active, edge.Key())
		}
	}

	if len(active) == 0 {
		return defaults
	}

	return active
}
