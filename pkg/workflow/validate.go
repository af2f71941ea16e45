package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mrlynn/netpad-v3-sub010/pkg/expression"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
)

// ErrInvalidWorkflow is wrapped by every ValidationError.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// ExecutorLookup resolves a node kind to its executor.
type ExecutorLookup interface {
	Lookup(kind models.NodeKind) (nodes.Executor, error)
}

// ValidationError lists every problem found in a workflow definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return ErrInvalidWorkflow.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidWorkflow
}

var structValidator = validator.New()

// Validate checks that wf can be published: well-formed fields, unique
// node ids, edges between existing nodes, at least one trigger, no cycle
// reachable from a trigger, node configs accepted by their executors and
// edge conditions that compile.
func Validate(wf *models.Workflow, lookup ExecutorLookup) error {
	var problems []string

	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	err := structValidator.Struct(wf)
	if err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				addf("%s failed %q", fe.Namespace(), fe.Tag())
			}
		} else {
			addf("%v", err)
		}
	}

	if len(wf.Nodes) == 0 {
		addf("workflow has no nodes")
	}

	ids := make(map[string]*models.Node, len(wf.Nodes))
	triggers := 0

	for _, node := range wf.Nodes {
		if node == nil || node.ID == "" {
			addf("found node with empty id")

			continue
		}

		if _, dup := ids[node.ID]; dup {
			addf("duplicate node id %q", node.ID)

			continue
		}

		ids[node.ID] = node

		if node.Type == models.NodeKindTrigger {
			triggers++
		}

		executor, err := lookup.Lookup(node.Type)
		if err != nil {
			addf("node %q: %v", node.ID, err)

			continue
		}

		err = executor.Validate(node.Config)
		if err != nil {
			addf("node %q: %v", node.ID, err)
		}
	}

	if triggers == 0 {
		addf("workflow has no trigger node")
	}

	edgeKeys := make(map[string]bool, len(wf.Edges))

	for i, edge := range wf.Edges {
		if edge == nil {
			addf("edge %d is empty", i)

			continue
		}

		if edgeKeys[edge.Key()] {
			addf("duplicate edge %q", edge.Key())
		}

		edgeKeys[edge.Key()] = true

		if _, ok := ids[edge.Source]; !ok {
			addf("edge %q references unknown source node %q", edge.Key(), edge.Source)
		}

		target, ok := ids[edge.Target]
		if !ok {
			addf("edge %q references unknown target node %q", edge.Key(), edge.Target)
		} else if target.Type == models.NodeKindTrigger {
			addf("edge %q targets trigger node %q", edge.Key(), edge.Target)
		}

		err := expression.CheckCondition(edge.Condition)
		if err != nil {
			addf("edge %q condition: %v", edge.Key(), err)
		}
	}

	if len(problems) == 0 {
		if cycle := cycleFromTriggers(wf); len(cycle) > 0 {
			addf("cycle reachable from a trigger through nodes %s", strings.Join(cycle, ", "))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	return nil
}

// cycleFromTriggers runs Kahn's algorithm over the part of the graph
// reachable from trigger nodes and returns the nodes it could not order.
func cycleFromTriggers(wf *models.Workflow) []string {
	g := newGraph(wf)

	reachable := map[string]bool{}
	stack := []string{}

	for _, trigger := range wf.TriggerNodes() {
		reachable[trigger.ID] = true
		stack = append(stack, trigger.ID)
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, edge := range g.outbound[id] {
			if !reachable[edge.Target] {
				reachable[edge.Target] = true
				stack = append(stack, edge.Target)
			}
		}
	}

	indegree := make(map[string]int, len(reachable))
	for id := range reachable {
		for _, edge := range g.inbound[id] {
			if reachable[edge.Source] {
				indegree[id]++
			}
		}
	}

	queue := []string{}
	for id := range reachable {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	ordered := 0

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered++

		for _, edge := range g.outbound[id] {
			indegree[edge.Target]--
			if indegree[edge.Target] == 0 {
				queue = append(queue, edge.Target)
			}
		}
	}

	if ordered == len(reachable) {
		return nil
	}

	var cycle []string

	for _, node := range g.order {
		if reachable[node.ID] && indegree[node.ID] > 0 {
			cycle = append(cycle, node.ID)
		}
	}

	return cycle
}
