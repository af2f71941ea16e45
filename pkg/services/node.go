package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
)

// CreateNodeRequest represents the request to create a new workflow node.
type CreateNodeRequest struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type"               validate:"required"`
	Name     string         `json:"name"`
	Config   map[string]any `json:"config"`
	Disabled bool           `json:"disabled,omitempty"`
}

// UpdateNodeRequest represents the request to update an existing workflow node.
type UpdateNodeRequest struct {
	Name     string         `json:"name"`
	Config   map[string]any `json:"config"`
	Disabled bool           `json:"disabled,omitempty"`
}

// Node edits the nodes embedded in a draft or paused workflow.
type Node struct {
	workflows *Workflow
}

// NewNode creates a new node service.
func NewNode(workflows *Workflow) *Node {
	return &Node{workflows: workflows}
}

// CreateNode appends a node to the workflow. The node type is kept as
// given; unknown kinds are rejected at publish time.
func (n *Node) CreateNode(ctx context.Context, workflowID string, req *CreateNodeRequest) (*models.Node, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}

	err := n.workflows.validate.Struct(req)
	if err != nil {
		return nil, NewValidationError("CreateNode", "VALIDATION_ERROR", err.Error(), ErrInvalidRequest)
	}

	if !slices.Contains(models.NodeKinds(), models.NodeKind(req.Type)) {
		return nil, NewValidationError(
			"CreateNode",
			"VALIDATION_ERROR",
			fmt.Sprintf("unknown node type '%s'", req.Type),
			ErrInvalidRequest,
		)
	}

	node := &models.Node{
		ID:       req.ID,
		Type:     models.NodeKind(req.Type),
		Name:     req.Name,
		Config:   req.Config,
		Disabled: req.Disabled,
	}

	if node.ID == "" {
		node.ID = uuid.NewString()
	}

	if node.Config == nil {
		node.Config = make(map[string]any)
	}

	_, err = n.workflows.modify(ctx, "CreateNode", workflowID, func(workflow *models.Workflow) error {
		if _, exists := workflow.NodeByID(node.ID); exists {
			return NewValidationError("CreateNode", "VALIDATION_ERROR", fmt.Sprintf("node '%s' already exists", node.ID), ErrDuplicateNode)
		}

		workflow.Nodes = append(workflow.Nodes, node)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return node, nil
}

// GetNode retrieves a specific node from the specified workflow.
func (n *Node) GetNode(ctx context.Context, workflowID, nodeID string) (*models.Node, error) {
	workflow, err := n.workflows.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	node, ok := workflow.NodeByID(nodeID)
	if !ok {
		return nil, ErrNodeNotFound
	}

	return node, nil
}

// UpdateNode replaces the name, config and disabled flag of a node. The
// node type never changes.
func (n *Node) UpdateNode(ctx context.Context, workflowID, nodeID string, req *UpdateNodeRequest) (*models.Node, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}

	var updated *models.Node

	_, err := n.workflows.modify(ctx, "UpdateNode", workflowID, func(workflow *models.Workflow) error {
		node, ok := workflow.NodeByID(nodeID)
		if !ok {
			return ErrNodeNotFound
		}

		node.Name = req.Name
		node.Config = req.Config
		node.Disabled = req.Disabled

		if node.Config == nil {
			node.Config = make(map[string]any)
		}

		updated = node

		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteNode deletes a node and every edge touching it.
func (n *Node) DeleteNode(ctx context.Context, workflowID, nodeID string) error {
	_, err := n.workflows.modify(ctx, "DeleteNode", workflowID, func(workflow *models.Workflow) error {
		before := len(workflow.Nodes)

		workflow.Nodes = slices.DeleteFunc(workflow.Nodes, func(node *models.Node) bool {
			return node.ID == nodeID
		})
		if len(workflow.Nodes) == before {
			return ErrNodeNotFound
		}

		workflow.Edges = slices.DeleteFunc(workflow.Edges, func(edge *models.Edge) bool {
			return edge.Source == nodeID || edge.Target == nodeID
		})

		return nil
	})

	return err
}
