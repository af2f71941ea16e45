package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type WorkflowRepository struct {
	coll     *mongo.Collection
	versions *mongo.Collection
}

// versionDocument is one published snapshot, keyed "<workflow id>@<version>".
type versionDocument struct {
	ID         string           `bson:"_id"`
	WorkflowID string           `bson:"workflow_id"`
	Version    int              `bson:"version"`
	Definition *models.Workflow `bson:"definition"`
}

func versionKey(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

// Save upserts the whole workflow document.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewWorkflowError("Save", "", err)
		}

		workflow.ID = id.String()
	}

	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": workflow.ID}, workflow, options.Replace().SetUpsert(true))
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&workflow)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return normalizeWorkflow(&workflow), nil
}

func (r *WorkflowRepository) List(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	query := bson.M{}
	if filter.OrgID != "" {
		query["org_id"] = filter.OrgID
	}

	if filter.Status != "" {
		query["status"] = filter.Status
	}

	cursor, err := r.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	var workflows []*models.Workflow

	err = cursor.All(ctx, &workflows)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflows: %w", err)
	}

	out := make([]*models.Workflow, 0, len(workflows))
	for _, workflow := range workflows {
		out = append(out, normalizeWorkflow(workflow))
	}

	return out, nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.versions.DeleteMany(ctx, bson.M{"workflow_id": id})
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if result.DeletedCount == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) SaveVersion(ctx context.Context, workflow *models.Workflow) error {
	key := versionKey(workflow.ID, workflow.Version)
	doc := versionDocument{ID: key, WorkflowID: workflow.ID, Version: workflow.Version, Definition: workflow}

	_, err := r.versions.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return persistence.NewWorkflowError("SaveVersion", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	var doc versionDocument

	err := r.versions.FindOne(ctx, bson.M{"_id": versionKey(id, version)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, persistence.NewWorkflowError("GetVersion", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetVersion", id, err)
	}

	if doc.Definition == nil {
		return nil, persistence.NewWorkflowError("GetVersion", id, persistence.ErrWorkflowNotFound)
	}

	return normalizeWorkflow(doc.Definition), nil
}

func normalizeWorkflow(workflow *models.Workflow) *models.Workflow {
	workflow.Variables = normalizeMap(workflow.Variables)
	for _, node := range workflow.Nodes {
		node.Config = normalizeMap(node.Config)
	}

	workflow.CreatedAt = utc(workflow.CreatedAt)
	workflow.UpdatedAt = utc(workflow.UpdatedAt)
	workflow.PublishedAt = utcPtr(workflow.PublishedAt)

	return workflow
}
