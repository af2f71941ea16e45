package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ExecutionRepository struct {
	coll     *mongo.Collection
	logs     *mongo.Collection
	counters *mongo.Collection
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	_, err := r.coll.InsertOne(ctx, execution)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrDuplicate)
		}

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Get(ctx context.Context, id string) (*models.Execution, error) {
	var execution models.Execution

	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&execution)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, persistence.NewExecutionError("Get", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("Get", id, err)
	}

	return normalizeExecution(&execution), nil
}

// Update replaces the document only while its revision is unchanged.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	expected := execution.Revision
	next := *execution
	next.Revision = expected + 1

	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": execution.ID, "revision": expected}, &next)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if result.MatchedCount == 0 {
		count, err := r.coll.CountDocuments(ctx, bson.M{"_id": execution.ID})
		if err != nil {
			return persistence.NewExecutionError("Update", execution.ID, err)
		}

		if count == 0 {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrConflict)
	}

	execution.Revision = next.Revision

	return nil
}

func (r *ExecutionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.logs.DeleteMany(ctx, bson.M{"execution_id": id})
	if err != nil {
		return persistence.NewExecutionError("Delete", id, err)
	}

	_, err = r.counters.DeleteOne(ctx, bson.M{"_id": "log:" + id})
	if err != nil {
		return persistence.NewExecutionError("Delete", id, err)
	}

	_, err = r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return persistence.NewExecutionError("Delete", id, err)
	}

	return nil
}

func (r *ExecutionRepository) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	query := bson.M{}
	if filter.OrgID != "" {
		query["org_id"] = filter.OrgID
	}

	if filter.WorkflowID != "" {
		query["workflow_id"] = filter.WorkflowID
	}

	if filter.Status != "" {
		query["status"] = filter.Status
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	var executions []*models.Execution

	err = cursor.All(ctx, &executions)
	if err != nil {
		return nil, fmt.Errorf("failed to decode executions: %w", err)
	}

	out := make([]*models.Execution, 0, len(executions))
	for _, execution := range executions {
		out = append(out, normalizeExecution(execution))
	}

	return out, nil
}

func normalizeExecution(execution *models.Execution) *models.Execution {
	execution.Trigger.Payload = normalizeMap(execution.Trigger.Payload)
	execution.Context = normalizeMap(execution.Context)

	if execution.Result != nil {
		execution.Result.Output = normalizeMap(execution.Result.Output)
	}

	if execution.CompletedNodes == nil {
		execution.CompletedNodes = []string{}
	}

	if execution.FailedNodes == nil {
		execution.FailedNodes = []string{}
	}

	for nodeID, at := range execution.Suspended {
		execution.Suspended[nodeID] = at.UTC()
	}

	execution.StartedAt = utcPtr(execution.StartedAt)
	execution.ResumedAt = utcPtr(execution.ResumedAt)
	execution.AttemptedAt = utcPtr(execution.AttemptedAt)
	execution.CompletedAt = utcPtr(execution.CompletedAt)
	execution.CreatedAt = utc(execution.CreatedAt)
	execution.UpdatedAt = utc(execution.UpdatedAt)

	return execution
}
