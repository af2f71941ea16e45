// Package mongodb provides the MongoDB persistence implementation. Claims
// use FindOneAndUpdate on the pending status so only one worker can match
// a job; execution updates are conditional on the stored revision.
package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultDatabase = "netpad"

	workflowsCollection  = "workflows"
	versionsCollection   = "workflow_versions"
	jobsCollection       = "jobs"
	executionsCollection = "executions"
	logsCollection       = "execution_logs"
	countersCollection   = "counters"
	documentsPrefix      = "data_"
)

// Persistence implements the persistence layer for MongoDB.
type Persistence struct {
	client     *mongo.Client
	logger     *slog.Logger
	workflows  *WorkflowRepository
	jobs       *JobRepository
	executions *ExecutionRepository
	logs       *LogRepository
	documents  *DocumentStore
}

// NewPersistence connects to uri and ensures the indexes exist. The database
// name is taken from the URI path and defaults to "netpad".
func NewPersistence(ctx context.Context, logger *slog.Logger, uri string) (*Persistence, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	err = client.Ping(ctx, nil)
	if err != nil {
		_ = client.Disconnect(ctx)

		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(databaseName(uri))
	logger = logger.With("module", "mongodb")

	err = ensureIndexes(ctx, db)
	if err != nil {
		_ = client.Disconnect(ctx)

		return nil, err
	}

	return &Persistence{
		client:     client,
		logger:     logger,
		workflows:  &WorkflowRepository{coll: db.Collection(workflowsCollection), versions: db.Collection(versionsCollection)},
		jobs:       &JobRepository{coll: db.Collection(jobsCollection)},
		executions: &ExecutionRepository{
			coll:     db.Collection(executionsCollection),
			logs:     db.Collection(logsCollection),
			counters: db.Collection(countersCollection),
		},
		logs:       &LogRepository{coll: db.Collection(logsCollection), counters: db.Collection(countersCollection)},
		documents:  &DocumentStore{db: db},
	}, nil
}

func (p *Persistence) Workflows() persistence.WorkflowRepository   { return p.workflows }
func (p *Persistence) Jobs() persistence.JobRepository             { return p.jobs }
func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executions }
func (p *Persistence) Logs() persistence.LogRepository             { return p.logs }

// Documents returns the store backing data_query and data_write nodes.
// Each logical collection maps to a "data_" prefixed MongoDB collection.
func (p *Persistence) Documents() persistence.DocumentStore { return p.documents }

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return nil
}

func (p *Persistence) Close(ctx context.Context) error {
	err := p.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}

	return nil
}

func databaseName(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return defaultDatabase
	}

	name := strings.Trim(parsed.Path, "/")
	if name == "" {
		return defaultDatabase
	}

	return name
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		workflowsCollection: {
			{Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		jobsCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "run_at", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "execution_id", Value: 1}}},
		},
		executionsCollection: {
			{Keys: bson.D{{Key: "workflow_id", Value: 1}}},
			{Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		logsCollection: {
			{
				Keys:    bson.D{{Key: "execution_id", Value: 1}, {Key: "sequence", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}

	for name, specs := range indexes {
		_, err := db.Collection(name).Indexes().CreateMany(ctx, specs)
		if err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", name, err)
		}
	}

	return nil
}

// normalize turns driver container types into the plain maps and slices
// the expression resolver and node executors work with.
func normalize(value any) any {
	switch v := value.(type) {
	case primitive.D:
		out := make(map[string]any, len(v))
		for _, e := range v {
			out[e.Key] = normalize(e.Value)
		}

		return out
	case primitive.M:
		return normalizeMap(v)
	case map[string]any:
		return normalizeMap(v)
	case primitive.A:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}

		return out
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.ObjectID:
		return v.Hex()
	default:
		return value
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}

	return out
}

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := t.UTC()

	return &v
}
