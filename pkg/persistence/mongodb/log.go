package mongodb

import (
	"context"
	"fmt"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LogRepository allocates sequence numbers from a per-execution counter
// document, so appends never race for the same number.
type LogRepository struct {
	coll     *mongo.Collection
	counters *mongo.Collection
}

func (r *LogRepository) Append(ctx context.Context, entry *models.ExecutionLog) error {
	var counter struct {
		Seq int64 `bson:"seq"`
	}

	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "log:" + entry.ExecutionID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return fmt.Errorf("failed to allocate log sequence: %w", err)
	}

	entry.Sequence = counter.Seq

	_, err = r.coll.InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}

	return nil
}

func (r *LogRepository) List(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	cursor, err := r.coll.Find(ctx,
		bson.M{"execution_id": executionID},
		options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	var entries []*models.ExecutionLog

	err = cursor.All(ctx, &entries)
	if err != nil {
		return nil, fmt.Errorf("failed to decode execution logs: %w", err)
	}

	out := make([]*models.ExecutionLog, 0, len(entries))
	for _, entry := range entries {
		entry.Data = normalizeMap(entry.Data)
		entry.Timestamp = entry.Timestamp.UTC()
		out = append(out, entry)
	}

	return out, nil
}
