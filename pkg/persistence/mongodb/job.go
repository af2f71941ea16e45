package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type JobRepository struct {
	coll *mongo.Collection
}

var activeStatuses = bson.A{models.JobStatusPending, models.JobStatusProcessing}

// Insert stores a pending job. The depth check is a count followed by an
// insert, so concurrent producers can overshoot maxDepth by a few jobs.
func (r *JobRepository) Insert(ctx context.Context, job *models.Job, maxDepth int) error {
	if maxDepth > 0 {
		depth, err := r.coll.CountDocuments(ctx, bson.M{"org_id": job.OrgID, "status": bson.M{"$in": activeStatuses}})
		if err != nil {
			return persistence.NewJobError("Insert", job.ID, fmt.Errorf("failed to count active jobs: %w", err))
		}

		if depth >= int64(maxDepth) {
			return persistence.NewJobError("Insert", job.ID, persistence.ErrQueueFull)
		}
	}

	_, err := r.coll.InsertOne(ctx, job)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return persistence.NewJobError("Insert", job.ID, persistence.ErrDuplicate)
		}

		return persistence.NewJobError("Insert", job.ID, err)
	}

	return nil
}

// ClaimNext flips the earliest eligible pending job to processing in one
// atomic FindOneAndUpdate.
func (r *JobRepository) ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.Job, error) {
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "run_at", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	var job models.Job

	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"status": models.JobStatusPending, "run_at": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{
			"status":     models.JobStatusProcessing,
			"claimed_by": workerID,
			"claimed_at": now,
			"updated_at": now,
		}},
		opts,
	).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return normalizeJob(&job), nil
}

func (r *JobRepository) Transition(ctx context.Context, job *models.Job, from models.JobStatus, claimedBy string) error {
	filter := bson.M{"_id": job.ID, "status": from}
	if claimedBy != "" {
		filter["claimed_by"] = claimedBy
	}

	result, err := r.coll.ReplaceOne(ctx, filter, job)
	if err != nil {
		return persistence.NewJobError("Transition", job.ID, err)
	}

	if result.MatchedCount == 1 {
		return nil
	}

	_, err = r.Get(ctx, job.ID)
	if err != nil {
		return err
	}

	return persistence.NewJobError("Transition", job.ID, persistence.ErrConflict)
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job

	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, persistence.NewJobError("Get", id, persistence.ErrJobNotFound)
		}

		return nil, persistence.NewJobError("Get", id, err)
	}

	return normalizeJob(&job), nil
}

func (r *JobRepository) List(ctx context.Context, filter persistence.JobFilter) ([]*models.Job, error) {
	query := bson.M{}
	if filter.OrgID != "" {
		query["org_id"] = filter.OrgID
	}

	if filter.Status != "" {
		query["status"] = filter.Status
	}

	if filter.ExecutionID != "" {
		query["execution_id"] = filter.ExecutionID
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	return r.find(ctx, query, opts)
}

func (r *JobRepository) Counts(ctx context.Context, orgID string) (models.QueueStatus, error) {
	pipeline := mongo.Pipeline{}
	if orgID != "" {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{"org_id": orgID}}})
	}

	pipeline = append(pipeline, bson.D{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}})

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return models.QueueStatus{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	var groups []struct {
		Status models.JobStatus `bson:"_id"`
		Count  int              `bson:"count"`
	}

	err = cursor.All(ctx, &groups)
	if err != nil {
		return models.QueueStatus{}, fmt.Errorf("failed to decode job counts: %w", err)
	}

	var status models.QueueStatus

	for _, group := range groups {
		switch group.Status {
		case models.JobStatusPending:
			status.Pending = group.Count
		case models.JobStatusProcessing:
			status.Processing = group.Count
		case models.JobStatusFailed:
			status.Failed = group.Count
		case models.JobStatusCompleted:
			status.Completed = group.Count
		}
	}

	return status, nil
}

func (r *JobRepository) Stale(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	return r.find(ctx,
		bson.M{"status": models.JobStatusProcessing, "claimed_at": bson.M{"$lt": cutoff}},
		options.Find().SetSort(bson.D{{Key: "claimed_at", Value: 1}}),
	)
}

func (r *JobRepository) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{
		"status": bson.M{"$in": bson.A{models.JobStatusCompleted, models.JobStatusFailed}},
		"$or": bson.A{
			bson.M{"completed_at": bson.M{"$lt": cutoff}},
			bson.M{"completed_at": bson.M{"$exists": false}, "updated_at": bson.M{"$lt": cutoff}},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	return int(result.DeletedCount), nil
}

func (r *JobRepository) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]*models.Job, error) {
	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	var jobs []*models.Job

	err = cursor.All(ctx, &jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}

	out := make([]*models.Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, normalizeJob(job))
	}

	return out, nil
}

func normalizeJob(job *models.Job) *models.Job {
	job.Trigger.Payload = normalizeMap(job.Trigger.Payload)
	job.RunAt = utc(job.RunAt)
	job.CreatedAt = utc(job.CreatedAt)
	job.UpdatedAt = utc(job.UpdatedAt)
	job.ClaimedAt = utcPtr(job.ClaimedAt)
	job.CompletedAt = utcPtr(job.CompletedAt)

	return job
}
