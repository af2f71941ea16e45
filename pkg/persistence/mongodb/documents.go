package mongodb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type DocumentStore struct {
	db *mongo.Database
}

func (s *DocumentStore) collection(name string) *mongo.Collection {
	return s.db.Collection(documentsPrefix + name)
}

func (s *DocumentStore) Find(ctx context.Context, collection string, filter map[string]any, limit int) ([]map[string]any, error) {
	opts := options.Find().SetSort(bson.D{{Key: "$natural", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.collection(collection).Find(ctx, query(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}

	var raw []bson.M

	err = cursor.All(ctx, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", collection, err)
	}

	documents := make([]map[string]any, 0, len(raw))
	for _, doc := range raw {
		documents = append(documents, normalizeMap(doc))
	}

	return documents, nil
}

// Insert stores document, assigning a string _id when it has none.
func (s *DocumentStore) Insert(ctx context.Context, collection string, document map[string]any) (string, error) {
	doc := make(bson.M, len(document)+1)
	for k, v := range document {
		doc[k] = v
	}

	id, ok := doc["_id"].(string)
	if !ok || id == "" {
		id = uuid.NewString()
		doc["_id"] = id
	}

	_, err := s.collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to insert into %s: %w", collection, err)
	}

	return id, nil
}

// UpdateOne applies {"$set": {...}} or a plain field map to the first
// matching document.
func (s *DocumentStore) UpdateOne(ctx context.Context, collection string, filter, update map[string]any) (int64, error) {
	fields := update
	if set, ok := update["$set"]; ok {
		setFields, isMap := set.(map[string]any)
		if !isMap {
			return 0, fmt.Errorf("$set must be an object, got %T", set)
		}

		fields = setFields
	}

	result, err := s.collection(collection).UpdateOne(ctx, query(filter), bson.M{"$set": bson.M(fields)})
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", collection, err)
	}

	return result.MatchedCount, nil
}

func query(filter map[string]any) bson.M {
	if filter == nil {
		return bson.M{}
	}

	return bson.M(filter)
}
