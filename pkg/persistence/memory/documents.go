package memory

import (
	"context"
	"fmt"
	"maps"
	"reflect"

	"github.com/google/uuid"
)

type documentStore Persistence

// matches supports plain equality filters on top-level fields.
func matches(doc, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}

	return true
}

func (s *documentStore) Find(_ context.Context, collection string, filter map[string]any, limit int) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []map[string]any{}

	for _, doc := range s.documents[collection] {
		if !matches(doc, filter) {
			continue
		}

		out = append(out, maps.Clone(doc))

		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}

func (s *documentStore) Insert(_ context.Context, collection string, document map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := maps.Clone(document)
	if doc == nil {
		doc = map[string]any{}
	}

	id, ok := doc["_id"].(string)
	if !ok || id == "" {
		id = uuid.NewString()
		doc["_id"] = id
	}

	s.documents[collection] = append(s.documents[collection], doc)

	return id, nil
}

// UpdateOne applies update to the first matching document. The update is
// either {"$set": {...}} or a plain field map, which is treated as $set.
func (s *documentStore) UpdateOne(_ context.Context, collection string, filter, update map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := update
	if set, ok := update["$set"]; ok {
		setFields, isMap := set.(map[string]any)
		if !isMap {
			return 0, fmt.Errorf("$set must be an object, got %T", set)
		}

		fields = setFields
	}

	for _, doc := range s.documents[collection] {
		if matches(doc, filter) {
			maps.Copy(doc, fields)

			return 1, nil
		}
	}

	return 0, nil
}
