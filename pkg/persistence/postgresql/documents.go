package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// DocumentStore keeps data-node collections in one JSONB table. Filters
// are top-level equality matches evaluated with the containment operator.
type DocumentStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func (s *DocumentStore) Find(ctx context.Context, collection string, filter map[string]any, limit int) ([]map[string]any, error) {
	filterJSON, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT body
		FROM documents
		WHERE collection = $1 AND body @> $2::jsonb
		ORDER BY created_at, id
		LIMIT $3`,
		collection, filterJSON, limitOrNull(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer closeRows(ctx, s.logger, rows)

	documents := make([]map[string]any, 0)

	for rows.Next() {
		var body []byte

		err = rows.Scan(&body)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		var document map[string]any

		err = json.Unmarshal(body, &document)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal document: %w", err)
		}

		documents = append(documents, document)
	}

	return documents, rows.Err()
}

// Insert stores document, assigning a string _id when it has none.
func (s *DocumentStore) Insert(ctx context.Context, collection string, document map[string]any) (string, error) {
	body := make(map[string]any, len(document)+1)
	for k, v := range document {
		body[k] = v
	}

	id, ok := body["_id"].(string)
	if !ok || id == "" {
		id = uuid.NewString()
		body["_id"] = id
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3)`,
		collection, id, encoded,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	return id, nil
}

// UpdateOne merges the update into the first matching document. The update
// is either {"$set": {...}} or a plain field map.
func (s *DocumentStore) UpdateOne(ctx context.Context, collection string, filter, update map[string]any) (int64, error) {
	fields := update
	if set, ok := update["$set"]; ok {
		setFields, isMap := set.(map[string]any)
		if !isMap {
			return 0, fmt.Errorf("$set must be an object, got %T", set)
		}

		fields = setFields
	}

	filterJSON, err := marshalFilter(filter)
	if err != nil {
		return 0, err
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET body = body || $3::jsonb
		WHERE (collection, id) = (
			SELECT collection, id FROM documents
			WHERE collection = $1 AND body @> $2::jsonb
			ORDER BY created_at, id
			LIMIT 1
		)`,
		collection, filterJSON, fieldsJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update document: %w", err)
	}

	return result.RowsAffected()
}

func marshalFilter(filter map[string]any) ([]byte, error) {
	if filter == nil {
		filter = map[string]any{}
	}

	encoded, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal filter: %w", err)
	}

	return encoded, nil
}
