package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
)

const maxSequenceAttempts = 5

// LogRepository stores the append-only execution log.
type LogRepository struct {
	db *sql.DB
}

// Append assigns the next sequence number of the execution. Two writers
// racing for the same number collide on the primary key and the loser
// retries with a fresh number.
func (r *LogRepository) Append(ctx context.Context, entry *models.ExecutionLog) error {
	var data []byte

	if entry.Data != nil {
		encoded, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal log data: %w", err)
		}

		data = encoded
	}

	for range maxSequenceAttempts {
		err := r.db.QueryRowContext(ctx, `
			INSERT INTO execution_logs (execution_id, sequence, node_id, timestamp, level, event, message, data)
			SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4, $5, $6, $7
			FROM execution_logs
			WHERE execution_id = $1
			RETURNING sequence`,
			entry.ExecutionID,
			entry.NodeID,
			entry.Timestamp,
			entry.Level,
			entry.Event,
			entry.Message,
			data,
		).Scan(&entry.Sequence)
		if err == nil {
			return nil
		}

		if !isUniqueViolation(err) {
			return fmt.Errorf("failed to append execution log: %w", err)
		}
	}

	return fmt.Errorf("failed to append execution log for %s: sequence contention", entry.ExecutionID)
}

func (r *LogRepository) List(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT execution_id, sequence, node_id, timestamp, level, event, message, data
		FROM execution_logs
		WHERE execution_id = $1
		ORDER BY sequence`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer func() { _ = rows.Close() }()

	entries := make([]*models.ExecutionLog, 0)

	for rows.Next() {
		var (
			entry models.ExecutionLog
			data  []byte
		)

		err = rows.Scan(
			&entry.ExecutionID,
			&entry.Sequence,
			&entry.NodeID,
			&entry.Timestamp,
			&entry.Level,
			&entry.Event,
			&entry.Message,
			&data,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}

		if len(data) > 0 {
			err = json.Unmarshal(data, &entry.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal log data: %w", err)
			}
		}

		entry.Timestamp = entry.Timestamp.UTC()
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
