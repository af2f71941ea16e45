// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/file"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/memory"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/mongodb"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/postgresql"
)

// Store is a persistence backend that also serves the data nodes.
type Store interface {
	persistence.Persistence

	Documents() persistence.DocumentStore
}

var supportedPersistenceProviders = []string{"postgres", "postgresql", "mongodb", "mongodb+srv", "file", "memory"}

// NewPersistence opens the store named by databaseURL's scheme. file://
// keeps workflow definitions on disk and everything else in memory, which
// only suits a single process.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (Store, error) {
	provider := parsePersistenceProvider(databaseURL)

	logger.InfoContext(ctx, "Opening persistence", "provider", provider)

	switch provider {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "mongodb", "mongodb+srv":
		return mongodb.NewPersistence(ctx, logger, databaseURL)
	case "file":
		return memory.NewPersistence(memory.WithWorkflowRepository(file.NewWorkflowRepository(databaseURL))), nil
	case "memory":
		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q (supported: %s)",
			provider, strings.Join(supportedPersistenceProviders, ", "))
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		if databaseURL == "memory" {
			return "memory"
		}

		return ""
	}

	return provider
}
