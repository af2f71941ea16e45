package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/ai"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/registry"
)

// AIConfig points the ai node at an OpenAI-compatible endpoint. Without a
// base URL the node is registered but fails every call.
type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

const nodeHTTPTimeout = 30 * time.Second

// NewRegistry builds the registry of every built-in node executor.
func NewRegistry(log *slog.Logger, publisher message.Publisher, documents persistence.DocumentStore, aiConfig AIConfig) *registry.Registry {
	client := &http.Client{Timeout: nodeHTTPTimeout}

	deps := registry.Dependencies{
		HTTPClient: client,
		Publisher:  publisher,
		Documents:  documents,
		AIModel:    aiConfig.Model,
	}

	if aiConfig.BaseURL != "" {
		deps.Completer = ai.NewOpenAIClient(aiConfig.BaseURL, aiConfig.APIKey, client)
	}

	reg := registry.New(log, deps)
	log.Info("Node executors registered", "kinds", len(reg.Kinds()))

	return reg
}
