// Package file provides a directory-backed workflow repository. Each
// workflow is stored as <root>/workflows/<id>.json so definitions can be
// version-controlled next to the deployment. Published snapshots live in
// <root>/workflows/versions/<id>/<version>.json.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	root string
	mu   sync.RWMutex
}

// workflowFile keeps the token hash, which the API model never serializes.
type workflowFile struct {
	*models.Workflow

	ExecutionTokenHash string `json:"execution_token_hash,omitempty"`
}

// NewWorkflowRepository creates a repository rooted at root; a file://
// prefix is accepted.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: strings.Replace(root, "file://", "", 1)}
}

func (wr *WorkflowRepository) dir() string {
	return filepath.Join(wr.root, "workflows")
}

func (wr *WorkflowRepository) filePath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid workflow id %q", id)
	}

	return filepath.Clean(path.Join(wr.dir(), id+".json")), nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	return wr.read(workflowID)
}

func (wr *WorkflowRepository) versionPath(id string, version int) (string, error) {
	_, err := wr.filePath(id)
	if err != nil {
		return "", err
	}

	return filepath.Join(wr.dir(), "versions", id, strconv.Itoa(version)+".json"), nil
}

func (wr *WorkflowRepository) read(workflowID string) (*models.Workflow, error) {
	filePath, err := wr.filePath(workflowID)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
	}

	return readWorkflow("GetByID", workflowID, filePath)
}

func readWorkflow(op, workflowID, filePath string) (*models.Workflow, error) {
	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError(op, workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	record := workflowFile{Workflow: &models.Workflow{}}

	err = json.Unmarshal(body, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
	}

	record.Workflow.ExecutionTokenHash = record.ExecutionTokenHash

	return record.Workflow, nil
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	filePath, err := wr.filePath(workflow.ID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return writeWorkflow(filePath, workflow)
}

// writeWorkflow writes through a temporary file so readers never observe
// a partial definition.
func writeWorkflow(filePath string, workflow *models.Workflow) error {
	err := os.MkdirAll(filepath.Dir(filePath), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	data, err := json.MarshalIndent(workflowFile{Workflow: workflow, ExecutionTokenHash: workflow.ExecutionTokenHash}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	tmp := filePath + ".tmp"

	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write workflow %s: %w", workflow.ID, err)
	}

	return os.Rename(tmp, filePath)
}

// List returns every stored workflow matching filter, newest first.
func (wr *WorkflowRepository) List(_ context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	jsonFiles, err := fs.Glob(os.DirFS(wr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		workflow, err := wr.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		if filter.OrgID != "" && workflow.OrgID != filter.OrgID {
			continue
		}

		if filter.Status != "" && workflow.Status != filter.Status {
			continue
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// Delete removes a workflow by its ID.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	filePath, err := wr.filePath(id)
	if err != nil {
		return err
	}

	err = os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	err = os.RemoveAll(filepath.Join(wr.dir(), "versions", id))
	if err != nil {
		return fmt.Errorf("failed to delete versions of workflow %s: %w", id, err)
	}

	return nil
}

// SaveVersion writes the immutable snapshot of workflow at its version.
func (wr *WorkflowRepository) SaveVersion(_ context.Context, workflow *models.Workflow) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	filePath, err := wr.versionPath(workflow.ID, workflow.Version)
	if err != nil {
		return err
	}

	return writeWorkflow(filePath, workflow)
}

func (wr *WorkflowRepository) GetVersion(_ context.Context, id string, version int) (*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	filePath, err := wr.versionPath(id, version)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetVersion", id, persistence.ErrWorkflowNotFound)
	}

	return readWorkflow("GetVersion", id, filePath)
}
