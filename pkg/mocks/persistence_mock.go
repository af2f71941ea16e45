package mocks

import (
	"context"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

var _ persistence.WorkflowRepository = (*MockWorkflowRepository)(nil)

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) List(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockWorkflowRepository) SaveVersion(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	args := m.Called(ctx, id, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence. Only
// the workflow repository is mockable; the other repositories return nil.
type MockPersistence struct {
	mock.Mock

	WorkflowRepo *MockWorkflowRepository
}

var _ persistence.Persistence = (*MockPersistence)(nil)

// NewMockPersistence creates a MockPersistence with a fresh workflow repository mock.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{WorkflowRepo: &MockWorkflowRepository{}}
}

func (m *MockPersistence) Workflows() persistence.WorkflowRepository {
	return m.WorkflowRepo
}

func (m *MockPersistence) Jobs() persistence.JobRepository             { return nil }
func (m *MockPersistence) Executions() persistence.ExecutionRepository { return nil }
func (m *MockPersistence) Logs() persistence.LogRepository             { return nil }

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
