// Package scheduler fires schedule triggers: every active workflow with a
// schedule trigger node gets a cron entry that dispatches a schedule
// execution.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/auth"
	"github.com/mrlynn/netpad-v3-sub010/pkg/dispatcher"
	"github.com/mrlynn/netpad-v3-sub010/pkg/eventbus"
	"github.com/mrlynn/netpad-v3-sub010/pkg/events"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// Subject is the principal subject recorded on scheduled executions.
const Subject = "system:scheduler"

// Dispatcher admits trigger events. *dispatcher.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (*dispatcher.Result, error)
}

// Entry describes one registered schedule.
type Entry struct {
	WorkflowID string
	NodeID     string
	Spec       string
	Next       time.Time
}

type registration struct {
	fingerprint string
	entries     map[cron.EntryID]Entry
}

// Scheduler keeps cron entries in sync with the active workflows.
type Scheduler struct {
	workflows  persistence.WorkflowRepository
	dispatcher Dispatcher
	logger     *slog.Logger
	cron       *cron.Cron
	now        func() time.Time

	mu         sync.Mutex
	registered map[string]*registration
	reload     chan struct{}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now for trigger payload timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler. Entries without a timezone run in UTC.
func New(workflows persistence.WorkflowRepository, d Dispatcher, logger *slog.Logger, opts ...Option) *Scheduler {
	logger = logger.With("module", "scheduler")
	cronLog := cronLogger{logger: logger}

	s := &Scheduler{
		workflows:  workflows,
		dispatcher: d,
		logger:     logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.SkipIfStillRunning(cronLog), cron.Recover(cronLog)),
		),
		now:        func() time.Time { return time.Now().UTC() },
		registered: map[string]*registration{},
		reload:     make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins firing entries.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts firing and waits for running dispatches or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Run starts the scheduler, reloads it every interval and stops it when
// ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	err := s.Reload(ctx)
	if err != nil {
		return err
	}

	s.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "entries", len(s.Entries()), "reload_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			s.Stop(stopCtx)
			cancel()
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return nil
		case <-s.reload:
			err := s.Reload(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to reload schedules", "error", err)
			}
		case <-ticker.C:
			err := s.Reload(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to reload schedules", "error", err)
			}
		}
	}
}

// RequestReload asks a running scheduler to resync before the next tick.
// Requests made while one is pending are coalesced.
func (s *Scheduler) RequestReload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Watch requests a reload whenever a workflow is published on bus.
func (s *Scheduler) Watch(ctx context.Context, bus eventbus.EventSubscriber) error {
	err := bus.Handle(events.WorkflowPublishedEvent, func(ctx context.Context, event any) error {
		if published, ok := event.(*events.WorkflowPublished); ok {
			s.logger.DebugContext(ctx, "Workflow published, reloading schedules",
				"workflow_id", published.WorkflowID, "version", published.Version)
		}

		s.RequestReload()

		return nil
	})
	if err != nil {
		return err
	}

	return bus.Subscribe(ctx)
}

// Reload resyncs entries with the active workflows. Workflows whose
// schedules did not change keep their entries.
func (s *Scheduler) Reload(ctx context.Context) error {
	workflows, err := s.workflows.List(ctx, persistence.WorkflowFilter{Status: models.WorkflowStatusActive})
	if err != nil {
		return fmt.Errorf("failed to list active workflows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}

	for _, wf := range workflows {
		specs := s.schedulesOf(ctx, wf)
		if len(specs) == 0 {
			continue
		}

		seen[wf.ID] = true
		fingerprint := fingerprintOf(wf, specs)

		current, ok := s.registered[wf.ID]
		if ok && current.fingerprint == fingerprint {
			continue
		}

		if ok {
			s.remove(wf.ID)
		}

		s.register(ctx, wf, specs, fingerprint)
	}

	for workflowID := range s.registered {
		if !seen[workflowID] {
			s.remove(workflowID)
			s.logger.InfoContext(ctx, "Schedules removed", "workflow_id", workflowID)
		}
	}

	return nil
}

// Entries lists the registered schedules ordered by workflow and node.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []Entry

	for _, reg := range s.registered {
		for id, entry := range reg.entries {
			entry.Next = s.cron.Entry(id).Next
			entries = append(entries, entry)
		}
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		if c := strings.Compare(a.WorkflowID, b.WorkflowID); c != 0 {
			return c
		}

		return strings.Compare(a.NodeID, b.NodeID)
	})

	return entries
}

// schedulesOf returns the cron spec per schedule trigger node, with the
// timezone folded in as a CRON_TZ prefix. Invalid specs are skipped.
func (s *Scheduler) schedulesOf(ctx context.Context, wf *models.Workflow) map[string]string {
	specs := map[string]string{}

	for _, node := range wf.RootsFor(models.TriggerKindSchedule) {
		if node.Disabled || node.TriggerKind() != models.TriggerKindSchedule {
			continue
		}

		expr := nodes.String(node.Config, "cron", "")
		if expr == "" {
			continue
		}

		tz := nodes.String(node.Config, "timezone", wf.Settings.Timezone)
		spec := expr

		if tz != "" {
			spec = "CRON_TZ=" + tz + " " + expr
		}

		_, err := cron.ParseStandard(spec)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping invalid schedule",
				"workflow_id", wf.ID, "node_id", node.ID, "spec", spec, "error", err)

			continue
		}

		specs[node.ID] = spec
	}

	return specs
}

func (s *Scheduler) register(ctx context.Context, wf *models.Workflow, specs map[string]string, fingerprint string) {
	reg := &registration{fingerprint: fingerprint, entries: map[cron.EntryID]Entry{}}

	for nodeID, spec := range specs {
		id, err := s.cron.AddFunc(spec, s.fire(wf.ID, wf.OrgID, nodeID, spec))
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to add schedule", "workflow_id", wf.ID, "node_id", nodeID, "error", err)

			continue
		}

		reg.entries[id] = Entry{WorkflowID: wf.ID, NodeID: nodeID, Spec: spec}
	}

	s.registered[wf.ID] = reg
	s.logger.InfoContext(ctx, "Schedules registered", "workflow_id", wf.ID, "version", wf.Version, "count", len(reg.entries))
}

func (s *Scheduler) remove(workflowID string) {
	for id := range s.registered[workflowID].entries {
		s.cron.Remove(id)
	}

	delete(s.registered, workflowID)
}

func (s *Scheduler) fire(workflowID, orgID, nodeID, spec string) func() {
	return func() {
		ctx := context.Background()
		firedAt := s.now()

		result, err := s.dispatcher.Dispatch(ctx, dispatcher.Request{
			Kind:       models.TriggerKindSchedule,
			WorkflowID: workflowID,
			Payload: map[string]any{
				"timestamp": firedAt.Format(time.RFC3339),
				"nodeId":    nodeID,
				"schedule":  spec,
			},
			Principal: &auth.Principal{Subject: Subject, OrgID: orgID},
			Source:    models.TriggerSource{ActorID: Subject},
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Scheduled dispatch failed", "workflow_id", workflowID, "node_id", nodeID, "error", err)

			return
		}

		s.logger.InfoContext(ctx, "Scheduled execution queued",
			"workflow_id", workflowID, "node_id", nodeID, "execution_id", result.ExecutionID)
	}
}

func fingerprintOf(wf *models.Workflow, specs map[string]string) string {
	keys := make([]string, 0, len(specs))
	for nodeID, spec := range specs {
		keys = append(keys, nodeID+"="+spec)
	}

	slices.Sort(keys)

	return fmt.Sprintf("%s@%d|%s", wf.OrgID, wf.Version, strings.Join(keys, ";"))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
