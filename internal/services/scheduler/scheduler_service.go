// -----------------------------------------------------------------------
// Maintenance scheduler - cron-driven background sweeps: orphaned running
// jobs are failed out, expired conversation sessions are pruned.
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/jobs/coordinator"
	"github.com/matt-hans/shipagent/internal/models"
)

// Service runs periodic maintenance
type Service struct {
	store       interfaces.StateStore
	sessions    interfaces.ConversationStorage
	coordinator *coordinator.Coordinator
	cron        *cron.Cron
	sessionTTL  time.Duration
	schedule    string
	logger      arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates the maintenance scheduler
func NewService(
	store interfaces.StateStore,
	sessions interfaces.ConversationStorage,
	coord *coordinator.Coordinator,
	config *common.SchedulerConfig,
	logger arbor.ILogger,
) (*Service, error) {
	ttl, err := time.ParseDuration(config.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid session TTL %q: %w", config.SessionTTL, err)
	}

	schedule := config.ReconcileSchedule
	if schedule == "" {
		schedule = "@every 5m"
	}

	return &Service{
		store:       store,
		sessions:    sessions,
		coordinator: coord,
		cron:        cron.New(),
		sessionTTL:  ttl,
		schedule:    schedule,
		logger:      logger,
	}, nil
}

// Start registers the sweeps and starts the cron loop
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.reconcileOrphans); err != nil {
		return fmt.Errorf("failed to register reconcile sweep: %w", err)
	}
	if _, err := s.cron.AddFunc("@hourly", s.pruneSessions); err != nil {
		return fmt.Errorf("failed to register session prune: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().
		Str("reconcile_schedule", s.schedule).
		Str("session_ttl", s.sessionTTL.String()).
		Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the cron loop and waits for in-flight sweeps
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

// reconcileOrphans fails out jobs stuck in running that no executor owns.
// With the single-writer lock held, a running job the coordinator does not
// know about can only be debris from an unclean handover.
func (s *Service) reconcileOrphans() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobs, _, err := s.store.ListJobs(ctx, interfaces.JobListOptions{
		Status:   string(models.JobStatusRunning),
		PageSize: 100,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Orphan reconcile failed to list jobs")
		return
	}

	current, _ := s.coordinator.Running()
	for _, job := range jobs {
		if job.ID == current {
			continue
		}
		s.logger.Warn().Str("job_id", job.ID).Msg("Orphaned running job detected, failing it out")
		record := errcodes.New(errcodes.StateStoreFailure, "job was running with no active executor")
		if _, err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusFailed,
			&interfaces.JobFields{Error: record}); err != nil {
			s.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to fail orphaned job")
		}
	}
}

// pruneSessions deletes conversations idle longer than the TTL
func (s *Service) pruneSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.sessionTTL).Unix()
	pruned, err := s.sessions.PruneOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Session prune failed")
		return
	}
	if pruned > 0 {
		s.logger.Info().Int("pruned", pruned).Msg("Expired sessions pruned")
	}
}
