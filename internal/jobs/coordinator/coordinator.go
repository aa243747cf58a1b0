// -----------------------------------------------------------------------
// Job coordinator (C7) - drives the job status DAG. Owns job creation,
// preview orchestration, the approval gate, refinement, and startup
// recovery. Every transition goes through the store's compare-and-set and
// leaves an audit entry.
// -----------------------------------------------------------------------

package coordinator

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/jobs/engine"
	"github.com/matt-hans/shipagent/internal/models"
	"github.com/matt-hans/shipagent/internal/services/filter"
	"github.com/matt-hans/shipagent/internal/storage/sqlite"
)

// CreateRequest carries everything needed to open a new job
type CreateRequest struct {
	Command     string
	Where       string
	Summary     string
	ServiceCode string
	Mode        models.JobMode
	AutoConfirm bool
}

// Coordinator owns job lifecycle decisions. The engine mutates rows; the
// coordinator mutates jobs.
type Coordinator struct {
	store    interfaces.StateStore
	gateway  interfaces.DataGateway
	compiler *filter.Compiler
	engine   *engine.Engine
	bus      interfaces.EventBus
	logger   arbor.ILogger

	mu      sync.Mutex
	running string // Job id currently executing; one per process
}

// NewCoordinator creates the job coordinator
func NewCoordinator(
	store interfaces.StateStore,
	gateway interfaces.DataGateway,
	compiler *filter.Compiler,
	eng *engine.Engine,
	bus interfaces.EventBus,
	logger arbor.ILogger,
) *Coordinator {
	return &Coordinator{
		store:    store,
		gateway:  gateway,
		compiler: compiler,
		engine:   eng,
		bus:      bus,
		logger:   logger,
	}
}

// CreateJob compiles the proposed filter against the live source and opens a
// job in created. The proposal is untrusted until Compile signs it.
func (c *Coordinator) CreateJob(ctx context.Context, req CreateRequest) (*models.Job, error) {
	info, err := c.gateway.GetSourceInfo(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := c.gateway.GetSchema(ctx)
	if err != nil {
		return nil, err
	}

	spec, err := c.compiler.Compile(req.Where, req.Summary, schema, info.Signature)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = models.JobModeFailFast
	}
	serviceCode := req.ServiceCode
	if serviceCode == "" {
		serviceCode = "03"
	}

	job := &models.Job{
		ID:              common.NewJobID(),
		Command:         req.Command,
		SourceSignature: info.Signature,
		FilterSpec:      spec,
		ServiceCode:     serviceCode,
		Mode:            mode,
		AutoConfirm:     req.AutoConfirm,
		Status:          models.JobStatusCreated,
		Generation:      1,
		CreatedAt:       time.Now(),
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, errcodes.New(errcodes.StateStoreFailure, err.Error())
	}

	c.audit(ctx, job.ID, "job.status", "", string(models.JobStatusCreated), models.AuditActorUser)
	c.logger.Info().
		Str("job_id", job.ID).
		Str("where", spec.Where).
		Str("service_code", serviceCode).
		Msg("Job created")
	return job, nil
}

// Preview drives created -> previewing -> previewed, running the engine's
// rate-only pass in between. On an AutoConfirm job with a clean preview the
// approval gate is skipped: the job lands in approved with a token already
// issued, and the returned token is non-empty.
func (c *Coordinator) Preview(ctx context.Context, jobID string) (*models.PreviewPayload, string, error) {
	job, err := c.transition(ctx, jobID, models.JobStatusCreated, models.JobStatusPreviewing, nil, models.AuditActorUser)
	if err != nil {
		return nil, "", err
	}

	preview, err := c.engine.Preview(ctx, job)
	if err != nil {
		record := asRecord(err)
		if _, ferr := c.transition(ctx, jobID, models.JobStatusPreviewing, models.JobStatusFailed,
			&interfaces.JobFields{Error: record}, models.AuditActorSystem); ferr != nil {
			c.logger.Error().Str("job_id", jobID).Err(ferr).Msg("Failed to record preview failure")
		}
		return nil, "", record
	}

	cost := preview.EstimatedCost
	job, err = c.transition(ctx, jobID, models.JobStatusPreviewing, models.JobStatusPreviewed,
		&interfaces.JobFields{PreviewCost: &cost}, models.AuditActorSystem)
	if err != nil {
		return nil, "", err
	}

	// Unattended runs skip the gate only when the preview raised nothing
	if job.AutoConfirm && preview.FailedRows == 0 && preview.WarningRows == 0 {
		token, _, aerr := c.Approve(ctx, jobID)
		if aerr != nil {
			return preview, "", aerr
		}
		return preview, token, nil
	}
	return preview, "", nil
}

// Approve moves a previewed job to approved and issues the single-use
// approval token. Only the token's SHA-256 hash is stored; the raw value is
// returned to the caller once and never again.
func (c *Coordinator) Approve(ctx context.Context, jobID string) (string, *models.Job, error) {
	token := common.NewApprovalToken()
	hash := hashToken(token)

	job, err := c.transition(ctx, jobID, models.JobStatusPreviewed, models.JobStatusApproved,
		&interfaces.JobFields{ApprovalHash: &hash}, models.AuditActorUser)
	if err != nil {
		return "", nil, err
	}

	c.logger.Info().Str("job_id", jobID).Msg("Job approved")
	return token, job, nil
}

// Execute verifies the approval token, source signature, and single-running
// policy, consumes the token, and hands the job to the engine. Blocks until
// the job reaches a terminal status; callers run it on its own goroutine.
func (c *Coordinator) Execute(ctx context.Context, jobID, token string) (*models.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if job.Status != models.JobStatusApproved {
		return nil, errcodes.New(errcodes.StaleTransition, models.JobStatusApproved, job.Status)
	}
	if !verifyToken(token, job.ApprovalHash) {
		return nil, errcodes.New(errcodes.ApprovalTokenInvalid)
	}

	// Refuse before any row is touched when the source drifted since preview
	info, err := c.gateway.GetSourceInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info.Signature != job.SourceSignature {
		record := errcodes.New(errcodes.SignatureDrift, job.SourceSignature, info.Signature)
		if _, ferr := c.transition(ctx, jobID, models.JobStatusApproved, models.JobStatusFailed,
			&interfaces.JobFields{Error: record}, models.AuditActorSystem); ferr != nil {
			c.logger.Error().Str("job_id", jobID).Err(ferr).Msg("Failed to record signature drift")
		}
		return nil, record
	}

	if err := c.claimRunning(jobID); err != nil {
		return nil, err
	}
	defer c.releaseRunning(jobID)

	// Consuming the token and entering running is one CAS: a second Execute
	// with the same token loses the race and gets a stale transition.
	empty := ""
	job, err = c.transition(ctx, jobID, models.JobStatusApproved, models.JobStatusRunning,
		&interfaces.JobFields{ApprovalHash: &empty}, models.AuditActorUser)
	if err != nil {
		return nil, err
	}

	final, err := c.engine.Execute(ctx, job)
	if err != nil {
		return nil, err
	}
	c.audit(ctx, jobID, "job.status", string(models.JobStatusRunning), string(final.Status), models.AuditActorSystem)
	return final, nil
}

// Refine cancels a pre-running job and opens its successor with the
// generation bumped. The replacement compiles fresh against the live source.
func (c *Coordinator) Refine(ctx context.Context, jobID string, req CreateRequest) (*models.Job, error) {
	old, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, translateStoreErr(err)
	}

	switch old.Status {
	case models.JobStatusCreated, models.JobStatusPreviewing, models.JobStatusPreviewed, models.JobStatusApproved:
		if _, err := c.transition(ctx, jobID, old.Status, models.JobStatusCancelled, nil, models.AuditActorUser); err != nil {
			return nil, err
		}
	default:
		return nil, errcodes.New(errcodes.StaleTransition, models.JobStatusPreviewed, old.Status)
	}

	next, err := c.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}

	generation := old.Generation + 1
	next, err = c.store.UpdateJobStatus(ctx, next.ID, models.JobStatusCreated, models.JobStatusCreated,
		&interfaces.JobFields{Generation: &generation})
	if err != nil {
		return nil, errcodes.New(errcodes.StateStoreFailure, err.Error())
	}

	c.logger.Info().
		Str("job_id", next.ID).
		Str("refines", jobID).
		Int("generation", generation).
		Msg("Job refined")
	return next, nil
}

// Cancel stops a job wherever it is. Running jobs drain through the engine
// (in-flight rows complete); earlier states transition directly. Idempotent:
// cancelling a terminal job is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return translateStoreErr(err)
	}

	switch job.Status {
	case models.JobStatusRunning:
		c.engine.Cancel(jobID)
		return nil
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		return nil
	default:
		_, err := c.transition(ctx, jobID, job.Status, models.JobStatusCancelled, nil, models.AuditActorUser)
		return err
	}
}

// RecoverOnStartup resolves jobs stranded by a crash. Jobs found running
// resume through the engine (their shipping rows become indeterminate);
// jobs mid-preview fail and must be re-created; a drifted source blocks
// resumption entirely.
func (c *Coordinator) RecoverOnStartup(ctx context.Context) error {
	jobs, _, err := c.store.ListJobs(ctx, interfaces.JobListOptions{
		Status:   string(models.JobStatusRunning) + "," + string(models.JobStatusPreviewing),
		PageSize: 1000,
	})
	if err != nil {
		return errcodes.New(errcodes.StateStoreFailure, err.Error())
	}

	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusPreviewing:
			record := errcodes.New(errcodes.StateStoreFailure, "process restarted during preview")
			if _, err := c.transition(ctx, job.ID, models.JobStatusPreviewing, models.JobStatusFailed,
				&interfaces.JobFields{Error: record}, models.AuditActorSystem); err != nil {
				c.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to fail stranded preview")
			}

		case models.JobStatusRunning:
			info, err := c.gateway.GetSourceInfo(ctx)
			if err != nil {
				return err
			}
			if info.Signature != job.SourceSignature {
				record := errcodes.New(errcodes.SignatureDrift, job.SourceSignature, info.Signature)
				if _, err := c.transition(ctx, job.ID, models.JobStatusRunning, models.JobStatusFailed,
					&interfaces.JobFields{Error: record}, models.AuditActorSystem); err != nil {
					c.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to fail drifted job")
				}
				continue
			}

			if err := c.claimRunning(job.ID); err != nil {
				return err
			}
			c.logger.Warn().Str("job_id", job.ID).Msg("Resuming job interrupted by crash")
			if _, err := c.engine.Resume(ctx, job); err != nil {
				c.releaseRunning(job.ID)
				return err
			}
			c.releaseRunning(job.ID)
		}
	}
	return nil
}

// Running reports the id of the currently executing job, if any
func (c *Coordinator) Running() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running, c.running != ""
}

// ---- Internals ----

func (c *Coordinator) claimRunning(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running != "" {
		return errcodes.New(errcodes.JobAlreadyRunning, c.running)
	}
	c.running = jobID
	return nil
}

func (c *Coordinator) releaseRunning(jobID string) {
	c.mu.Lock()
	if c.running == jobID {
		c.running = ""
	}
	c.mu.Unlock()
}

// transition CAS-moves a job, audits it, and publishes job.status
func (c *Coordinator) transition(ctx context.Context, jobID string, from, to models.JobStatus, fields *interfaces.JobFields, actor models.AuditActor) (*models.Job, error) {
	job, err := c.store.UpdateJobStatus(ctx, jobID, from, to, fields)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	c.audit(ctx, jobID, "job.status", string(from), string(to), actor)
	c.bus.Publish(models.Event{Type: models.EventJobStatus, JobID: jobID, Payload: job})
	return job, nil
}

func (c *Coordinator) audit(ctx context.Context, jobID, kind, from, to string, actor models.AuditActor) {
	entry := &models.AuditEntry{
		JobID:     jobID,
		Kind:      kind,
		From:      from,
		To:        to,
		Actor:     actor,
		Timestamp: time.Now(),
	}
	if err := c.store.AppendAudit(ctx, entry); err != nil {
		c.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to append audit entry")
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func verifyToken(token, storedHash string) bool {
	if token == "" || storedHash == "" {
		return false
	}
	want, err := hex.DecodeString(storedHash)
	if err != nil {
		return false
	}
	got := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(want, got[:]) == 1
}

func translateStoreErr(err error) error {
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		return err
	case errors.Is(err, sqlite.ErrStaleTransition):
		return errcodes.New(errcodes.StaleTransition, "", err.Error())
	default:
		return errcodes.New(errcodes.StateStoreFailure, err.Error())
	}
}

func asRecord(err error) *models.ErrorRecord {
	if record, ok := err.(*models.ErrorRecord); ok {
		return record
	}
	return errcodes.New(errcodes.StateStoreFailure, err.Error())
}
