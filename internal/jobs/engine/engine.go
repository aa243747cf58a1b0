// -----------------------------------------------------------------------
// Batch engine (C6) - the concurrent heart. Preview rates rows with no
// carrier side effects; Execute creates shipments under a bounded
// semaphore with per-row CAS transitions around every external call.
// At-most-once on shipment creation comes from the pre-call transition to
// shipping, no retry after body send, and failed_indeterminate on
// ambiguous outcomes.
// -----------------------------------------------------------------------

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
	"github.com/matt-hans/shipagent/internal/services/payload"
)

// Options tunes the engine
type Options struct {
	Concurrency    int
	PreviewMaxRows int  // 0 rates every row
	// LaneEnabled reports whether shipping to a country is allowed
	LaneEnabled func(country string) bool
}

// Engine drives preview and execute over one store/gateway/carrier trio
type Engine struct {
	store   interfaces.StateStore
	gateway interfaces.DataGateway
	carrier interfaces.CarrierService
	builder *payload.Builder
	bus     interfaces.EventBus
	labels  interfaces.LabelStore // Optional; nil skips label persistence
	opts    Options
	logger  arbor.ILogger

	mu        sync.Mutex
	cancelled map[string]bool
}

// NewEngine creates the batch engine
func NewEngine(
	store interfaces.StateStore,
	gateway interfaces.DataGateway,
	carrier interfaces.CarrierService,
	builder *payload.Builder,
	bus interfaces.EventBus,
	labels interfaces.LabelStore,
	opts Options,
	logger arbor.ILogger,
) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.LaneEnabled == nil {
		opts.LaneEnabled = func(string) bool { return true }
	}
	return &Engine{
		store:     store,
		gateway:   gateway,
		carrier:   carrier,
		builder:   builder,
		bus:       bus,
		labels:    labels,
		opts:      opts,
		logger:    logger,
		cancelled: make(map[string]bool),
	}
}

// Cancel requests that a job stop dispatching new rows. In-flight rows
// complete normally. Idempotent.
func (e *Engine) Cancel(jobID string) {
	e.mu.Lock()
	e.cancelled[jobID] = true
	e.mu.Unlock()
	e.logger.Info().Str("job_id", jobID).Msg("Cancel requested")
}

func (e *Engine) isCancelled(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[jobID]
}

func (e *Engine) clearCancel(jobID string) {
	e.mu.Lock()
	delete(e.cancelled, jobID)
	e.mu.Unlock()
}

// ---- Preview ----

// Preview materializes the job's filtered rows and rates them. Rate-only:
// the carrier sees nothing but get_rate. Returns the preview payload for
// the preview.ready event, which is also published on the bus.
func (e *Engine) Preview(ctx context.Context, job *models.Job) (*models.PreviewPayload, error) {
	if err := e.checkSourceSignature(ctx, job); err != nil {
		return nil, err
	}

	if err := e.materialize(ctx, job); err != nil {
		return nil, err
	}

	// Collect before fanning out: the rating goroutines write to the same
	// store, and the read cursor must be closed before those writes land.
	var pending []*models.JobRow
	if err := e.store.IterRows(ctx, job.ID, []models.RowStatus{models.RowStatusPending}, func(row *models.JobRow) error {
		pending = append(pending, row)
		return nil
	}); err != nil {
		return nil, errcodes.New(errcodes.StateStoreFailure, err.Error())
	}
	if cap := e.opts.PreviewMaxRows; cap > 0 && len(pending) > cap {
		pending = pending[:cap]
	}

	sem := semaphore.NewWeighted(int64(e.opts.Concurrency))
	var wg sync.WaitGroup
	for _, row := range pending {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(row *models.JobRow) {
			defer sem.Release(1)
			defer wg.Done()
			e.rateRow(ctx, job, row)
		}(row)
	}
	wg.Wait()

	preview, err := e.buildPreviewPayload(ctx, job)
	if err != nil {
		return nil, err
	}

	e.bus.Publish(models.Event{Type: models.EventPreviewReady, JobID: job.ID, Payload: preview})
	e.logger.Info().
		Str("job_id", job.ID).
		Int("total", preview.TotalRows).
		Int("rated", preview.RatedRows).
		Int("failed", preview.FailedRows).
		Int64("estimated_cost", preview.EstimatedCost).
		Msg("Preview complete")
	return preview, nil
}

// materialize fetches all filtered rows, checksums them, and inserts them in
// pending. Idempotent: re-running after a crash inserts nothing new.
func (e *Engine) materialize(ctx context.Context, job *models.Job) error {
	sourceRows, err := e.gateway.QueryRows(ctx, job.FilterSpec)
	if err != nil {
		return err
	}

	rows := make([]*models.JobRow, 0, len(sourceRows))
	for _, src := range sourceRows {
		row := &models.JobRow{
			JobID:     job.ID,
			RowNumber: src.RowNumber,
			Checksum:  src.Checksum(),
			Status:    models.RowStatusPending,
		}
		// Mapping failures surface as row failures during rating; the row
		// still exists so counts stay honest.
		if order, err := models.OrderFromRow(src); err == nil {
			row.Order = order
		}
		rows = append(rows, row)
	}

	if err := e.store.InsertRows(ctx, job.ID, rows); err != nil {
		return errcodes.New(errcodes.StateStoreFailure, err.Error())
	}
	return nil
}

// rateRow rates one pending row: pending -> rated on success, pending ->
// failed with the error record otherwise.
func (e *Engine) rateRow(ctx context.Context, job *models.Job, row *models.JobRow) {
	record := e.validateRow(row)

	var ratedCost int64
	var warnings []string
	if record == nil {
		body, buildErr := e.builder.RateBody(row.Order, job.ServiceCode)
		if buildErr != nil {
			record = asRecord(buildErr)
		} else if result, rateErr := e.carrier.GetRate(ctx, body); rateErr != nil {
			record = asRecord(rateErr)
		} else {
			ratedCost = result.TotalCharges.Amount
			warnings = result.Warnings
		}
	}

	if record != nil {
		if _, err := e.store.TransitionRow(ctx, job.ID, row.RowNumber,
			models.RowStatusPending, models.RowStatusFailed,
			&interfaces.RowFields{Error: record}); err != nil {
			e.logger.Error().Str("job_id", job.ID).Int("row", row.RowNumber).Err(err).Msg("Failed to record rating failure")
		} else {
			e.auditRow(ctx, job.ID, row.RowNumber, models.RowStatusPending, models.RowStatusFailed)
		}
		e.bus.Publish(models.Event{Type: models.EventRowFailed, JobID: job.ID, RowNumber: row.RowNumber, Payload: record})
		return
	}

	fields := &interfaces.RowFields{RatedCost: &ratedCost}
	if len(warnings) > 0 {
		fields.Warnings = warnings
	}
	if _, err := e.store.TransitionRow(ctx, job.ID, row.RowNumber,
		models.RowStatusPending, models.RowStatusRated, fields); err != nil {
		e.logger.Error().Str("job_id", job.ID).Int("row", row.RowNumber).Err(err).Msg("Failed to record rating")
		return
	}
	e.auditRow(ctx, job.ID, row.RowNumber, models.RowStatusPending, models.RowStatusRated)
	e.bus.Publish(models.Event{Type: models.EventRowRated, JobID: job.ID, RowNumber: row.RowNumber, Payload: ratedCost})
}

// validateRow runs the pre-carrier checks shared by preview and execute
func (e *Engine) validateRow(row *models.JobRow) *models.ErrorRecord {
	if row.Order == nil {
		return errcodes.New(errcodes.MissingRequiredField, "recipient name or address")
	}
	if record := e.builder.Validate(row.Order); record != nil {
		return record
	}
	if row.Order.IsInternational() && !e.opts.LaneEnabled(row.Order.Country) {
		return errcodes.New(errcodes.InternationalDisabled, row.Order.Country)
	}
	return nil
}

// buildPreviewPayload aggregates rated rows into the preview table
func (e *Engine) buildPreviewPayload(ctx context.Context, job *models.Job) (*models.PreviewPayload, error) {
	payload := &models.PreviewPayload{JobID: job.ID}
	sampleCap := 50

	err := e.store.IterRows(ctx, job.ID, nil, func(row *models.JobRow) error {
		payload.TotalRows++
		switch row.Status {
		case models.RowStatusRated:
			payload.RatedRows++
			payload.EstimatedCost += row.RatedCost
		case models.RowStatusFailed, models.RowStatusFailedIndeterminate:
			payload.FailedRows++
		}
		if len(row.Warnings) > 0 {
			payload.WarningRows++
		}

		if len(payload.Sample) < sampleCap && (row.Status == models.RowStatusRated || row.Status == models.RowStatusFailed) {
			view := models.PreviewRowView{
				RowNumber: row.RowNumber,
				RatedCost: row.RatedCost,
				Status:    row.Status,
				Error:     row.Error,
				Warnings:  row.Warnings,
			}
			if row.Order != nil {
				view.Name = row.Order.Name
				view.City = row.Order.City
				view.State = row.Order.State
				view.Country = row.Order.Country
			}
			payload.Sample = append(payload.Sample, view)
		}
		return nil
	})
	if err != nil {
		return nil, errcodes.New(errcodes.StateStoreFailure, err.Error())
	}
	return payload, nil
}

// ---- Execute ----

// Execute dispatches every pending or rated row of a running job. It owns
// the job's terminal transition: completed, failed (fail-fast trip), or
// cancelled. The coordinator has already verified token, signature, and
// generation, and moved the job to running.
func (e *Engine) Execute(ctx context.Context, job *models.Job) (*models.Job, error) {
	defer e.clearCancel(job.ID)

	if err := e.checkSourceSignature(ctx, job); err != nil {
		return e.finishJob(ctx, job, models.JobStatusFailed, asRecord(err))
	}

	sem := semaphore.NewWeighted(int64(e.opts.Concurrency))
	progress := rate.NewLimiter(rate.Every(500*time.Millisecond), 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	tripped := false

	trip := func() {
		mu.Lock()
		tripped = true
		mu.Unlock()
	}
	isTripped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return tripped
	}

	failFast := job.Mode != models.JobModeAuto

	var rows []*models.JobRow
	if err := e.store.IterRows(ctx, job.ID, nil, func(row *models.JobRow) error {
		rows = append(rows, row)
		return nil
	}); err != nil {
		return e.finishJob(ctx, job, models.JobStatusFailed, errcodes.New(errcodes.StateStoreFailure, err.Error()))
	}

	// Only pending and rated rows dispatch. Rows already terminal before this
	// pass (preview failures, crash-recovery indeterminates) are left alone
	// and do not trip fail-fast; only failures during this pass do.
	for _, row := range rows {
		if row.Status != models.RowStatusPending && row.Status != models.RowStatusRated {
			continue
		}
		if e.isCancelled(job.ID) || isTripped() {
			e.skipRow(ctx, job, row)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			e.skipRow(ctx, job, row)
			continue
		}
		// Re-check after the semaphore wait so a trip raised by an in-flight
		// row is seen before the next row dispatches
		if e.isCancelled(job.ID) || isTripped() {
			sem.Release(1)
			e.skipRow(ctx, job, row)
			continue
		}
		wg.Add(1)
		go func(row *models.JobRow) {
			defer sem.Release(1)
			defer wg.Done()
			if failed := e.shipRow(ctx, job, row); failed && failFast {
				trip()
			}
			e.publishProgress(ctx, job, progress)
		}(row)
	}
	wg.Wait()

	// Final authoritative progress frame
	e.publishProgress(ctx, job, nil)

	switch {
	case e.isCancelled(job.ID):
		return e.finishJob(ctx, job, models.JobStatusCancelled, nil)
	case isTripped():
		return e.finishJob(ctx, job, models.JobStatusFailed, nil)
	default:
		return e.finishJob(ctx, job, models.JobStatusCompleted, nil)
	}
}

// shipRow runs the serial per-row sequence: CAS to shipping with the payload
// snapshot, create the shipment, CAS to the outcome. Returns true when the
// row failed (for fail-fast accounting).
func (e *Engine) shipRow(ctx context.Context, job *models.Job, row *models.JobRow) bool {
	e.bus.Publish(models.Event{Type: models.EventRowStart, JobID: job.ID, RowNumber: row.RowNumber})

	if record := e.validateRow(row); record != nil {
		return e.failRow(ctx, job, row, row.Status, record)
	}

	body, err := e.builder.ShipBody(row.Order, job.ServiceCode)
	if err != nil {
		return e.failRow(ctx, job, row, row.Status, asRecord(err))
	}

	// The snapshot is persisted before the carrier sees the body; what was
	// stored is exactly what is sent.
	if _, err := e.store.TransitionRow(ctx, job.ID, row.RowNumber,
		row.Status, models.RowStatusShipping,
		&interfaces.RowFields{PayloadSnapshot: body, IncrementAttempt: true}); err != nil {
		e.logger.Warn().Str("job_id", job.ID).Int("row", row.RowNumber).Err(err).Msg("Row claimed by another actor, skipping")
		return false
	}
	e.auditRow(ctx, job.ID, row.RowNumber, row.Status, models.RowStatusShipping)

	idempotencyKey := fmt.Sprintf("%s-%d-%d", job.ID, row.RowNumber, job.Generation)
	result, shipErr := e.carrier.CreateShipment(ctx, json.RawMessage(body), idempotencyKey)
	if shipErr != nil {
		record := asRecord(shipErr)
		target := models.RowStatusFailed
		if record.Indeterminate {
			target = models.RowStatusFailedIndeterminate
		}
		if _, err := e.store.TransitionRow(ctx, job.ID, row.RowNumber,
			models.RowStatusShipping, target, &interfaces.RowFields{Error: record}); err != nil {
			e.logger.Error().Str("job_id", job.ID).Int("row", row.RowNumber).Err(err).Msg("Failed to record shipment failure")
		} else {
			e.auditRow(ctx, job.ID, row.RowNumber, models.RowStatusShipping, target)
		}
		e.bus.Publish(models.Event{Type: models.EventRowFailed, JobID: job.ID, RowNumber: row.RowNumber, Payload: record})
		// Indeterminate rows need a human; they still count as failures for
		// fail-fast purposes.
		return !isSkipSafe(record)
	}

	tracking := ""
	if len(result.TrackingNumbers) > 0 {
		tracking = result.TrackingNumbers[0]
	}

	labelRef := ""
	if e.labels != nil && len(result.LabelData) > 0 {
		ref, labelErr := e.labels.SaveRowLabels(job.ID, row.RowNumber, result.LabelData)
		if labelErr != nil {
			e.logger.Error().Str("job_id", job.ID).Int("row", row.RowNumber).Err(labelErr).Msg("Failed to persist label")
		} else {
			labelRef = ref
		}
	}

	finalCost := result.TotalCharges.Amount
	fields := &interfaces.RowFields{FinalCost: &finalCost, Tracking: &tracking}
	if labelRef != "" {
		fields.LabelRef = &labelRef
	}
	if len(result.Warnings) > 0 {
		fields.Warnings = result.Warnings
	}
	if _, err := e.store.TransitionRow(ctx, job.ID, row.RowNumber,
		models.RowStatusShipping, models.RowStatusShipped, fields); err != nil {
		e.logger.Error().Str("job_id", job.ID).Int("row", row.RowNumber).Err(err).Msg("Failed to record shipment")
		return true
	}
	e.auditRow(ctx, job.ID, row.RowNumber, models.RowStatusShipping, models.RowStatusShipped)

	e.bus.Publish(models.Event{Type: models.EventRowShipped, JobID: job.ID, RowNumber: row.RowNumber, Payload: tracking})

	// Post-success observer: write-back is best effort
	if tracking != "" {
		if err := e.gateway.WriteTracking(ctx, row.RowNumber, tracking, job.ServiceCode, finalCost); err != nil {
			e.logger.Warn().Str("job_id", job.ID).Int("row", row.RowNumber).Err(err).Msg("Tracking write-back failed")
		}
	}
	return false
}

// failRow records a pre-carrier failure from the row's current status
func (e *Engine) failRow(ctx context.Context, job *models.Job, row *models.JobRow, from models.RowStatus, record *models.ErrorRecord) bool {
	if _, err := e.store.TransitionRow(ctx, job.ID, row.RowNumber,
		from, models.RowStatusFailed, &interfaces.RowFields{Error: record}); err != nil {
		e.logger.Error().Str("job_id", job.ID).Int("row", row.RowNumber).Err(err).Msg("Failed to record row failure")
	} else {
		e.auditRow(ctx, job.ID, row.RowNumber, from, models.RowStatusFailed)
	}
	e.bus.Publish(models.Event{Type: models.EventRowFailed, JobID: job.ID, RowNumber: row.RowNumber, Payload: record})
	return !isSkipSafe(record)
}

func (e *Engine) skipRow(ctx context.Context, job *models.Job, row *models.JobRow) {
	if _, err := e.store.TransitionRow(ctx, job.ID, row.RowNumber,
		row.Status, models.RowStatusSkipped, nil); err != nil {
		e.logger.Error().Str("job_id", job.ID).Int("row", row.RowNumber).Err(err).Msg("Failed to skip row")
		return
	}
	e.auditRow(ctx, job.ID, row.RowNumber, row.Status, models.RowStatusSkipped)
	e.bus.Publish(models.Event{Type: models.EventRowSkipped, JobID: job.ID, RowNumber: row.RowNumber})
}

// auditRow appends a row-level transition to the audit log. Audit is an
// observer; a write failure is logged and never fails the row.
func (e *Engine) auditRow(ctx context.Context, jobID string, rowNumber int, from, to models.RowStatus) {
	n := rowNumber
	if err := e.store.AppendAudit(ctx, &models.AuditEntry{
		JobID:     jobID,
		RowNumber: &n,
		Kind:      "row.status",
		From:      string(from),
		To:        string(to),
		Actor:     models.AuditActorSystem,
		Timestamp: time.Now(),
	}); err != nil {
		e.logger.Warn().Str("job_id", jobID).Int("row", rowNumber).Err(err).Msg("Failed to append row audit entry")
	}
}

// publishProgress emits a throttled batch.progress frame. limiter == nil
// forces emission.
func (e *Engine) publishProgress(ctx context.Context, job *models.Job, limiter *rate.Limiter) {
	if limiter != nil && !limiter.Allow() {
		return
	}

	current, err := e.store.GetJob(ctx, job.ID)
	if err != nil {
		return
	}
	e.bus.Publish(models.Event{Type: models.EventBatchProgress, JobID: job.ID, Payload: models.ProgressPayload{
		Total:     current.TotalRows,
		Succeeded: current.SucceededRows,
		Failed:    current.FailedRows,
		Skipped:   current.SkippedRows,
		InFlight:  current.PendingRows(),
		Cost:      current.TotalCost,
	}})
}

// finishJob transitions a running job to its terminal status and publishes
// the terminal event.
func (e *Engine) finishJob(ctx context.Context, job *models.Job, status models.JobStatus, record *models.ErrorRecord) (*models.Job, error) {
	fields := &interfaces.JobFields{}
	if record != nil {
		fields.Error = record
	}

	updated, err := e.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, status, fields)
	if err != nil {
		return nil, errcodes.New(errcodes.StateStoreFailure, err.Error())
	}

	eventType := models.EventJobCompleted
	switch status {
	case models.JobStatusFailed:
		eventType = models.EventJobFailed
	case models.JobStatusCancelled:
		eventType = models.EventJobCancelled
	}
	e.bus.Publish(models.Event{Type: eventType, JobID: job.ID, Payload: updated})

	e.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(status)).
		Int("succeeded", updated.SucceededRows).
		Int("failed", updated.FailedRows).
		Int("skipped", updated.SkippedRows).
		Int64("total_cost", updated.TotalCost).
		Msg("Job finished")
	return updated, nil
}

// ---- Resume ----

// Resume re-enters Execute after a crash. Rows stuck in shipping have an
// unknowable outcome (the body may have reached the carrier) and resolve to
// failed_indeterminate; terminal rows are untouched; the rest dispatch
// normally.
func (e *Engine) Resume(ctx context.Context, job *models.Job) (*models.Job, error) {
	var stuck []*models.JobRow
	if err := e.store.IterRows(ctx, job.ID, []models.RowStatus{models.RowStatusShipping}, func(row *models.JobRow) error {
		stuck = append(stuck, row)
		return nil
	}); err != nil {
		return nil, errcodes.New(errcodes.StateStoreFailure, err.Error())
	}

	for _, row := range stuck {
		record := errcodes.NewCarrier(errcodes.OutcomeUnknown, "", "process crashed while the shipment request was in flight")
		if _, err := e.store.TransitionRow(ctx, job.ID, row.RowNumber,
			models.RowStatusShipping, models.RowStatusFailedIndeterminate,
			&interfaces.RowFields{Error: record}); err != nil {
			return nil, errcodes.New(errcodes.StateStoreFailure, err.Error())
		}
		e.auditRow(ctx, job.ID, row.RowNumber, models.RowStatusShipping, models.RowStatusFailedIndeterminate)
		e.bus.Publish(models.Event{Type: models.EventRowFailed, JobID: job.ID, RowNumber: row.RowNumber, Payload: record})
		e.logger.Warn().Str("job_id", job.ID).Int("row", row.RowNumber).Msg("Row was in flight during crash, marked indeterminate")
	}

	return e.Execute(ctx, job)
}

// checkSourceSignature blocks work against a drifted source
func (e *Engine) checkSourceSignature(ctx context.Context, job *models.Job) error {
	info, err := e.gateway.GetSourceInfo(ctx)
	if err != nil {
		return err
	}
	if info.Signature != job.SourceSignature {
		return errcodes.New(errcodes.SignatureDrift, job.SourceSignature, info.Signature)
	}
	return nil
}

// isSkipSafe reports failures that do not trip fail-fast
func isSkipSafe(record *models.ErrorRecord) bool {
	return record.Code == errcodes.AddressInvalid
}

func asRecord(err error) *models.ErrorRecord {
	if record, ok := err.(*models.ErrorRecord); ok {
		return record
	}
	return errcodes.New(errcodes.CarrierUnknown, err.Error())
}
