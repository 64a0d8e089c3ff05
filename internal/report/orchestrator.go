// Package report turns aggregated call statistics into emailed reports and
// keeps an execution log of every run.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cdr-analytics/internal/aggregate"
	"cdr-analytics/internal/config"
	"cdr-analytics/internal/metrics"
	"cdr-analytics/internal/models"
	"cdr-analytics/internal/notify"
)

var (
	// ErrAlreadyDelivered is returned when a run is delivered twice.
	ErrAlreadyDelivered = errors.New("report already delivered")
	// ErrNotDelivered is returned when a run is retried before delivery.
	ErrNotDelivered = errors.New("report not delivered yet")
	// ErrRetriesExhausted is returned once a run used all its retries.
	ErrRetriesExhausted = errors.New("report retries exhausted")
)

// Aggregator is the part of aggregate.Engine a report needs.
type Aggregator interface {
	AnsweredCallRate(ctx context.Context, rng models.DateRange, g aggregate.Granularity) ([]models.AnsweredCallRatePoint, error)
	LocationStatistics(ctx context.Context, rng models.DateRange) (models.LocationStatistics, error)
}

// Sender is the part of notify.Deliverer a report needs.
type Sender interface {
	DeliverEach(ctx context.Context, msgs []models.EmailMessage, attempt notify.Attempt) ([]models.Outcome, models.DeliveryStatistics)
}

// ExecutionLog persists report executions.
type ExecutionLog interface {
	Create(ctx context.Context, e models.ReportExecution) error
	Update(ctx context.Context, e models.ReportExecution) error
}

type Options struct {
	Organization       string
	Location           *time.Location
	DefaultRecipients  []string
	ExcludedRecipients []string
	StorageDir         string
	MaxRetries         int
	// RetryDelay is waited before each retry of a run.
	RetryDelay         time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Organization:       cfg.Reporting.Organization,
		Location:           cfg.Location(),
		DefaultRecipients:  cfg.Reporting.DefaultRecipients,
		ExcludedRecipients: cfg.Reporting.ExcludedRecipients,
		StorageDir:         cfg.Reporting.StorageDir,
		MaxRetries:         cfg.Reporting.MaxRetries,
		RetryDelay:         cfg.Reporting.RetryDelay,
	}
}

// Request describes one report run.
type Request struct {
	Kind        models.ReportKind
	Trigger     models.ReportTrigger
	Range       models.DateRange
	Granularity aggregate.Granularity
	Recipients  []string
}

type Orchestrator struct {
	agg      Aggregator
	sender   Sender
	log      ExecutionLog
	opts     Options
	validate *validator.Validate
	now      func() time.Time
	wait     func(context.Context, time.Duration) error
}

func NewOrchestrator(agg Aggregator, sender Sender, log ExecutionLog, opts Options) *Orchestrator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Organization == "" {
		opts.Organization = "CDR"
	}
	return &Orchestrator{
		agg:      agg,
		sender:   sender,
		log:      log,
		opts:     opts,
		validate: validator.New(),
		now:      time.Now,
		wait:     waitRetry,
	}
}

// Result is the outcome of Execute.
type Result struct {
	Execution  models.ReportExecution    `json:"execution"`
	Statistics models.DeliveryStatistics `json:"statistics"`
}

// Execute prepares a run, delivers it and retries retryable failures up
// to the configured limit, waiting RetryDelay before each retry. Retries
// stop once ctx is done.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	run, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := run.Deliver(ctx); err != nil {
		return nil, err
	}

	for run.Retryable() {
		if err := o.wait(ctx, o.opts.RetryDelay); err != nil {
			slog.Warn("report retries abandoned",
				"execution_id", run.Execution().ID, "error", err)
			break
		}
		if _, err := run.Retry(ctx); err != nil {
			break
		}
	}

	return &Result{Execution: run.Execution(), Statistics: run.Statistics()}, nil
}

func waitRetry(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prepare validates req, aggregates the period once and renders the
// message. Nothing is sent. Cancelling ctx before Prepare returns
// abandons the run.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*Run, error) {
	if err := req.Range.Validate(); err != nil {
		return nil, err
	}
	if req.Kind == "" {
		req.Kind = models.ReportOnDemand
	}
	if req.Trigger == "" {
		req.Trigger = models.TriggerOnDemand
	}
	if req.Granularity == "" {
		req.Granularity = defaultGranularity(req.Kind)
	}
	if _, err := req.Granularity.GroupKey(); err != nil {
		return nil, err
	}

	recipients, err := Recipients(o.validate, req.Recipients, o.opts.DefaultRecipients, o.opts.ExcludedRecipients)
	if err != nil {
		return nil, err
	}

	started := o.now().UTC()
	exec := models.ReportExecution{
		ID:          uuid.New(),
		Kind:        req.Kind,
		Trigger:     req.Trigger,
		PeriodStart: req.Range.Start,
		PeriodEnd:   req.Range.End,
		Status:      models.ExecutionRunning,
		StartedAt:   &started,
		Recipients:  len(recipients),
		CreatedAt:   started,
	}
	if err := o.log.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("%w: create execution log: %v", models.ErrUpstreamUnavailable, err)
	}

	logger := slog.With("execution_id", exec.ID, "kind", exec.Kind)
	logger.Info("report run started",
		"start", req.Range.Start, "end", req.Range.End, "recipients", len(recipients))

	content, err := o.aggregate(ctx, req)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		o.fail(ctx, &exec, err)
		return nil, err
	}

	subject := Subject(o.opts.Organization, req.Kind, req.Range, o.opts.Location)
	content.Subject = subject
	body, err := RenderBody(content)
	if err != nil {
		o.fail(ctx, &exec, err)
		return nil, fmt.Errorf("render report: %w", err)
	}

	attachment, err := o.writeAttachment(exec, content)
	if err != nil {
		o.fail(ctx, &exec, err)
		return nil, err
	}

	exec.GenerationMs = time.Since(started).Milliseconds()
	exec.RecordsProcessed = content.TotalRecords()
	exec.FileName = filepath.Base(attachment)
	if err := o.log.Update(context.WithoutCancel(ctx), exec); err != nil {
		logger.Error("failed to update execution log", "error", err)
	}
	metrics.ObserveReport(string(exec.Kind), "prepared", time.Since(started))

	logger.Info("report prepared",
		"records", exec.RecordsProcessed, "generation_ms", exec.GenerationMs, "file", exec.FileName)

	return &Run{
		o:          o,
		exec:       exec,
		content:    content,
		subject:    subject,
		body:       body,
		attachment: attachment,
		recipients: recipients,
		outcomes:   make(map[string]models.Outcome, len(recipients)),
	}, nil
}

func defaultGranularity(kind models.ReportKind) aggregate.Granularity {
	if kind == models.ReportOnDemand {
		return aggregate.Monthly
	}
	return aggregate.Weekly
}

// aggregate runs both aggregations of a report concurrently.
func (o *Orchestrator) aggregate(ctx context.Context, req Request) (Content, error) {
	content := Content{
		Organization: o.opts.Organization,
		Kind:         req.Kind,
		Range:        req.Range,
		Location:     o.opts.Location,
		GeneratedAt:  o.now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rates, err := o.agg.AnsweredCallRate(gctx, req.Range, req.Granularity)
		if err != nil {
			return fmt.Errorf("answered call rate: %w", err)
		}
		content.Rates = rates
		return nil
	})
	g.Go(func() error {
		stats, err := o.agg.LocationStatistics(gctx, req.Range)
		if err != nil {
			return fmt.Errorf("location statistics: %w", err)
		}
		content.Locations = stats
		return nil
	})

	if err := g.Wait(); err != nil {
		return Content{}, err
	}
	return content, nil
}

func (o *Orchestrator) writeAttachment(exec models.ReportExecution, content Content) (string, error) {
	dir := o.opts.StorageDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	name := FileName(exec.Kind, content.Range, o.opts.Location, exec.ID.String()[:8])
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	if err := WriteCSV(f, content); err != nil {
		f.Close()
		return "", fmt.Errorf("write report file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report file: %w", err)
	}
	return path, nil
}

// FilePath returns where the attachment named name is stored. Names that
// would leave the storage directory are rejected.
func (o *Orchestrator) FilePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid report file name %q", models.ErrInvalidArgument, name)
	}
	dir := o.opts.StorageDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, name), nil
}

func (o *Orchestrator) fail(ctx context.Context, exec *models.ReportExecution, cause error) {
	completed := o.now().UTC()
	exec.Status = models.ExecutionFailed
	exec.CompletedAt = &completed
	exec.Error = cause.Error()
	if exec.StartedAt != nil {
		exec.GenerationMs = completed.Sub(*exec.StartedAt).Milliseconds()
	}

	if err := o.log.Update(context.WithoutCancel(ctx), *exec); err != nil {
		slog.Error("failed to update execution log", "execution_id", exec.ID, "error", err)
	}
	metrics.ObserveReport(string(exec.Kind), string(models.ExecutionFailed), 0)
	slog.Error("report run failed", "execution_id", exec.ID, "kind", exec.Kind, "error", cause)
}

// Run is one prepared report. Its aggregation and rendered message are
// computed once and reused by Deliver and Retry.
type Run struct {
	o *Orchestrator

	mu         sync.Mutex
	exec       models.ReportExecution
	content    Content
	subject    string
	body       string
	attachment string
	recipients []string
	outcomes   map[string]models.Outcome
	delivered  bool
	retries    int
}

func (r *Run) Execution() models.ReportExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec
}

func (r *Run) Content() Content {
	return r.content
}

func (r *Run) Body() string {
	return r.body
}

func (r *Run) Recipients() []string {
	return append([]string(nil), r.recipients...)
}

// Statistics counts every recipient once with its latest outcome.
func (r *Run) Statistics() models.DeliveryStatistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

func (r *Run) statsLocked() models.DeliveryStatistics {
	stats := models.NewDeliveryStatistics()
	if !r.delivered {
		return stats
	}
	for _, addr := range r.recipients {
		stats.Record(r.outcomes[addr])
	}
	return stats
}

// Deliver sends the report once to every recipient. A second call
// returns ErrAlreadyDelivered without sending.
func (r *Run) Deliver(ctx context.Context) (models.DeliveryStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.delivered {
		return models.DeliveryStatistics{}, ErrAlreadyDelivered
	}
	r.delivered = true

	stats := r.sendLocked(ctx, r.recipients, 1)
	return stats, nil
}

// Retryable reports whether Retry would resend anything.
func (r *Run) Retryable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered && r.retries < r.o.opts.MaxRetries && len(r.retryTargetsLocked()) > 0
}

// Retry resends the cached message to recipients whose last outcome was a
// retryable failure. It returns the statistics of the resent batch.
func (r *Run) Retry(ctx context.Context) (models.DeliveryStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.delivered {
		return models.DeliveryStatistics{}, ErrNotDelivered
	}
	if r.retries >= r.o.opts.MaxRetries {
		return models.DeliveryStatistics{}, ErrRetriesExhausted
	}

	targets := r.retryTargetsLocked()
	if len(targets) == 0 {
		return models.NewDeliveryStatistics(), nil
	}
	if err := ctx.Err(); err != nil {
		return models.DeliveryStatistics{}, err
	}

	r.retries++
	r.exec.Trigger = models.TriggerRetry
	return r.sendLocked(ctx, targets, r.retries+1), nil
}

func (r *Run) retryTargetsLocked() []string {
	var out []string
	for _, addr := range r.recipients {
		o, ok := r.outcomes[addr]
		if ok && o.Status == models.DeliveryFailed && o.Reason.Retryable() {
			out = append(out, addr)
		}
	}
	return out
}

func (r *Run) sendLocked(ctx context.Context, recipients []string, attempt int) models.DeliveryStatistics {
	msgs := make([]models.EmailMessage, len(recipients))
	for i, addr := range recipients {
		msgs[i] = models.EmailMessage{
			ID:          uuid.New(),
			Subject:     r.subject,
			Body:        r.body,
			To:          []string{addr},
			Attachments: []string{r.attachment},
		}
	}

	id := r.exec.ID
	start := time.Now()
	outcomes, batch := r.o.sender.DeliverEach(ctx, msgs, notify.Attempt{ExecutionID: &id, Number: attempt})
	for i, addr := range recipients {
		r.outcomes[addr] = outcomes[i]
	}

	total := r.statsLocked()
	completed := r.o.now().UTC()
	r.exec.DeliveryMs += time.Since(start).Milliseconds()
	r.exec.Successful = total.TotalSuccessful
	r.exec.Failed = total.TotalFailed
	r.exec.Pending = total.TotalPending
	r.exec.CompletedAt = &completed
	r.exec.Status = models.ExecutionCompleted
	r.exec.Error = ""
	if total.TotalSuccessful == 0 && total.TotalPending == 0 {
		r.exec.Status = models.ExecutionFailed
		r.exec.Error = "no recipient received the report"
	}

	if err := r.o.log.Update(context.WithoutCancel(ctx), r.exec); err != nil {
		slog.Error("failed to update execution log", "execution_id", r.exec.ID, "error", err)
	}
	metrics.ObserveReport(string(r.exec.Kind), string(r.exec.Status), 0)

	slog.Info("report delivered",
		"execution_id", r.exec.ID,
		"attempt", attempt,
		"sent", batch.TotalSent,
		"succeeded", total.TotalSuccessful,
		"failed", total.TotalFailed,
		"pending", total.TotalPending)
	return batch
}
