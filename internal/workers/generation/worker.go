// Package generation implements the song generation worker: it drains the
// pending generation queue through a browser session, one job at a time,
// with per-job error isolation. One job failing never aborts the queue;
// stop requests are honored between jobs and at driver checkpoints.
package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/melodana/songforge/internal/browser"
	"github.com/melodana/songforge/internal/common"
	"github.com/melodana/songforge/internal/download"
	"github.com/melodana/songforge/internal/interfaces"
	"github.com/melodana/songforge/internal/models"
	"github.com/melodana/songforge/internal/retry"
	"github.com/melodana/songforge/internal/worker"
)

// Selector groups the worker drives. Job payload keys name the form field
// groups; these cover the rest of the flow.
const (
	groupSubmitButton     = "submit_button"
	groupCompletionMarker = "completion_marker"
	groupArtifactLink     = "artifact_link"
)

// PageDriver is the slice of the browser driver the worker uses. Satisfied
// by *browser.Driver; tests substitute a scripted fake.
type PageDriver interface {
	OpenPage(ctx context.Context, url string) error
	FillField(ctx context.Context, group, value string) error
	ClickElement(ctx context.Context, group string) error
	Attribute(ctx context.Context, group, attr string) (string, error)
	WaitForElement(ctx context.Context, group string, opts browser.WaitOpts) error
	WaitForURL(ctx context.Context, match func(string) bool, what string, opts browser.WaitOpts) error
	Session() interfaces.BrowserSession
}

// DriverFactory opens a browser session and wraps it in a driver. The
// returned release func closes the session; it is called exactly once.
type DriverFactory func(ctx context.Context) (PageDriver, func(), error)

// Worker processes the pending generation queue
type Worker struct {
	*worker.Base

	cfg      common.GenerationConfig
	timeouts common.TimeoutConfig
	storage  interfaces.StorageManager
	dm       *download.Manager
	factory  DriverFactory
	logger   arbor.ILogger

	jobIDs []string // optional explicit subset; empty means all pending

	driver  PageDriver
	release func()
}

// New creates a generation worker. jobIDs restricts the run to an explicit
// subset; nil processes every pending generation job.
func New(cfg common.GenerationConfig, timeouts common.TimeoutConfig, storage interfaces.StorageManager, dm *download.Manager, factory DriverFactory, jobIDs []string, logger arbor.ILogger) *Worker {
	return &Worker{
		Base:     worker.NewBase("generation", cfg.EventBuffer, logger),
		cfg:      cfg,
		timeouts: timeouts,
		storage:  storage,
		dm:       dm,
		factory:  factory,
		jobIDs:   jobIDs,
		logger:   logger,
	}
}

// Run starts the worker goroutine
func (w *Worker) Run() error {
	return w.Start(w)
}

// Open launches the browser session unless this is a dry run
func (w *Worker) Open(ctx context.Context) error {
	if w.cfg.DryRun {
		return nil
	}
	driver, release, err := w.factory(ctx)
	if err != nil {
		return fmt.Errorf("failed to open browser session: %w", err)
	}
	w.driver = driver
	w.release = release
	return nil
}

// Close releases the browser session. Runs on every exit path.
func (w *Worker) Close() {
	if w.release != nil {
		w.release()
	}
}

// Execute drains the queue in enqueue order
func (w *Worker) Execute(ctx context.Context) error {
	jobs, err := w.claimJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		w.Progress("No queued jobs to process")
		return nil
	}

	total := len(jobs)
	if w.cfg.MaxPerRun > 0 && total > w.cfg.MaxPerRun {
		total = w.cfg.MaxPerRun
	}
	jobs = jobs[:total]

	if w.cfg.DryRun {
		w.runDry(ctx, jobs)
		return nil
	}

	w.Progress(fmt.Sprintf("Starting queue: %d job(s) to process", total))

	if err := w.ensureLoggedIn(ctx); err != nil {
		return fmt.Errorf("login not completed: %w", err)
	}
	w.Progress("Logged in successfully")

	// Politeness pacing between jobs. The first Wait consumes the initial
	// token immediately; later Waits space jobs out and wake on cancel.
	limiter := rate.NewLimiter(rate.Every(w.delayBetween()), 1)

	for i, job := range jobs {
		if w.StopRequested() {
			w.Progress("Stopped by user")
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			w.Progress("Stopped by user")
			break
		}

		w.Emit(worker.Event{Type: worker.EventJobStarted, JobID: job.ID, Message: job.Name})
		w.Progress(fmt.Sprintf("Processing %q (%d/%d)", job.Name, i+1, total))

		// Persist the claim before touching the browser so a crash
		// mid-job leaves visible state
		if err := w.storage.JobStorage().UpdateStatus(ctx, job.ID, models.JobStatusInProgress); err != nil {
			w.failJob(ctx, job, fmt.Sprintf("failed to claim job: %v", err))
			continue
		}

		resultRef, err := w.processJob(ctx, job)
		switch {
		case err == nil:
			if err := w.storage.JobStorage().MarkSucceeded(ctx, job.ID, resultRef); err != nil {
				w.logger.Error().Str("job", job.ID).Err(err).Msg("Failed to persist success")
			}
			w.Emit(worker.Event{Type: worker.EventJobSucceeded, JobID: job.ID, ResultRef: resultRef})
			w.logger.Info().Str("job", job.ID).Str("result", resultRef).Msg("Job succeeded")

		case errors.Is(err, retry.ErrStopped):
			w.failJob(ctx, job, "stopped before completion")
			w.Progress("Stopped by user")
			return nil

		case browser.CategoryOf(err) == browser.CategorySessionExpired:
			// Cannot proceed without a session; remaining jobs stay pending
			w.failJob(ctx, job, userMessage(err))
			return fmt.Errorf("session expired and login was not completed: %w", err)

		default:
			w.failJob(ctx, job, userMessage(err))
		}
	}

	w.Progress("Queue processing complete")
	return nil
}

func (w *Worker) claimJobs(ctx context.Context) ([]*models.Job, error) {
	if len(w.jobIDs) > 0 {
		return w.storage.JobStorage().ListByIDs(ctx, w.jobIDs)
	}
	return w.storage.JobStorage().ListByStatus(ctx, models.JobTypeGeneration, models.JobStatusPending)
}

// ensureLoggedIn opens the form page and, if the site bounced us to its
// auth pages, waits for the user to complete a manual login. Expiry or a
// stop request aborts the whole run.
func (w *Worker) ensureLoggedIn(ctx context.Context) error {
	if err := w.driver.OpenPage(ctx, w.cfg.BaseURL+w.cfg.FormPath); err != nil {
		return err
	}

	url, err := w.driver.Session().CurrentURL(ctx)
	if err != nil {
		return err
	}
	if !w.isAuthURL(url) {
		return nil
	}

	w.Emit(worker.Event{
		Type:    worker.EventLoginRequired,
		Message: "Please log in in the browser window. The queue will continue automatically once you're logged in.",
	})
	if err := w.driver.OpenPage(ctx, w.cfg.BaseURL+w.cfg.LoginPath); err != nil {
		return err
	}

	err = w.driver.WaitForURL(ctx, func(u string) bool { return !w.isAuthURL(u) }, "manual login", browser.WaitOpts{
		Timeout:   w.timeouts.LoginWait,
		Interval:  2 * time.Second,
		StopCheck: w.StopRequested,
	})
	if err != nil {
		return err
	}

	// Land back on the form page before processing starts
	return w.driver.OpenPage(ctx, w.cfg.BaseURL+w.cfg.FormPath)
}

// processJob drives one job through form fill, submit, completion poll,
// and artifact download. Returns the result reference on success.
func (w *Worker) processJob(ctx context.Context, job *models.Job) (string, error) {
	// Session may have expired since the last job
	url, err := w.driver.Session().CurrentURL(ctx)
	if err != nil {
		return "", browser.WrapDriverError(browser.CategoryNetwork, err, "browser is no longer reachable")
	}
	if w.isAuthURL(url) {
		w.Emit(worker.Event{
			Type:    worker.EventLoginRequired,
			JobID:   job.ID,
			Message: "Session expired. Please log in again in the browser window.",
		})
		err := w.driver.WaitForURL(ctx, func(u string) bool { return !w.isAuthURL(u) }, "re-login", browser.WaitOpts{
			Timeout:   w.timeouts.LoginWait,
			Interval:  2 * time.Second,
			StopCheck: w.StopRequested,
		})
		if err != nil {
			return "", browser.WrapDriverError(browser.CategorySessionExpired, err, "session expired")
		}
	}

	if err := w.driver.OpenPage(ctx, w.cfg.BaseURL+w.cfg.FormPath); err != nil {
		return "", err
	}

	// Payload keys are selector group names; fill in stable order
	fields := make([]string, 0, len(job.Payload))
	for field := range job.Payload {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if err := w.driver.FillField(ctx, field, job.Payload[field]); err != nil {
			return "", err
		}
	}

	if err := w.driver.ClickElement(ctx, groupSubmitButton); err != nil {
		return "", err
	}

	if err := w.pause(ctx, w.timeouts.PostSubmitDelay); err != nil {
		return "", err
	}

	w.Progress(fmt.Sprintf("Submitted %q, waiting for generation to finish", job.Name))
	err = w.driver.WaitForElement(ctx, groupCompletionMarker, browser.WaitOpts{
		Timeout:   w.timeouts.CompletionPoll,
		Interval:  w.timeouts.PollInterval,
		StopCheck: w.StopRequested,
	})
	if err != nil {
		return "", err
	}

	artifactURL, err := w.driver.Attribute(ctx, groupArtifactLink, "href")
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(artifactURL, "/") {
		artifactURL = w.cfg.BaseURL + artifactURL
	}

	cookies, err := w.driver.Session().Cookies(ctx)
	if err != nil {
		w.logger.Warn().Str("job", job.ID).Err(err).Msg("Could not read session cookies for download")
	}

	expected := w.dm.RemoteFileSize(ctx, artifactURL)
	path, err := w.dm.SaveFromURL(ctx, artifactURL, job.Name, 1, cookies, expected)
	if err != nil {
		return "", browser.WrapDriverError(browser.CategoryDownloadFailed, err, "artifact download failed")
	}
	return path, nil
}

// runDry simulates the queue without a browser: every job passes through
// the full status and event surface and gets a placeholder artifact.
func (w *Worker) runDry(ctx context.Context, jobs []*models.Job) {
	w.Progress(fmt.Sprintf("[DRY RUN] Starting queue: %d job(s)", len(jobs)))

	for i, job := range jobs {
		if w.StopRequested() {
			w.Progress("Stopped by user")
			return
		}

		w.Emit(worker.Event{Type: worker.EventJobStarted, JobID: job.ID, Message: job.Name})
		w.Progress(fmt.Sprintf("[DRY RUN] Processing %q (%d/%d)", job.Name, i+1, len(jobs)))

		if err := w.storage.JobStorage().UpdateStatus(ctx, job.ID, models.JobStatusInProgress); err != nil {
			w.failJob(ctx, job, fmt.Sprintf("failed to claim job: %v", err))
			continue
		}

		path, err := w.writePlaceholder(job)
		if err != nil {
			w.failJob(ctx, job, fmt.Sprintf("dry run artifact failed: %v", err))
			continue
		}

		if err := w.storage.JobStorage().MarkSucceeded(ctx, job.ID, path); err != nil {
			w.logger.Error().Str("job", job.ID).Err(err).Msg("Failed to persist success")
		}
		w.Emit(worker.Event{Type: worker.EventJobSucceeded, JobID: job.ID, ResultRef: path})
	}

	w.Progress("Queue processing complete")
}

func (w *Worker) writePlaceholder(job *models.Job) (string, error) {
	path, err := w.dm.TrackFilePath(job.Name, "dry_run", ".txt", "")
	if err != nil {
		return "", err
	}
	content := fmt.Sprintf("dry run placeholder for job %s (%s)\n", job.ID, job.Name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// failJob records a job failure and emits its error events. The failure is
// isolated; the caller decides whether the queue continues.
func (w *Worker) failJob(ctx context.Context, job *models.Job, message string) {
	if err := w.storage.JobStorage().MarkFailed(ctx, job.ID, message); err != nil {
		w.logger.Error().Str("job", job.ID).Err(err).Msg("Failed to persist failure")
	}
	w.Emit(worker.Event{Type: worker.EventJobFailed, JobID: job.ID, Message: message})
	w.ReportError("job", fmt.Sprintf("%s: %s", job.Name, message))
}

// pause sleeps, honoring cancellation
func (w *Worker) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return retry.ErrStopped
	}
}

func (w *Worker) isAuthURL(url string) bool {
	marker := w.cfg.AuthPathMarker
	if marker == "" {
		marker = "/auth/"
	}
	return strings.Contains(url, marker)
}

func (w *Worker) delayBetween() time.Duration {
	if w.cfg.DelayBetween <= 0 {
		return time.Second
	}
	return w.cfg.DelayBetween
}

// userMessage prefers the driver error's user-facing text
func userMessage(err error) string {
	var de *browser.DriverError
	if errors.As(err, &de) {
		return de.UserMessage()
	}
	return err.Error()
}

var _ worker.Lifecycle = (*Worker)(nil)
