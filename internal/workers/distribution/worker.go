// Package distribution implements the release upload worker. It drains
// pending distribution jobs through a distributor backend's web UI, one
// release at a time, with the same isolation rules as the generation
// worker: validation or upload failure marks that release failed and the
// queue moves on.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/browser"
	"github.com/melodana/songforge/internal/common"
	"github.com/melodana/songforge/internal/distributors"
	"github.com/melodana/songforge/internal/interfaces"
	"github.com/melodana/songforge/internal/models"
	"github.com/melodana/songforge/internal/retry"
	"github.com/melodana/songforge/internal/worker"
)

const (
	groupUploadButton   = "upload_button"
	groupUploadComplete = "upload_complete_marker"
)

// Payload keys the worker interprets instead of filling verbatim
const (
	payloadGenre    = "primary_genre"
	payloadSongID   = "song_id"
	payloadAudio    = "audio_path"
	payloadCoverArt = "cover_art_path"
)

// PageDriver is the slice of the browser driver this worker uses
type PageDriver interface {
	OpenPage(ctx context.Context, url string) error
	FillField(ctx context.Context, group, value string) error
	ClickElement(ctx context.Context, group string) error
	WaitForElement(ctx context.Context, group string, opts browser.WaitOpts) error
	WaitForURL(ctx context.Context, match func(string) bool, what string, opts browser.WaitOpts) error
	Session() interfaces.BrowserSession
}

// DriverFactory opens a browser session and wraps it in a driver
type DriverFactory func(ctx context.Context) (PageDriver, func(), error)

// Worker uploads pending releases through a distributor backend
type Worker struct {
	*worker.Base

	cfg      common.DistributionConfig
	timeouts common.TimeoutConfig
	storage  interfaces.StorageManager
	factory  DriverFactory
	logger   arbor.ILogger

	jobIDs []string

	backend interfaces.Distributor
	driver  PageDriver
	release func()
}

// New creates a distribution worker for the configured backend
func New(cfg common.DistributionConfig, timeouts common.TimeoutConfig, storage interfaces.StorageManager, factory DriverFactory, jobIDs []string, logger arbor.ILogger) *Worker {
	return &Worker{
		Base:     worker.NewBase("distribution", cfg.EventBuffer, logger),
		cfg:      cfg,
		timeouts: timeouts,
		storage:  storage,
		factory:  factory,
		jobIDs:   jobIDs,
		logger:   logger,
	}
}

// Run starts the worker goroutine
func (w *Worker) Run() error {
	return w.Start(w)
}

// Open resolves the backend and, when it needs one, a browser session
func (w *Worker) Open(ctx context.Context) error {
	backend, err := distributors.Get(w.cfg.Backend)
	if err != nil {
		return err
	}
	w.backend = backend

	if !backend.RequiresSession() {
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

// Close releases the browser session
func (w *Worker) Close() {
	if w.release != nil {
		w.release()
	}
}

// Execute uploads each pending release in enqueue order
func (w *Worker) Execute(ctx context.Context) error {
	jobs, err := w.claimJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		w.Progress("No releases ready for upload")
		return nil
	}

	w.Progress(fmt.Sprintf("Starting %s upload: %d release(s)", w.backend.Name(), len(jobs)))

	if w.backend.RequiresSession() {
		if err := w.ensureLoggedIn(ctx); err != nil {
			return fmt.Errorf("login not completed: %w", err)
		}
		w.Progress(fmt.Sprintf("Logged in to %s", w.backend.Name()))
	}

	for i, job := range jobs {
		if w.StopRequested() {
			w.Progress("Stopped by user")
			break
		}

		w.Emit(worker.Event{Type: worker.EventJobStarted, JobID: job.ID, Message: job.Name})
		w.Progress(fmt.Sprintf("Uploading %q (%d/%d)", job.Name, i+1, len(jobs)))

		if errs := w.backend.Validate(job); len(errs) > 0 {
			w.failJob(ctx, job, strings.Join(errs, "; "))
			continue
		}

		if err := w.storage.JobStorage().UpdateStatus(ctx, job.ID, models.JobStatusInProgress); err != nil {
			w.failJob(ctx, job, fmt.Sprintf("failed to claim release: %v", err))
			continue
		}

		err := w.uploadRelease(ctx, job)
		switch {
		case err == nil:
			if err := w.storage.JobStorage().MarkSucceeded(ctx, job.ID, w.backend.Slug()); err != nil {
				w.logger.Error().Str("job", job.ID).Err(err).Msg("Failed to persist success")
			}
			w.Emit(worker.Event{Type: worker.EventJobSucceeded, JobID: job.ID})
			w.logger.Info().Str("job", job.ID).Msg("Upload complete")

		case errors.Is(err, retry.ErrStopped):
			w.failJob(ctx, job, "stopped before completion")
			w.Progress("Stopped by user")
			return nil

		default:
			w.failJob(ctx, job, err.Error())
		}
	}

	w.Progress("Upload queue complete")
	return nil
}

func (w *Worker) claimJobs(ctx context.Context) ([]*models.Job, error) {
	if len(w.jobIDs) > 0 {
		return w.storage.JobStorage().ListByIDs(ctx, w.jobIDs)
	}
	return w.storage.JobStorage().ListByStatus(ctx, models.JobTypeDistribution, models.JobStatusPending)
}

// ensureLoggedIn waits for a manual login with 2FA. The distributor login
// wait is longer than the generation site's because of the 2FA round-trip.
func (w *Worker) ensureLoggedIn(ctx context.Context) error {
	if err := w.driver.OpenPage(ctx, w.cfg.BaseURL+w.cfg.UploadPath); err != nil {
		return err
	}
	url, err := w.driver.Session().CurrentURL(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(url, w.cfg.LoginPath) {
		return nil
	}

	w.Emit(worker.Event{
		Type: worker.EventLoginRequired,
		Message: fmt.Sprintf("Please log in to %s in the browser window and complete 2FA. "+
			"The upload will continue automatically once you're logged in.", w.backend.Name()),
	})

	err = w.driver.WaitForURL(ctx, func(u string) bool { return !strings.Contains(u, w.cfg.LoginPath) }, "manual login", browser.WaitOpts{
		Timeout:   w.loginWait(),
		Interval:  2 * time.Second,
		StopCheck: w.StopRequested,
	})
	if err != nil {
		return err
	}
	return w.driver.OpenPage(ctx, w.cfg.BaseURL+w.cfg.UploadPath)
}

// uploadRelease fills the upload form, maps the genre to the backend's
// vocabulary, submits, and waits for the service to confirm
func (w *Worker) uploadRelease(ctx context.Context, job *models.Job) error {
	if err := w.driver.OpenPage(ctx, w.cfg.BaseURL+w.cfg.UploadPath); err != nil {
		return err
	}

	fields := make([]string, 0, len(job.Payload))
	for field := range job.Payload {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := job.Payload[field]
		switch field {
		case payloadSongID, payloadAudio, payloadCoverArt:
			// Not form text fields; file attachment is driven by the
			// backend page itself
			continue
		case payloadGenre:
			value = w.backend.MapGenre(value)
		}
		if err := w.driver.FillField(ctx, field, value); err != nil {
			return err
		}
	}

	if err := w.driver.ClickElement(ctx, groupUploadButton); err != nil {
		return err
	}

	return w.driver.WaitForElement(ctx, groupUploadComplete, browser.WaitOpts{
		Timeout:   w.timeouts.CompletionPoll,
		Interval:  w.timeouts.PollInterval,
		StopCheck: w.StopRequested,
	})
}

func (w *Worker) failJob(ctx context.Context, job *models.Job, message string) {
	if err := w.storage.JobStorage().MarkFailed(ctx, job.ID, message); err != nil {
		w.logger.Error().Str("job", job.ID).Err(err).Msg("Failed to persist failure")
	}
	w.Emit(worker.Event{Type: worker.EventJobFailed, JobID: job.ID, Message: message})
	w.ReportError("upload", fmt.Sprintf("%s: %s", job.Name, message))
}

func (w *Worker) loginWait() time.Duration {
	if w.cfg.LoginWait > 0 {
		return w.cfg.LoginWait
	}
	return w.timeouts.LoginWait
}

var _ worker.Lifecycle = (*Worker)(nil)
