package generation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/browser"
	"github.com/melodana/songforge/internal/common"
	"github.com/melodana/songforge/internal/download"
	"github.com/melodana/songforge/internal/interfaces"
	"github.com/melodana/songforge/internal/models"
	badgerstorage "github.com/melodana/songforge/internal/storage/badger"
	"github.com/melodana/songforge/internal/worker"
)

// fakeSession only needs CurrentURL and Cookies for these tests
type fakeSession struct {
	mu  sync.Mutex
	url string
}

func (s *fakeSession) setURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = u
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error { return nil }
func (s *fakeSession) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}
func (s *fakeSession) IsVisible(ctx context.Context, selector string) (bool, error) {
	return false, nil
}
func (s *fakeSession) Fill(ctx context.Context, selector, value string) error { return nil }
func (s *fakeSession) Click(ctx context.Context, selector string) error       { return nil }
func (s *fakeSession) Evaluate(ctx context.Context, script string, out interface{}) error {
	return nil
}
func (s *fakeSession) PageHTML(ctx context.Context) (string, error)        { return "", nil }
func (s *fakeSession) Cookies(ctx context.Context) ([]*http.Cookie, error) { return nil, nil }
func (s *fakeSession) Close() error                                        { return nil }

// fakeDriver scripts the page interactions. A fill value of "INVALID"
// simulates a form the site rejects.
type fakeDriver struct {
	mu          sync.Mutex
	session     *fakeSession
	artifactURL string
	loginStays  bool // manual login never completes

	fills  []string
	clicks int
}

func (d *fakeDriver) OpenPage(ctx context.Context, url string) error { return nil }

func (d *fakeDriver) FillField(ctx context.Context, group, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if value == "INVALID" {
		return browser.NewDriverError(browser.CategorySelectorNotFound, "no selector resolved for %q", group)
	}
	d.fills = append(d.fills, group+"="+value)
	return nil
}

func (d *fakeDriver) ClickElement(ctx context.Context, group string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks++
	return nil
}

func (d *fakeDriver) Attribute(ctx context.Context, group, attr string) (string, error) {
	return d.artifactURL, nil
}

func (d *fakeDriver) WaitForElement(ctx context.Context, group string, opts browser.WaitOpts) error {
	return nil
}

func (d *fakeDriver) WaitForURL(ctx context.Context, match func(string) bool, what string, opts browser.WaitOpts) error {
	if d.loginStays {
		return browser.NewDriverError(browser.CategoryWaitTimeout, "timed out waiting for %s", what)
	}
	d.session.setURL("https://songs.example.com/create")
	return nil
}

func (d *fakeDriver) Session() interfaces.BrowserSession { return d.session }

type fixture struct {
	worker  *Worker
	driver  *fakeDriver
	storage interfaces.StorageManager
	closed  *int
}

func newFixture(t *testing.T, mutate func(*common.GenerationConfig)) *fixture {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badgerstorage.NewManager(logger, &common.BadgerConfig{
		Path:           t.TempDir(),
		ResetOnStartup: false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	dm, err := download.NewManager(t.TempDir(), 30*time.Second, logger)
	require.NoError(t, err)

	cfg := common.GenerationConfig{
		BaseURL:        "https://songs.example.com",
		LoginPath:      "/auth/sign-in",
		FormPath:       "/create",
		AuthPathMarker: "/auth/",
		DelayBetween:   time.Millisecond,
		MaxPerRun:      20,
		EventBuffer:    64,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	timeouts := common.TimeoutConfig{
		LoginWait:      time.Second,
		CompletionPoll: time.Second,
		PollInterval:   10 * time.Millisecond,
	}

	driver := &fakeDriver{
		session: &fakeSession{url: "https://songs.example.com/create"},
	}
	closed := 0
	factory := func(ctx context.Context) (PageDriver, func(), error) {
		return driver, func() { closed++ }, nil
	}

	w := New(cfg, timeouts, manager, dm, factory, nil, logger)
	return &fixture{worker: w, driver: driver, storage: manager, closed: &closed}
}

func (f *fixture) enqueue(t *testing.T, name, prompt string) *models.Job {
	t.Helper()
	job := models.NewJob(models.JobTypeGeneration, name, map[string]string{
		"prompt_field": prompt,
	})
	require.NoError(t, f.storage.JobStorage().Create(context.Background(), job))
	return job
}

// runAndDrain starts the worker and collects every event until the channel
// closes. onEvent, when set, runs for each event as it arrives.
func runAndDrain(t *testing.T, w *Worker, onEvent func(worker.Event)) []worker.Event {
	t.Helper()
	require.NoError(t, w.Run())

	var events []worker.Event
	timeout := time.After(15 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
			if onEvent != nil {
				onEvent(ev)
			}
		case <-timeout:
			t.Fatal("timed out draining worker events")
		}
	}
}

func eventsOfType(events []worker.Event, et worker.EventType) []worker.Event {
	var out []worker.Event
	for _, ev := range events {
		if ev.Type == et {
			out = append(out, ev)
		}
	}
	return out
}

func jobStatus(t *testing.T, s interfaces.StorageManager, id string) models.JobStatus {
	t.Helper()
	job, err := s.JobStorage().Get(context.Background(), id)
	require.NoError(t, err)
	return job.Status
}

// artifactServer serves a valid MP3 payload for artifact downloads
func artifactServer(t *testing.T) *httptest.Server {
	t.Helper()
	payload := make([]byte, download.MinAudioBytes+512)
	copy(payload, "ID3")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWorker_EmptyQueue(t *testing.T) {
	f := newFixture(t, nil)

	events := runAndDrain(t, f.worker, nil)

	assert.Empty(t, eventsOfType(events, worker.EventJobStarted))
	finished := eventsOfType(events, worker.EventQueueFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, finished[0], events[len(events)-1], "terminal event is last")
	assert.Equal(t, 1, *f.closed, "browser released even with nothing to do")
}

func TestWorker_QueueIsolation(t *testing.T) {
	f := newFixture(t, nil)
	f.driver.artifactURL = artifactServer(t).URL + "/song.mp3"

	job1 := f.enqueue(t, "First Song", "an upbeat intro")
	job2 := f.enqueue(t, "Second Song", "INVALID")
	job3 := f.enqueue(t, "Third Song", "a quiet outro")

	events := runAndDrain(t, f.worker, nil)

	assert.Equal(t, models.JobStatusSucceeded, jobStatus(t, f.storage, job1.ID))
	assert.Equal(t, models.JobStatusFailed, jobStatus(t, f.storage, job2.ID))
	assert.Equal(t, models.JobStatusSucceeded, jobStatus(t, f.storage, job3.ID))

	failed := eventsOfType(events, worker.EventJobFailed)
	require.Len(t, failed, 1, "exactly one failure event")
	assert.Equal(t, job2.ID, failed[0].JobID)

	succeeded := eventsOfType(events, worker.EventJobSucceeded)
	require.Len(t, succeeded, 2)

	// Strict queue order: started events follow enqueue order
	started := eventsOfType(events, worker.EventJobStarted)
	require.Len(t, started, 3)
	assert.Equal(t, []string{job1.ID, job2.ID, job3.ID},
		[]string{started[0].JobID, started[1].JobID, started[2].JobID})

	assert.Equal(t, worker.EventQueueFinished, events[len(events)-1].Type)
	assert.Equal(t, 1, *f.closed)
}

func TestWorker_SucceededJobHasArtifact(t *testing.T) {
	f := newFixture(t, nil)
	f.driver.artifactURL = artifactServer(t).URL + "/song.mp3"

	job := f.enqueue(t, "My Song", "a song about rivers")
	runAndDrain(t, f.worker, nil)

	stored, err := f.storage.JobStorage().Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, stored.Status)
	assert.FileExists(t, stored.ResultRef)

	result := download.ValidateAudioFile(stored.ResultRef)
	assert.True(t, result.Valid)
}

func TestWorker_StopBetweenJobs(t *testing.T) {
	f := newFixture(t, func(cfg *common.GenerationConfig) {
		// Long enough that the stop request lands while pacing
		cfg.DelayBetween = 10 * time.Second
	})
	f.driver.artifactURL = artifactServer(t).URL + "/song.mp3"

	jobs := make([]*models.Job, 5)
	for i, name := range []string{"One", "Two", "Three", "Four", "Five"} {
		jobs[i] = f.enqueue(t, name, "prompt for "+name)
	}

	succeeded := 0
	events := runAndDrain(t, f.worker, func(ev worker.Event) {
		if ev.Type == worker.EventJobSucceeded {
			succeeded++
			if succeeded == 2 {
				f.worker.RequestStop()
			}
		}
	})

	assert.Equal(t, models.JobStatusSucceeded, jobStatus(t, f.storage, jobs[0].ID))
	assert.Equal(t, models.JobStatusSucceeded, jobStatus(t, f.storage, jobs[1].ID))
	for _, job := range jobs[2:] {
		assert.Equal(t, models.JobStatusPending, jobStatus(t, f.storage, job.ID), "untouched after stop")
	}

	assert.Equal(t, worker.EventQueueFinished, events[len(events)-1].Type)
	assert.Equal(t, 1, *f.closed)
}

func TestWorker_MaxPerRun(t *testing.T) {
	f := newFixture(t, func(cfg *common.GenerationConfig) {
		cfg.MaxPerRun = 2
	})
	f.driver.artifactURL = artifactServer(t).URL + "/song.mp3"

	for _, name := range []string{"One", "Two", "Three"} {
		f.enqueue(t, name, "prompt")
	}

	events := runAndDrain(t, f.worker, nil)
	assert.Len(t, eventsOfType(events, worker.EventJobStarted), 2)

	pending, err := f.storage.JobStorage().ListByStatus(context.Background(), models.JobTypeGeneration, models.JobStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestWorker_LoginTimeoutAbortsRun(t *testing.T) {
	f := newFixture(t, nil)
	f.driver.loginStays = true
	f.driver.session.setURL("https://songs.example.com/auth/sign-in")

	job := f.enqueue(t, "My Song", "prompt")
	events := runAndDrain(t, f.worker, nil)

	assert.Equal(t, models.JobStatusPending, jobStatus(t, f.storage, job.ID), "no job processed without a session")
	assert.Empty(t, eventsOfType(events, worker.EventJobStarted))
	require.NotEmpty(t, eventsOfType(events, worker.EventLoginRequired))
	require.NotEmpty(t, eventsOfType(events, worker.EventError))
	assert.Equal(t, worker.EventQueueFinished, events[len(events)-1].Type)
	assert.Equal(t, 1, *f.closed)
}

func TestWorker_ExplicitJobSubset(t *testing.T) {
	f := newFixture(t, nil)
	f.driver.artifactURL = artifactServer(t).URL + "/song.mp3"

	f.enqueue(t, "Skipped", "prompt")
	chosen := f.enqueue(t, "Chosen", "prompt")

	f.worker.jobIDs = []string{chosen.ID}
	events := runAndDrain(t, f.worker, nil)

	started := eventsOfType(events, worker.EventJobStarted)
	require.Len(t, started, 1)
	assert.Equal(t, chosen.ID, started[0].JobID)
}

func TestWorker_DryRun(t *testing.T) {
	f := newFixture(t, func(cfg *common.GenerationConfig) {
		cfg.DryRun = true
	})

	job1 := f.enqueue(t, "First Song", "prompt one")
	job2 := f.enqueue(t, "Second Song", "prompt two")

	events := runAndDrain(t, f.worker, nil)

	for _, id := range []string{job1.ID, job2.ID} {
		stored, err := f.storage.JobStorage().Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusSucceeded, stored.Status)
		assert.FileExists(t, stored.ResultRef)

		data, err := os.ReadFile(stored.ResultRef)
		require.NoError(t, err)
		assert.Contains(t, string(data), id)
	}

	assert.Len(t, eventsOfType(events, worker.EventJobSucceeded), 2)
	assert.Equal(t, 0, f.driver.clicks, "dry run never touches the browser")
	assert.Equal(t, 0, *f.closed, "no session opened, nothing to release")
}
