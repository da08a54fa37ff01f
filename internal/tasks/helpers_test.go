package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/highlightz-backend/internal/mladapter"
	"github.com/angelmondragon/highlightz-backend/internal/queue"
	"github.com/angelmondragon/highlightz-backend/pkg/db/dbtest"
	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "tasks-test", Output: io.Discard})
}

type fixture struct {
	db        *gorm.DB
	repo      Repository
	notifier  *memNotifier
	outcomes  *recordingOutcomes
	registry  *prometheus.Registry
	metrics   *metrics.TaskMetrics
	finalizer *Finalizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	reg := prometheus.NewRegistry()
	m := metrics.NewTaskMetrics(reg)
	notifier := newMemNotifier()
	outcomes := &recordingOutcomes{}
	fin, err := NewFinalizer(FinalizerParams{
		Repo:     repo,
		Notifier: notifier,
		Outcomes: outcomes,
		Metrics:  m,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	return &fixture{
		db:        conn,
		repo:      repo,
		notifier:  notifier,
		outcomes:  outcomes,
		registry:  reg,
		metrics:   m,
		finalizer: fin,
	}
}

func (f *fixture) seedVideo(t *testing.T, file string) *models.Video {
	t.Helper()
	video := &models.Video{Title: "clip", File: file, Status: enums.VideoStatusNotProcessed}
	require.NoError(t, f.db.Create(video).Error)
	return video
}

func (f *fixture) seedTask(t *testing.T, videoID int64, prompt *string) *models.Task {
	t.Helper()
	task, err := f.repo.Create(context.Background(), videoID, prompt)
	require.NoError(t, err)
	return task
}

func (f *fixture) reload(t *testing.T, id int64) *models.Task {
	t.Helper()
	task, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (f *fixture) videoStatus(t *testing.T, id int64) enums.VideoStatus {
	t.Helper()
	var video models.Video
	require.NoError(t, f.db.First(&video, "id = ?", id).Error)
	return video.Status
}

func (f *fixture) newRunner(t *testing.T, classifier Classifier) *Runner {
	t.Helper()
	runner, err := NewRunner(RunnerParams{
		Repo:       f.repo,
		Classifier: classifier,
		Finalizer:  f.finalizer,
		Metrics:    f.metrics,
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	return runner
}

// fakeClassifier records calls; block makes Classify wait for ctx and delay
// holds the result back unless ctx ends first.
type fakeClassifier struct {
	mu         sync.Mutex
	configured bool
	result     mladapter.Result
	block      bool
	delay      time.Duration
	calls      []mladapter.Request
}

func (c *fakeClassifier) Configured() bool { return c.configured }

func (c *fakeClassifier) Classify(ctx context.Context, req mladapter.Request) mladapter.Result {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	if c.block {
		<-ctx.Done()
		return mladapter.Err(mladapter.KindTimeout, "ml service timed out: "+ctx.Err().Error())
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return mladapter.Err(mladapter.KindTimeout, "ml service timed out: "+ctx.Err().Error())
		}
	}
	return c.result
}

func (c *fakeClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type memNotifier struct {
	mu   sync.Mutex
	subs map[int64][]chan struct{}
	sent []int64
}

func newMemNotifier() *memNotifier {
	return &memNotifier{subs: map[int64][]chan struct{}{}}
}

func (n *memNotifier) NotifyDone(_ context.Context, taskID int64, _ enums.TaskStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, taskID)
	for _, ch := range n.subs[taskID] {
		close(ch)
	}
	delete(n.subs, taskID)
	return nil
}

func (n *memNotifier) SubscribeDone(_ context.Context, taskID int64) (Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan struct{})
	n.subs[taskID] = append(n.subs[taskID], ch)
	return memSubscription{ch: ch}, nil
}

type memSubscription struct {
	ch chan struct{}
}

func (s memSubscription) Done() <-chan struct{} { return s.ch }
func (s memSubscription) Close() error          { return nil }

type recordingOutcomes struct {
	mu     sync.Mutex
	events []OutcomeEvent
}

func (r *recordingOutcomes) RecordOutcome(_ context.Context, event OutcomeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingOutcomes) snapshot() []OutcomeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutcomeEvent, len(r.events))
	copy(out, r.events)
	return out
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	messages []queue.JobMessage
}

func (p *fakePublisher) Publish(_ context.Context, msg queue.JobMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

var errBrokerDown = errors.New("broker unavailable")

func okResult(t *testing.T, v any) mladapter.Result {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return mladapter.Ok(raw)
}

// counter returns the value of the series of name whose label key equals value.
func (f *fixture) counter(t *testing.T, name, key, value string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == key && label.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (f *fixture) counterTotal(t *testing.T, name string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func strPtr(s string) *string { return &s }

// waitForCall blocks until c has been called once, giving up after 2s.
func waitForCall(c *fakeClassifier) {
	deadline := time.Now().Add(2 * time.Second)
	for c.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}
