package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/url-thumbnailer/internal/fetch"
	"github.com/tendant/url-thumbnailer/internal/img"
	"github.com/tendant/url-thumbnailer/internal/metrics"
	"github.com/tendant/url-thumbnailer/internal/process"
	"github.com/tendant/url-thumbnailer/internal/producer"
	"github.com/tendant/url-thumbnailer/internal/store"
	"github.com/tendant/url-thumbnailer/pkg/schema"
)

type recordingNotifier struct {
	mu        sync.Mutex
	done      []schema.TaskDone
	lifecycle []schema.TaskLifecycleEvent
}

func (r *recordingNotifier) TaskDone(d schema.TaskDone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, d)
}

func (r *recordingNotifier) Lifecycle(e schema.TaskLifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycle = append(r.lifecycle, e)
}

func (r *recordingNotifier) stagesFor(id string) []schema.TaskLifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schema.TaskLifecycleEvent
	for _, e := range r.lifecycle {
		if e.TaskID == id {
			out = append(out, e)
		}
	}
	return out
}

func stageNames(events []schema.TaskLifecycleEvent) []schema.ProcessingStage {
	out := make([]schema.ProcessingStage, 0, len(events))
	for _, e := range events {
		out = append(out, e.Stage)
	}
	return out
}

func (r *recordingNotifier) doneFor(id string) (schema.TaskDone, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.done {
		if d.TaskID == id {
			return d, true
		}
	}
	return schema.TaskDone{}, false
}

// heldQueue accepts tasks but never runs them.
type heldQueue struct {
	tasks []process.Task
	err   error
}

func (q *heldQueue) TrySubmit(task process.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *heldQueue) Len() int { return len(q.tasks) }

type harness struct {
	svc       *Service
	origin    *httptest.Server
	ledger    *store.MemoryLedger
	artifacts *store.MemoryArtifacts
	notifier  *recordingNotifier
}

func newHarness(t *testing.T, q Queue) *harness {
	t.Helper()

	m := image.NewRGBA(image.Rect(0, 0, 200, 300))
	for x := 0; x < 200; x++ {
		for y := 0; y < 300; y++ {
			m.Set(x, y, color.RGBA{R: 30, G: 60, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, m))
	photo := buf.Bytes()

	mux := http.NewServeMux()
	mux.HandleFunc("/img.jpg", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(photo) })
	origin := httptest.NewServer(mux)
	t.Cleanup(origin.Close)

	h := &harness{
		origin:    origin,
		ledger:    store.NewMemoryLedger(),
		artifacts: store.NewMemoryArtifacts(),
		notifier:  &recordingNotifier{},
	}

	if q == nil {
		pool := process.NewPool(4, 16, nil)
		pool.Start(context.Background())
		t.Cleanup(pool.Stop)
		q = pool
	}

	prod := producer.New(fetch.New(), img.NewImagingCodec(0), h.artifacts, h.ledger, producer.Config{Width: 100, Height: 100}, nil)
	h.svc = New(prod, q, h.ledger, h.artifacts, Config{DestRoot: t.TempDir()}, WithNotifier(h.notifier))
	return h
}

func (h *harness) waitTerminal(t *testing.T, id string) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		var err error
		st, err = h.svc.GetStatus(context.Background(), id)
		if err != nil || !st.State.Terminal() {
			return false
		}
		_, notified := h.notifier.doneFor(id)
		return notified
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, &heldQueue{})
	ctx := context.Background()

	for _, raw := range []string{
		"",
		"not a url",
		"ftp://example.com/a.jpg",
		"/relative/a.jpg",
		"http://example.com/image.bmp",
		"http://example.com/noextension",
		"http://example.com/a.gif",
	} {
		id, err := h.svc.Submit(ctx, raw)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), "Submit(%q) error = %v, want ValidationError", raw, err)
		assert.Empty(t, id)
	}
	assert.Equal(t, 0, h.svc.queue.Len(), "invalid submissions are never queued")

	for _, raw := range []string{
		"http://example.com/a.jpg",
		"https://example.com/a.JPEG",
		"http://example.com/dir/a.Png?size=large",
		"http://example.com/scan.tiff",
	} {
		_, err := h.svc.Submit(ctx, raw)
		assert.NoError(t, err, "Submit(%q)", raw)
	}
}

func TestSubmitCompletesAndReturnsThumbnail(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	id, err := h.svc.Submit(ctx, h.origin.URL+"/img.jpg")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st := h.waitTerminal(t, id)
	assert.Equal(t, Status{Found: true, Completed: true, State: process.JobStatusSucceeded}, st)

	first, err := h.svc.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, img.FormatJPEG, first.Format)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(first.Data))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 100)
	assert.LessOrEqual(t, cfg.Height, 100)

	second, err := h.svc.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)

	done, ok := h.notifier.doneFor(id)
	require.True(t, ok)
	assert.True(t, done.Completed)
	assert.Equal(t, metrics.PathComputed, done.DedupPath)
}

func TestSubmitSameURLTwiceUsesFastPath(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.Submit(ctx, h.origin.URL+"/img.jpg")
	require.NoError(t, err)
	h.waitTerminal(t, first)

	second, err := h.svc.Submit(ctx, h.origin.URL+"/img.jpg")
	require.NoError(t, err)
	h.waitTerminal(t, second)

	done, ok := h.notifier.doneFor(second)
	require.True(t, ok)
	assert.Equal(t, metrics.PathFastPath, done.DedupPath)
	assert.Equal(t, 1, h.artifacts.Len())
	assert.Equal(t, 2, h.ledger.Len())

	a, err := h.svc.GetResult(ctx, first)
	require.NoError(t, err)
	b, err := h.svc.GetResult(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestSubmitMissingSourceNeverCompletes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	id, err := h.svc.Submit(ctx, h.origin.URL+"/missing.jpg")
	require.NoError(t, err)

	st := h.waitTerminal(t, id)
	assert.True(t, st.Found)
	assert.False(t, st.Completed)
	assert.Equal(t, process.JobStatusFailed, st.State)
	assert.NotEmpty(t, st.Error)

	_, err = h.svc.GetResult(ctx, id)
	require.ErrorIs(t, err, ErrNotCompleted)
	var jf *JobFailedError
	require.True(t, errors.As(err, &jf))
	assert.Equal(t, string(schema.FailureTypePermanent), jf.FailureType)

	_, err = h.ledger.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound, "failed jobs leave no task record")

	done, ok := h.notifier.doneFor(id)
	require.True(t, ok)
	assert.False(t, done.Completed)
	assert.NotEmpty(t, done.Error)
}

func TestPendingTask(t *testing.T) {
	q := &heldQueue{}
	h := newHarness(t, q)
	ctx := context.Background()

	id, err := h.svc.Submit(ctx, h.origin.URL+"/img.jpg")
	require.NoError(t, err)

	st, err := h.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Status{Found: true, State: process.JobStatusPending}, st)

	_, err = h.svc.GetResult(ctx, id)
	assert.ErrorIs(t, err, ErrNotCompleted)
	var jf *JobFailedError
	assert.False(t, errors.As(err, &jf))

	// run the held job inline
	require.Len(t, q.tasks, 1)
	q.tasks[0](ctx)

	st, err = h.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.Completed)
}

func TestUnknownTask(t *testing.T) {
	h := newHarness(t, &heldQueue{})
	ctx := context.Background()

	st, err := h.svc.GetStatus(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, st.Found)
	assert.False(t, st.Completed)

	_, err = h.svc.GetResult(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitQueueFull(t *testing.T) {
	h := newHarness(t, &heldQueue{err: process.ErrQueueFull})
	h.svc.newID = func() string { return "rejected" }

	id, err := h.svc.Submit(context.Background(), h.origin.URL+"/img.jpg")
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Empty(t, id)

	_, err = h.ledger.GetJob(context.Background(), "rejected")
	assert.ErrorIs(t, err, store.ErrNotFound, "rejected submissions leave no job state")
	assert.Empty(t, h.notifier.stagesFor("rejected"))
}

func TestLifecycleEvents(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.Submit(ctx, h.origin.URL+"/img.jpg")
	require.NoError(t, err)
	h.waitTerminal(t, first)
	assert.Equal(t, []schema.ProcessingStage{
		schema.StageSubmitted, schema.StageFetch, schema.StageProcessing, schema.StageCompleted,
	}, stageNames(h.notifier.stagesFor(first)))

	second, err := h.svc.Submit(ctx, h.origin.URL+"/img.jpg")
	require.NoError(t, err)
	h.waitTerminal(t, second)
	assert.Equal(t, []schema.ProcessingStage{
		schema.StageSubmitted, schema.StageFetch, schema.StageCompleted,
	}, stageNames(h.notifier.stagesFor(second)))

	missing, err := h.svc.Submit(ctx, h.origin.URL+"/missing.jpg")
	require.NoError(t, err)
	h.waitTerminal(t, missing)
	events := h.notifier.stagesFor(missing)
	assert.Equal(t, []schema.ProcessingStage{
		schema.StageSubmitted, schema.StageFetch, schema.StageFailed,
	}, stageNames(events))
	last := events[len(events)-1]
	assert.NotEmpty(t, last.Error)
	assert.Equal(t, schema.FailureTypePermanent, last.FailureType)
	for _, e := range events[:len(events)-1] {
		assert.Empty(t, e.Error)
		assert.Empty(t, e.FailureType)
	}
}

func TestSubmitAllocatesUniqueIDs(t *testing.T) {
	h := newHarness(t, &heldQueue{})
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := h.svc.Submit(context.Background(), "http://example.com/a.png")
		require.NoError(t, err)
		assert.False(t, seen[id], "task id %s reused", id)
		seen[id] = true
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, schema.FailureTypePermanent, classifyError(&fetch.Error{StatusCode: 404}))
	assert.Equal(t, schema.FailureTypeRetryable, classifyError(&fetch.Error{StatusCode: 503}))
	assert.Equal(t, schema.FailureTypeRetryable, classifyError(&fetch.Error{StatusCode: 429}))
	assert.Equal(t, schema.FailureTypeRetryable, classifyError(&fetch.Error{Err: context.DeadlineExceeded}))
	assert.Equal(t, schema.FailureTypePermanent, classifyError(producer.ErrArtifactCompute))
	assert.Equal(t, schema.FailureTypeRetryable, classifyError(errors.New("redis: connection refused")))
	assert.Equal(t, schema.FailureType(""), classifyError(nil))
}

func TestStageOf(t *testing.T) {
	assert.Equal(t, "fetch", stageOf(&fetch.Error{Err: errors.New("create temp file: permission denied")}))
	assert.Equal(t, "compute", stageOf(fmt.Errorf("%w: bad header", producer.ErrArtifactCompute)))
	assert.Equal(t, "store", stageOf(errors.New("setnx task record: timeout")))
}
