package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/service"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/worker/queue"
)

type fakeConsumer struct {
	msgs chan queue.RabbitMQMessage
}

func (c *fakeConsumer) Consume(context.Context) (<-chan queue.RabbitMQMessage, error) {
	return c.msgs, nil
}
func (c *fakeConsumer) GetQueueLength() (int, error) { return len(c.msgs), nil }
func (c *fakeConsumer) Close() error                 { return nil }

type fakeJobs struct {
	mu     sync.Mutex
	events []models.SubmissionJobEvent
	err    error
}

func (j *fakeJobs) PublishJob(_ context.Context, e models.SubmissionJobEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.events = append(j.events, e)
	return nil
}

type fakeGrading struct {
	mu       sync.Mutex
	err      error
	panicMsg string
	calls    []string
	failed   map[string]string
}

func (g *fakeGrading) ProcessSubmission(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, id)
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	return g.err
}

func (g *fakeGrading) MarkFailed(_ context.Context, id, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failed == nil {
		g.failed = map[string]string{}
	}
	g.failed[id] = reason
	return nil
}

// delivery records how the worker settled a message.
type delivery struct {
	outcome chan string
}

func newDelivery(t *testing.T, body []byte) (queue.RabbitMQMessage, *delivery) {
	t.Helper()
	d := &delivery{outcome: make(chan string, 1)}
	return queue.RabbitMQMessage{
		Body:      body,
		Timestamp: time.Now(),
		Ack: func(bool) error {
			d.outcome <- "ack"
			return nil
		},
		Nack: func(_ bool, requeue bool) error {
			d.outcome <- fmt.Sprintf("nack requeue=%v", requeue)
			return nil
		},
	}, d
}

func (d *delivery) wait(t *testing.T) string {
	t.Helper()
	select {
	case o := <-d.outcome:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("message was never settled")
		return ""
	}
}

func jobBody(t *testing.T, attempt int) []byte {
	t.Helper()
	body, err := json.Marshal(models.SubmissionJobEvent{
		Type:         models.EventSubmissionCreated,
		SubmissionID: "sub-1",
		AssignmentID: "a-1",
		Attempt:      attempt,
	})
	require.NoError(t, err)
	return body
}

func newTestWorker(grading *fakeGrading, jobs *fakeJobs) *gradingWorker {
	w := NewGradingWorker(
		NewWorkerPool(1, zerolog.Nop()),
		&fakeConsumer{msgs: make(chan queue.RabbitMQMessage, 4)},
		jobs,
		grading,
		config.WorkerConfig{MaxAttempts: 3, RetryDelay: time.Millisecond, JobTimeout: time.Second},
		zerolog.Nop(),
	)
	return w.(*gradingWorker)
}

func TestHandle(t *testing.T) {
	transient := fmt.Errorf("%w: gemini 503", service.ErrUpstream)

	tests := []struct {
		name        string
		body        []byte
		gradeErr    error
		jobsErr     error
		outcome     string
		republished int
		markedFail  bool
	}{
		{name: "success", body: jobBody(t, 1), outcome: "ack"},
		{name: "malformed body", body: []byte("{"), outcome: "nack requeue=false"},
		{name: "missing id", body: []byte(`{"type":"submission.created"}`), outcome: "nack requeue=false"},
		{name: "unparseable AI output", body: jobBody(t, 1), gradeErr: fmt.Errorf("%w: no json", service.ErrGradingFailed), outcome: "ack"},
		{name: "transient retried", body: jobBody(t, 1), gradeErr: transient, outcome: "ack", republished: 1},
		{name: "republish fails", body: jobBody(t, 1), gradeErr: transient, jobsErr: errors.New("channel closed"), outcome: "nack requeue=true"},
		{name: "attempts exhausted", body: jobBody(t, 3), gradeErr: transient, outcome: "ack", markedFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grading := &fakeGrading{err: tt.gradeErr}
			jobs := &fakeJobs{err: tt.jobsErr}
			w := newTestWorker(grading, jobs)

			msg, d := newDelivery(t, tt.body)
			w.handle(context.Background(), msg)

			assert.Equal(t, tt.outcome, d.wait(t))
			assert.Len(t, jobs.events, tt.republished)
			assert.Equal(t, tt.markedFail, grading.failed["sub-1"] != "")
		})
	}
}

func TestHandle_RetryBumpsAttempt(t *testing.T) {
	grading := &fakeGrading{err: errors.New("connection reset")}
	jobs := &fakeJobs{}
	w := newTestWorker(grading, jobs)

	msg, d := newDelivery(t, jobBody(t, 2))
	w.handle(context.Background(), msg)

	require.Equal(t, "ack", d.wait(t))
	require.Len(t, jobs.events, 1)
	assert.Equal(t, 3, jobs.events[0].Attempt)
	assert.Equal(t, "sub-1", jobs.events[0].SubmissionID)
	assert.Equal(t, 1, w.GetStats().RetriedJobs)
}

func TestSafeHandle_PanicSettlesDelivery(t *testing.T) {
	tests := []struct {
		name        string
		redelivered bool
		outcome     string
	}{
		{name: "first delivery requeued", outcome: "nack requeue=true"},
		{name: "redelivery dead-lettered", redelivered: true, outcome: "nack requeue=false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorker(&fakeGrading{panicMsg: "nil map in grader"}, &fakeJobs{})

			msg, d := newDelivery(t, jobBody(t, 1))
			msg.Redelivered = tt.redelivered

			assert.NotPanics(t, func() { w.safeHandle(context.Background(), msg) })
			assert.Equal(t, tt.outcome, d.wait(t))
			assert.Equal(t, 1, w.GetStats().FailedJobs)
		})
	}
}

func TestSafeHandle_NoDoubleSettle(t *testing.T) {
	w := newTestWorker(&fakeGrading{}, &fakeJobs{})

	msg, d := newDelivery(t, jobBody(t, 1))
	ack := msg.Ack
	msg.Ack = func(multiple bool) error {
		_ = ack(multiple)
		panic("stats exploded after ack")
	}

	w.safeHandle(context.Background(), msg)
	assert.Equal(t, "ack", d.wait(t))
	select {
	case extra := <-d.outcome:
		t.Fatalf("delivery settled twice, second outcome %q", extra)
	default:
	}
}

func TestHandle_ShutdownRequeues(t *testing.T) {
	grading := &fakeGrading{err: context.Canceled}
	w := newTestWorker(grading, &fakeJobs{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, d := newDelivery(t, jobBody(t, 1))
	w.handle(ctx, msg)
	assert.Equal(t, "nack requeue=true", d.wait(t))
}

func TestGradingWorker_StartStop(t *testing.T) {
	grading := &fakeGrading{}
	consumer := &fakeConsumer{msgs: make(chan queue.RabbitMQMessage, 4)}
	w := NewGradingWorker(NewWorkerPool(2, zerolog.Nop()), consumer, &fakeJobs{}, grading,
		config.WorkerConfig{MaxAttempts: 3}, zerolog.Nop())

	require.NoError(t, w.Start(context.Background()))

	var acked atomic.Int32
	for i := 0; i < 3; i++ {
		msg, d := newDelivery(t, jobBody(t, 1))
		consumer.msgs <- msg
		if d.wait(t) == "ack" {
			acked.Add(1)
		}
	}

	require.NoError(t, w.Stop())
	assert.EqualValues(t, 3, acked.Load())

	stats := w.GetStats()
	assert.Equal(t, 3, stats.TotalProcessed)
	assert.Equal(t, 3, stats.ProcessedToday)
	assert.Zero(t, stats.FailedJobs)
}
