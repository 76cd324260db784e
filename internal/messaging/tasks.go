package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// TaskQueue is the Task Queue's enqueue side (C7). Every Enqueue* method
// is fire-and-forget and never returns an error to the caller: when the
// broker is unreachable the call is logged and reports false, and the
// caller proceeds without the queue exactly as spec'd.
type TaskQueue struct {
	client *Client
	logger *slog.Logger
}

// NewTaskQueue wraps an already-connected Client. Pass a nil client to
// get a queue that always degrades to a no-op (used when NATS could not
// be reached at startup and the gateway chooses to run without it).
func NewTaskQueue(client *Client, logger *slog.Logger) *TaskQueue {
	return &TaskQueue{client: client, logger: logger}
}

func (q *TaskQueue) connected() bool {
	return q.client != nil && q.client.IsConnected()
}

// EnqueueFetchFromS2 asks a worker to fetch paperID from upstream, merge
// it into the graph tier, and populate the cache.
func (q *TaskQueue) EnqueueFetchFromS2(ctx context.Context, paperID string, fields []string) bool {
	return q.publish(ctx, SubjectFetchFromS2, FetchFromS2Job{PaperID: paperID, Fields: fields})
}

// EnqueueGraphMerge asks a worker to merge an already-fetched document
// into the graph tier, without re-fetching it from upstream.
func (q *TaskQueue) EnqueueGraphMerge(ctx context.Context, fullDoc json.RawMessage) bool {
	return q.publish(ctx, SubjectGraphMerge, GraphMergeJob{FullDoc: fullDoc})
}

// EnqueueSetCache asks a worker to write doc into the cache tier for
// paperID under the view named by fields.
func (q *TaskQueue) EnqueueSetCache(ctx context.Context, paperID string, doc json.RawMessage, fields []string) bool {
	return q.publish(ctx, SubjectSetCache, SetCacheJob{PaperID: paperID, Doc: doc, Fields: fields})
}

func (q *TaskQueue) publish(ctx context.Context, subject string, job interface{}) bool {
	if !q.connected() {
		q.logger.Debug("task queue unavailable, skipping enqueue", slog.String("subject", subject))
		return false
	}
	if err := q.client.PublishJetStream(ctx, subject, job); err != nil {
		q.logger.Warn("task enqueue failed", slog.String("subject", subject), slog.String("error", err.Error()))
		return false
	}
	return true
}

// TaskHandlers are the three job-kind callbacks a Worker dispatches to.
// The composition root wires these to paper-service methods; the queue
// package itself never touches upstream, graph, or cache state directly.
type TaskHandlers struct {
	FetchFromS2 func(ctx context.Context, job FetchFromS2Job) error
	GraphMerge  func(ctx context.Context, job GraphMergeJob) error
	SetCache    func(ctx context.Context, job SetCacheJob) error
}

// Worker is the Task Queue's consume side: a durable, queue-grouped
// JetStream consumer per job kind so at most one running worker process
// handles any given message, and redelivers on Nak or handler panic.
type Worker struct {
	client   *Client
	logger   *slog.Logger
	handlers TaskHandlers

	mu      sync.Mutex
	ctxs    []jetstream.ConsumeContext
	running bool
}

func NewWorker(client *Client, logger *slog.Logger, handlers TaskHandlers) *Worker {
	return &Worker{client: client, logger: logger, handlers: handlers}
}

// Start ensures the backing stream exists and launches one consumer per
// job kind. A nil or disconnected client makes Start a no-op: the
// gateway still serves reads, it just never processes background jobs.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if w.client == nil || !w.client.IsConnected() {
		w.logger.Warn("task queue worker not starting, broker unavailable")
		return nil
	}

	if _, err := w.client.EnsureStream(ctx, TaskStreamName, []string{"tasks.>"}); err != nil {
		return err
	}

	subjects := []struct {
		subject string
		durable string
		run     func(context.Context, jetstream.Msg)
	}{
		{SubjectFetchFromS2, "fetch-from-s2", w.runFetchFromS2},
		{SubjectGraphMerge, "graph-merge", w.runGraphMerge},
		{SubjectSetCache, "set-cache", w.runSetCache},
	}

	for _, s := range subjects {
		stream, err := w.client.JetStream().Stream(ctx, TaskStreamName)
		if err != nil {
			return err
		}
		consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:       s.durable,
			FilterSubject: s.subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
		})
		if err != nil {
			return err
		}
		handler := s.run
		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			handler(ctx, msg)
		})
		if err != nil {
			return err
		}
		w.ctxs = append(w.ctxs, cc)
	}

	w.running = true
	w.logger.Info("task queue worker started", slog.Int("consumers", len(w.ctxs)))
	return nil
}

// Stop drains every active consumer context. Idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, cc := range w.ctxs {
		cc.Stop()
	}
	w.ctxs = nil
	w.running = false
}

func (w *Worker) runFetchFromS2(ctx context.Context, msg jetstream.Msg) {
	var job FetchFromS2Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		w.logger.Error("malformed fetch_from_s2 job, dropping", slog.String("error", err.Error()))
		_ = msg.Term()
		return
	}
	if w.handlers.FetchFromS2 == nil {
		_ = msg.Nak()
		return
	}
	if err := w.handlers.FetchFromS2(ctx, job); err != nil {
		w.logger.Error("fetch_from_s2 job failed", slog.String("paper_id", job.PaperID), slog.String("error", err.Error()))
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (w *Worker) runGraphMerge(ctx context.Context, msg jetstream.Msg) {
	var job GraphMergeJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		w.logger.Error("malformed graph_merge job, dropping", slog.String("error", err.Error()))
		_ = msg.Term()
		return
	}
	if w.handlers.GraphMerge == nil {
		_ = msg.Nak()
		return
	}
	if err := w.handlers.GraphMerge(ctx, job); err != nil {
		w.logger.Error("graph_merge job failed", slog.String("error", err.Error()))
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (w *Worker) runSetCache(ctx context.Context, msg jetstream.Msg) {
	var job SetCacheJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		w.logger.Error("malformed set_cache job, dropping", slog.String("error", err.Error()))
		_ = msg.Term()
		return
	}
	if w.handlers.SetCache == nil {
		_ = msg.Nak()
		return
	}
	if err := w.handlers.SetCache(ctx, job); err != nil {
		w.logger.Error("set_cache job failed", slog.String("paper_id", job.PaperID), slog.String("error", err.Error()))
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}
