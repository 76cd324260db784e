package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scholargate/internal/config"
	"scholargate/internal/errors"
)

// Manager owns the messaging system's lifecycle: connect, start the
// worker's JetStream consumers, run background health/metrics
// monitoring, and shut everything down in order.
type Manager struct {
	client *Client
	queue  *TaskQueue
	worker *Worker
	config *config.NATSConfig
	logger *slog.Logger

	started bool
	mu      sync.RWMutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewManager connects to NATS and builds the task queue and worker
// around it. handlers may be the zero value if this process only
// enqueues and never consumes (e.g. an API-only replica).
func NewManager(cfg *config.NATSConfig, logger *slog.Logger, handlers TaskHandlers) (*Manager, error) {
	client, err := NewClient(*cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	queue := NewTaskQueue(client, logger)
	worker := NewWorker(client, logger, handlers)

	return &Manager{
		client: client,
		queue:  queue,
		worker: worker,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("messaging manager already started")
	}

	if !m.client.IsConnected() {
		return errors.NewUnavailableErr("nats", fmt.Errorf("client did not connect"))
	}

	if err := m.worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task queue worker: %w", err)
	}

	m.wg.Add(1)
	go m.healthMonitor(ctx)

	m.started = true
	m.logger.Info("messaging manager started", slog.String("url", m.client.ConnectedURL()))
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	m.logger.Info("stopping messaging manager")
	close(m.stopCh)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Debug("messaging goroutines stopped")
	case <-time.After(30 * time.Second):
		m.logger.Warn("timeout waiting for messaging goroutines to stop")
	}

	m.worker.Stop()

	if err := m.client.Drain(); err != nil {
		m.logger.Error("failed to drain NATS connection", slog.String("error", err.Error()))
	}
	if err := m.client.Close(); err != nil {
		m.logger.Error("failed to close NATS connection", slog.String("error", err.Error()))
	}

	m.started = false
	m.logger.Info("messaging manager stopped")
	return nil
}

// Queue returns the enqueue-side handle the paper service publishes jobs
// through.
func (m *Manager) Queue() *TaskQueue {
	return m.queue
}

func (m *Manager) Client() *Client {
	return m.client
}

func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started && m.client.IsConnected()
}

func (m *Manager) GetStats() map[string]interface{} {
	natsStats := m.client.Stats()
	return map[string]interface{}{
		"connection": map[string]interface{}{
			"connected":     m.client.IsConnected(),
			"connected_url": m.client.ConnectedURL(),
			"in_msgs":       natsStats.InMsgs,
			"out_msgs":      natsStats.OutMsgs,
			"in_bytes":      natsStats.InBytes,
			"out_bytes":     natsStats.OutBytes,
			"reconnects":    natsStats.Reconnects,
		},
		"manager": map[string]interface{}{
			"started": m.started,
			"healthy": m.IsHealthy(),
		},
	}
}

// Ping performs a lightweight connectivity check used by the detailed
// health endpoint.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.IsHealthy() {
		return errors.NewUnavailableErr("messaging", fmt.Errorf("messaging system is not healthy"))
	}
	if err := m.client.Publish(ctx, "health.ping", map[string]interface{}{"timestamp": time.Now().UnixMilli()}); err != nil {
		return errors.NewUnavailableErr("messaging", err)
	}
	return nil
}

// healthMonitor periodically checks connectivity and logs every failed
// check; there is no generic event bus left to publish onto, so this only
// logs.
func (m *Manager) healthMonitor(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.Ping(ctx); err != nil {
				m.logger.Error("messaging health check failed", slog.String("error", err.Error()))
			}
		}
	}
}

// StreamManager reports health for the task queue's backing stream.
type StreamManager struct {
	client *Client
	logger *slog.Logger
}

func NewStreamManager(client *Client, logger *slog.Logger) *StreamManager {
	return &StreamManager{client: client, logger: logger}
}

func (sm *StreamManager) GetStreamHealth(ctx context.Context) (map[string]interface{}, error) {
	info, err := sm.client.GetStreamInfo(ctx, TaskStreamName)
	if err != nil {
		return map[string]interface{}{
			TaskStreamName: map[string]interface{}{"status": "error", "error": err.Error()},
		}, nil
	}

	return map[string]interface{}{
		TaskStreamName: map[string]interface{}{
			"status":   "healthy",
			"messages": info.State.Msgs,
			"bytes":    info.State.Bytes,
			"subjects": info.Config.Subjects,
		},
	}, nil
}
