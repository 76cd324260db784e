package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"scholargate/internal/messaging"
	"scholargate/internal/repository"
	"scholargate/internal/upstream"
)

// HealthService reports on the gateway's backing tiers: the Graph Tier
// (via Repository.Ping), the Task Queue's broker connection, and the
// Upstream Client's reachability. The Cache Tier is never reported as
// unhealthy - a cold or unreachable cache degrades request latency, not
// service availability.
type HealthService struct {
	repo      repository.Repository
	messaging *messaging.Client
	upstream  *upstream.Client
	logger    *slog.Logger
	startTime time.Time
}

func NewHealthService(repo repository.Repository, msgClient *messaging.Client, upstreamClient *upstream.Client, logger *slog.Logger) HealthServiceInterface {
	return &HealthService{
		repo:      repo,
		messaging: msgClient,
		upstream:  upstreamClient,
		logger:    logger,
		startTime: time.Now(),
	}
}

func (s *HealthService) Health(ctx context.Context) error {
	return nil
}

func (s *HealthService) DatabaseHealth(ctx context.Context) error {
	if s.repo == nil {
		return fmt.Errorf("repository not initialized")
	}
	return s.repo.Ping(ctx)
}

func (s *HealthService) MessagingHealth(ctx context.Context) error {
	if s.messaging == nil {
		return fmt.Errorf("messaging client not initialized")
	}
	if !s.messaging.IsConnected() {
		return fmt.Errorf("NATS connection is not established")
	}
	return nil
}

// UpstreamHealth probes the upstream API with a cheap autocomplete
// lookup; the specific query carries no meaning, only reachability
// does.
func (s *HealthService) UpstreamHealth(ctx context.Context) error {
	if s.upstream == nil {
		return fmt.Errorf("upstream client not initialized")
	}
	_, err := s.upstream.Autocomplete(ctx, "health")
	return err
}

func (s *HealthService) GetSystemInfo(ctx context.Context) (*SystemInfo, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memInfo := MemoryInfo{
		Allocated: m.Alloc,
		Total:     m.TotalAlloc,
		System:    m.Sys,
		GCRuns:    m.NumGC,
	}

	dbInfo := DatabaseInfo{Connected: s.DatabaseHealth(ctx) == nil}
	if s.repo != nil {
		if stats, err := s.repo.GetStats(); err == nil {
			dbInfo.Stats = stats
		}
	}

	services := map[string]bool{
		"database":  dbInfo.Connected,
		"messaging": s.MessagingHealth(ctx) == nil,
		"upstream":  s.UpstreamHealth(ctx) == nil,
	}

	return &SystemInfo{
		Version:   "1.0.0",
		Uptime:    time.Since(s.startTime),
		Memory:    memInfo,
		Database:  dbInfo,
		Services:  services,
		Timestamp: time.Now(),
	}, nil
}
