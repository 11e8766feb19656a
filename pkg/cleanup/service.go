// Package cleanup runs periodic maintenance: routing-cache sweeps, idle
// conversation pruning, long-term memory retention, and knowledge embedding
// cache pruning. All operations are idempotent.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/conversation"
	"github.com/maestrokit/maestro/pkg/memory/longterm"
	"github.com/maestrokit/maestro/pkg/routing"
)

// conversationIdleCutoff is how long an idle conversation's in-memory state
// is kept. Its messages stay reachable in the memory tiers.
const conversationIdleCutoff = 24 * time.Hour

// Service owns the background maintenance loops. LongTerm and the cache dir
// may be absent; the corresponding tasks are skipped.
type Service struct {
	cfg           *config.RetentionConfig
	router        *routing.Router
	conversations *conversation.Manager
	longTerm      *longterm.Memory
	cacheDir      string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the maintenance service.
func NewService(cfg *config.RetentionConfig, router *routing.Router, conversations *conversation.Manager, longTerm *longterm.Memory, cacheDir string) *Service {
	return &Service{
		cfg:           cfg,
		router:        router,
		conversations: conversations,
		longTerm:      longTerm,
		cacheDir:      cacheDir,
	}
}

// Start launches the maintenance loops.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"memory_retention_days", s.cfg.MemoryRetentionDays,
		"routing_sweep_interval", s.cfg.RoutingSweepInterval,
		"cleanup_interval", s.cfg.CleanupInterval)
}

// Stop signals the loops to exit and waits for them.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	sweep := time.NewTicker(s.cfg.RoutingSweepInterval)
	defer sweep.Stop()
	maintain := time.NewTicker(s.cfg.CleanupInterval)
	defer maintain.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if evicted := s.router.Sweep(); evicted > 0 {
				slog.Debug("Routing cache sweep", "evicted", evicted)
			}
		case <-maintain.C:
			s.runAll(ctx)
		}
	}
}

// RunAll executes every maintenance task once. Exported for manual
// triggering from the admin API.
func (s *Service) RunAll(ctx context.Context) {
	s.runAll(ctx)
}

func (s *Service) runAll(ctx context.Context) {
	s.pruneConversations()
	s.pruneLongTerm(ctx)
	s.pruneKnowledgeCache()
}

func (s *Service) pruneConversations() {
	if s.conversations == nil {
		return
	}
	if removed := s.conversations.PruneIdle(time.Now().Add(-conversationIdleCutoff)); removed > 0 {
		slog.Info("Retention: pruned idle conversations", "count", removed)
	}
}

func (s *Service) pruneLongTerm(ctx context.Context) {
	if s.longTerm == nil || s.cfg.MemoryRetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.MemoryRetentionDays)
	count, err := s.longTerm.Prune(ctx, cutoff, s.cfg.MemoryPruneMaxImportance)
	if err != nil {
		slog.Error("Retention: long-term prune failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned long-term memories",
			"count", count, "cutoff", cutoff, "max_importance", s.cfg.MemoryPruneMaxImportance)
	}
}

// pruneKnowledgeCache removes embedding cache files untouched for longer
// than the TTL. Live sources re-embed on next startup if their file is hit.
func (s *Service) pruneKnowledgeCache() {
	if s.cacheDir == "" || s.cfg.KnowledgeCacheTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.KnowledgeCacheTTL)

	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Retention: knowledge cache scan failed", "dir", s.cacheDir, "error", err)
		}
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".msgpack" {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cacheDir, entry.Name())); err != nil {
			slog.Warn("Retention: cache file removal failed", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Retention: pruned knowledge cache files", "count", removed)
	}
}
