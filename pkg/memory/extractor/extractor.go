// Package extractor runs post-turn fact extraction in the background. A
// small worker pool drains completed turns, asks a model for structured
// facts, and writes the survivors through the memobase gate.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/memory/memobase"
	"github.com/maestrokit/maestro/pkg/models"
)

const systemPrompt = `You extract durable facts about the user from a completed conversation turn.
Respond with JSON only, in the form:
{"extracted_info":[{"key":"<dotted.path>","value":<json>,"confidence":<0..1>,"importance":<0..1>}]}
Extract only stable facts (identity, preferences, circumstances), never transient conversation state.
Respond with {"extracted_info":[]} when the turn contains no durable facts.`

// Task is one completed turn queued for extraction.
type Task struct {
	UserID    int64
	UserText  string
	ReplyText string
	TraceID   string
}

// ContextWriter is the memobase surface the extractor needs.
type ContextWriter interface {
	Put(ctx context.Context, userID int64, key string, value any, importance float64, source models.ContextSource) error
}

// Extractor owns the background pool. Tasks are detached from the turns
// that produced them; cancelling a turn never reaches a queued task.
type Extractor struct {
	cfg      config.ExtractionConfig
	client   llm.Client
	writer   ContextWriter
	tasks    chan Task
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Cancel registry: task trace id → cancel function, so shutdown can
	// interrupt runs already in flight.
	mu       sync.Mutex
	active   map[string]context.CancelFunc
	counters map[int64]int
	started  bool
}

// New creates the extractor. The client may be nil only when cfg.Enabled is
// false.
func New(cfg config.ExtractionConfig, client llm.Client, writer ContextWriter) *Extractor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1
	}
	return &Extractor{
		cfg:      cfg,
		client:   client,
		writer:   writer,
		tasks:    make(chan Task, cfg.Workers*4),
		stopCh:   make(chan struct{}),
		active:   make(map[string]context.CancelFunc),
		counters: make(map[int64]int),
	}
}

// Start spawns the worker goroutines. Safe to call multiple times;
// subsequent calls are no-ops.
func (e *Extractor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || !e.cfg.Enabled {
		return
	}
	e.started = true

	slog.Info("Starting extraction pool",
		"workers", e.cfg.Workers, "interval", e.cfg.Interval)
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.run()
	}
}

// MaybeEnqueue queues the turn when extraction applies: enabled, a known
// user, and the user's interval counter landing on a run. The queue is
// bounded; when it is full the turn is skipped rather than blocking the
// caller.
func (e *Extractor) MaybeEnqueue(task Task) bool {
	if !e.cfg.Enabled || task.UserID == 0 {
		return false
	}

	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return false
	}
	e.counters[task.UserID]++
	due := e.counters[task.UserID]%e.cfg.Interval == 0
	e.mu.Unlock()
	if !due {
		return false
	}

	select {
	case e.tasks <- task:
		return true
	case <-e.stopCh:
		return false
	default:
		slog.Warn("Extraction queue full, skipping turn",
			"user_id", task.UserID, "trace_id", task.TraceID)
		return false
	}
}

// Stop cancels in-flight runs and waits for workers to drain, bounded by
// the grace period.
func (e *Extractor) Stop(grace time.Duration) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.stopOnce.Do(func() { close(e.stopCh) })

	e.mu.Lock()
	for _, cancel := range e.active {
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Extraction pool stopped")
	case <-time.After(grace):
		slog.Warn("Extraction pool shutdown grace elapsed, abandoning workers")
	}
}

// run is the worker loop.
func (e *Extractor) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case task := <-e.tasks:
			if err := e.process(task); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Extraction run failed",
					"user_id", task.UserID, "trace_id", task.TraceID, "error", err)
			}
		}
	}
}

func (e *Extractor) process(task Task) error {
	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	// Detached from the turn's context on purpose.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	e.mu.Lock()
	e.active[task.TraceID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, task.TraceID)
		e.mu.Unlock()
	}()

	result, err := llm.Collect(ctx, e.client, &llm.GenerateInput{
		Messages: []llm.ConversationMessage{
			{Role: string(models.RoleSystem), Content: systemPrompt},
			{Role: string(models.RoleUser), Content: transcript(task)},
		},
	})
	if err != nil {
		return fmt.Errorf("extraction model call: %w", err)
	}

	entries := ParseExtractions(result.Text)
	var written, skipped int
	for _, entry := range entries {
		if entry.Confidence < e.cfg.ConfidenceThreshold {
			continue
		}
		err := e.writer.Put(ctx, task.UserID, entry.Key, entry.Value, entry.Importance, models.SourceExtraction)
		switch {
		case errors.Is(err, memobase.ErrSkipped):
			skipped++
		case err != nil:
			slog.Warn("Extraction write rejected",
				"user_id", task.UserID, "key", entry.Key, "error", err)
		default:
			written++
		}
	}

	slog.Debug("Extraction run complete",
		"user_id", task.UserID, "trace_id", task.TraceID,
		"parsed", len(entries), "written", written, "gate_skipped", skipped)
	return nil
}

func transcript(task Task) string {
	return fmt.Sprintf("User said:\n%s\n\nAssistant replied:\n%s", task.UserText, task.ReplyText)
}
