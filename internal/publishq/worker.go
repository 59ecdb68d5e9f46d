// Package publishq runs the asynchronous publish queue: a publish request
// enqueues a job; this worker assembles the standalone site and records
// the public slug once the export succeeds.
package publishq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/antonets/toolbridge/internal/publish"
	"github.com/antonets/toolbridge/internal/shell"
	"github.com/antonets/toolbridge/internal/storage"
)

// JobType marks publish jobs in the queue.
const JobType = "publish_site"

// JobPayload is the queued job body.
type JobPayload struct {
	ToolID string `json:"tool_id"`
	Slug   string `json:"slug"`
}

// JobStore abstracts the queue and tool lookups.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetTool(id string) (storage.Tool, error)
	SetPublishedSlug(id, slug string) error
}

// Worker polls for publish jobs and materializes published sites.
type Worker struct {
	store     JobStore
	exportDir string
	opts      publish.Options
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker writing sites under exportDir.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, exportDir string, opts publish.Options, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		exportDir: exportDir,
		opts:      opts,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("publish worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single publish job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("publish job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(_ context.Context, job *storage.Job) error {
	var payload JobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.Slug == "" {
		return fmt.Errorf("publish job %s has no slug", job.ID)
	}

	tool, err := w.store.GetTool(payload.ToolID)
	if err != nil {
		return fmt.Errorf("loading tool %s: %w", payload.ToolID, err)
	}

	site := publish.Payload{
		ToolID:     tool.ID,
		Bundle:     shell.Bundle{HTML: tool.HTML, CSS: tool.CSS, JS: tool.JS},
		ThemeKey:   tool.ThemeKey,
		ColorMode:  tool.ColorMode,
		MemoryMode: tool.MemoryMode,
		Retention:  tool.Retention,
		Title:      tool.Title,
		Summary:    tool.Summary,
	}

	dir := filepath.Join(w.exportDir, payload.Slug)
	if err := publish.WriteSite(dir, site, w.opts); err != nil {
		return fmt.Errorf("writing site for %s: %w", tool.ID, err)
	}

	if err := w.store.SetPublishedSlug(tool.ID, payload.Slug); err != nil {
		return fmt.Errorf("recording slug for %s: %w", tool.ID, err)
	}

	w.logger.Info("tool published", "tool_id", tool.ID, "slug", payload.Slug)
	return nil
}
