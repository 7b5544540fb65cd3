// Package titles runs the background job that labels new history items
// with a short generated title.
package titles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptarchitect/studio/internal/apperr"
	"github.com/promptarchitect/studio/internal/engineer"
	"github.com/promptarchitect/studio/internal/prompt"
	"github.com/promptarchitect/studio/internal/storage"
)

// JobStore abstracts the job queue and history operations the worker needs.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetHistory(ctx context.Context, userID, id string) (storage.HistoryItem, error)
	SetTitleIfUnset(ctx context.Context, userID, id, title string) (bool, error)
}

// Titler generates a title for a piece of text.
type Titler interface {
	Title(ctx context.Context, actor string, req engineer.Request) (prompt.TitleResult, error)
}

// Worker processes generate_title jobs from the job queue.
type Worker struct {
	store  JobStore
	titler Titler
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, titler Titler, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		titler: titler,
		poll:   pollInterval,
		logger: slog.Default(),
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
			w.logger.Error("title worker iteration failed", "error", err)
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

// RunOnce claims and processes a single title job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{engineer.TitleJobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("title job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload engineer.TitleJob
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	item, err := w.store.GetHistory(ctx, payload.UserID, payload.HistoryID)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted before the job ran.
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading history item %s: %w", payload.HistoryID, err)
	}
	if item.CustomTitle != "" {
		return nil
	}

	req := engineer.Request{
		UserInput: item.OriginalInput,
		Provider:  item.Result.Provider,
		Model:     item.Result.Model,
	}
	res, err := w.titler.Title(ctx, payload.UserID, req)
	if apperr.CodeOf(err) == apperr.Validation && (req.Provider != "" || req.Model != "") {
		// The item's model left the allow-list; use the defaults instead.
		req.Provider, req.Model = "", ""
		res, err = w.titler.Title(ctx, payload.UserID, req)
	}
	if err != nil {
		return fmt.Errorf("generating title: %w", err)
	}

	set, err := w.store.SetTitleIfUnset(ctx, payload.UserID, item.ID, res.Title)
	if err != nil {
		return fmt.Errorf("saving title: %w", err)
	}
	if !set {
		w.logger.Debug("history item renamed while titling, keeping user title", "history_id", item.ID)
	}
	return nil
}
