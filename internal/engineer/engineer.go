// Package engineer runs the engineer-prompt pipeline: validate, resolve the
// provider, compile, invoke, repair and record. It runs strictly in sequence
// and adds no deadline of its own.
package engineer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/promptarchitect/studio/internal/apperr"
	"github.com/promptarchitect/studio/internal/prompt"
	"github.com/promptarchitect/studio/internal/provider"
	"github.com/promptarchitect/studio/internal/repair"
	"github.com/promptarchitect/studio/internal/storage"
)

// TitleJobType is the job queue type for background title generation.
const TitleJobType = "generate_title"

// TitleJob is the payload of a TitleJobType job.
type TitleJob struct {
	UserID    string `json:"userId"`
	HistoryID string `json:"historyId"`
}

// Store is the persistence the pipeline needs. A nil Store disables
// history recording and per-actor defaults.
type Store interface {
	InsertHistory(ctx context.Context, userID, input string, res prompt.Result, parentID string) (storage.HistoryItem, error)
	GetSettings(ctx context.Context, userID string) (storage.Settings, error)
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Options tunes optional pipeline behaviour.
type Options struct {
	// AutoTitle enqueues a title job for every recorded result.
	AutoTitle bool
	Logger    *slog.Logger
}

// Service is the engineer-prompt pipeline.
type Service struct {
	registry  *provider.Registry
	store     Store
	autoTitle bool
	logger    *slog.Logger
}

// New creates a Service. store may be nil.
func New(registry *provider.Registry, store Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: registry, store: store, autoTitle: opts.AutoTitle, logger: logger}
}

// Registry returns the provider registry the service resolves against.
func (s *Service) Registry() *provider.Registry { return s.registry }

// Run dispatches on req.Task and returns a prompt.Result for the engineer
// task or a prompt.TitleResult for the title task. actor is empty for
// anonymous callers.
func (s *Service) Run(ctx context.Context, actor string, req Request) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	task, err := prompt.ParseTask(req.Task)
	if err != nil {
		return nil, err
	}
	if task == prompt.TaskTitle {
		return s.Title(ctx, actor, req)
	}
	return s.Engineer(ctx, actor, req)
}

// Engineer turns req.UserInput into a structured prompt. When actor is set
// the result is recorded; a recording failure is logged and the result is
// returned without an ID.
func (s *Service) Engineer(ctx context.Context, actor string, req Request) (prompt.Result, error) {
	req.Task = string(prompt.TaskEngineer)
	if err := req.Validate(); err != nil {
		return prompt.Result{}, err
	}

	p, model, err := s.resolve(ctx, actor, req)
	if err != nil {
		return prompt.Result{}, err
	}

	ins, err := prompt.Compile(prompt.TaskEngineer, req.UserInput)
	if err != nil {
		return prompt.Result{}, err
	}

	s.logger.Debug("generating", "provider", p.Kind(), "model", model, "instruction", ins.Describe())
	raw, err := p.Generate(ctx, model, ins)
	if err != nil {
		return prompt.Result{}, err
	}

	res, stage, err := repair.Engineered(raw)
	if err != nil {
		if e, ok := apperr.As(err); ok {
			e.WithDetail("provider", string(p.Kind())).WithDetail("model", model)
		}
		s.logger.Warn("model output could not be parsed", "provider", p.Kind(), "model", model, "raw_len", len(raw))
		return prompt.Result{}, err
	}
	if stage == repair.StageSalvage {
		s.logger.Warn("model output salvaged as degraded result", "provider", p.Kind(), "model", model)
	}

	res.Provider = string(p.Kind())
	res.Model = model

	if actor != "" && s.store != nil {
		s.record(ctx, actor, req, &res)
	}
	return res, nil
}

// Title produces a short label for req.UserInput. It never records history.
func (s *Service) Title(ctx context.Context, actor string, req Request) (prompt.TitleResult, error) {
	req.Task = string(prompt.TaskTitle)
	if err := req.Validate(); err != nil {
		return prompt.TitleResult{}, err
	}

	p, model, err := s.resolve(ctx, actor, req)
	if err != nil {
		return prompt.TitleResult{}, err
	}

	ins, err := prompt.Compile(prompt.TaskTitle, req.UserInput)
	if err != nil {
		return prompt.TitleResult{}, err
	}

	raw, err := p.Generate(ctx, model, ins)
	if err != nil {
		return prompt.TitleResult{}, err
	}
	return prompt.TitleResult{Title: repair.Title(raw)}, nil
}

// resolve picks the provider and model: explicit request values first, then
// the actor's saved defaults, then the configured defaults. Saved defaults
// that no longer resolve are ignored.
func (s *Service) resolve(ctx context.Context, actor string, req Request) (provider.Provider, string, error) {
	if (req.Provider == "" || req.Model == "") && actor != "" && s.store != nil {
		st, err := s.store.GetSettings(ctx, actor)
		if err != nil {
			s.logger.Warn("loading user settings failed, using server defaults", "actor", actor, "error", err)
		} else if name, model, ok := applySettings(req, st); ok {
			if p, m, err := s.registry.Resolve(name, model); err == nil {
				return p, m, nil
			}
			s.logger.Debug("saved defaults no longer valid", "actor", actor, "provider", st.DefaultProvider, "model", st.DefaultModel)
		}
	}
	return s.registry.Resolve(req.Provider, req.Model)
}

// applySettings fills the request's empty selectors from saved settings.
// It reports false when the settings change nothing.
func applySettings(req Request, st storage.Settings) (string, string, bool) {
	name, model := req.Provider, req.Model
	switch {
	case name == "" && model == "":
		name, model = st.DefaultProvider, st.DefaultModel
	case name == "":
		// An explicit model picks its own provider.
		return "", "", false
	case model == "" && name == st.DefaultProvider:
		model = st.DefaultModel
	}
	if name == req.Provider && model == req.Model {
		return "", "", false
	}
	return name, model, true
}

func (s *Service) record(ctx context.Context, actor string, req Request, res *prompt.Result) {
	item, err := s.store.InsertHistory(ctx, actor, req.UserInput, *res, req.ParentID)
	if err != nil {
		s.logger.Warn("history insert failed", "actor", actor, "error", err)
		return
	}
	res.ID = item.ID

	if !s.autoTitle {
		return
	}
	payload, err := json.Marshal(TitleJob{UserID: actor, HistoryID: item.ID})
	if err != nil {
		s.logger.Warn("encoding title job failed", "history_id", item.ID, "error", err)
		return
	}
	job := storage.Job{ID: uuid.NewString(), Type: TitleJobType, PayloadJSON: string(payload)}
	if err := s.store.EnqueueJob(ctx, job); err != nil {
		s.logger.Warn("enqueueing title job failed", "history_id", item.ID, "error", err)
	}
}
