package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tburke/arbiter/internal/model"
	"github.com/tburke/arbiter/internal/operator"
	"github.com/tburke/arbiter/internal/store"
)

// Default consensus thresholds in basis points (9000 = 90%).
const (
	DefaultParticipationBps = 9000
	DefaultContentBps       = 9000
)

// ErrUnauthorized is returned when the responding operator is not currently
// eligible according to the operator directory.
var ErrUnauthorized = errors.New("operator not eligible")

// ErrInvalidSignature is returned when a response signature does not verify
// against the operator's registered key.
var ErrInvalidSignature = errors.New("invalid response signature")

// ErrAlreadyFinalized is returned when a response arrives for a task that
// has already reached a terminal state.
var ErrAlreadyFinalized = errors.New("task already finalized")

// Config holds the consensus thresholds, in basis points.
type Config struct {
	ParticipationBps int
	ContentBps       int
}

// DefaultConfig returns the default 90/90 threshold configuration.
func DefaultConfig() Config {
	return Config{
		ParticipationBps: DefaultParticipationBps,
		ContentBps:       DefaultContentBps,
	}
}

// Engine is the quorum decision core. It admits signed operator responses,
// evaluates participation and content quorum, and finalizes tasks exactly
// once. All durable state lives in the store; the engine only holds the
// per-task lock table that serializes finalization.
type Engine struct {
	store     store.Store
	directory operator.Directory
	auth      operator.Authenticator
	cfg       Config
	logger    *slog.Logger
	broker    *Broker

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a quorum engine. Zero threshold values fall back to the
// defaults.
func NewEngine(s store.Store, dir operator.Directory, auth operator.Authenticator, cfg Config, logger *slog.Logger) *Engine {
	if cfg.ParticipationBps <= 0 {
		cfg.ParticipationBps = DefaultParticipationBps
	}
	if cfg.ContentBps <= 0 {
		cfg.ContentBps = DefaultContentBps
	}
	return &Engine{
		store:     s,
		directory: dir,
		auth:      auth,
		cfg:       cfg,
		logger:    logger,
		broker:    NewBroker(),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Broker returns the engine's finalization event broker for SSE subscription.
func (e *Engine) Broker() *Broker {
	return e.broker
}

// NextTask returns the oldest ready task the operator has not yet responded
// to, after checking the operator's eligibility with the directory. Returns
// store.ErrNotFound when no task is available.
func (e *Engine) NextTask(ctx context.Context, operatorID string) (*model.Task, error) {
	eligible, err := e.directory.IsEligible(ctx, operatorID)
	if err != nil {
		return nil, fmt.Errorf("check operator eligibility: %w", err)
	}
	if !eligible {
		return nil, ErrUnauthorized
	}
	return e.store.NextReadyTask(ctx, operatorID)
}

// Admit authenticates and durably stores one operator response, then
// triggers evaluation. Admission succeeds once the response is stored;
// a failed evaluation is logged but never unwinds the admission. The
// returned outcome reports what the triggered evaluation concluded.
func (e *Engine) Admit(ctx context.Context, taskID, operatorID, payload, signature string) (*model.TaskResponse, Outcome, error) {
	resp, outcome, err := e.admit(ctx, taskID, operatorID, payload, signature)
	admissionsTotal.WithLabelValues(admissionResult(err)).Inc()
	return resp, outcome, err
}

func (e *Engine) admit(ctx context.Context, taskID, operatorID, payload, signature string) (*model.TaskResponse, Outcome, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, Outcome{}, err
	}
	if model.TerminalStatus(task.Status) {
		return nil, Outcome{}, ErrAlreadyFinalized
	}

	eligible, err := e.directory.IsEligible(ctx, operatorID)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("check operator eligibility: %w", err)
	}
	if !eligible {
		return nil, Outcome{}, ErrUnauthorized
	}

	valid, err := e.auth.Verify(ctx, taskID, payload, operatorID, signature)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("verify signature: %w", err)
	}
	if !valid {
		return nil, Outcome{}, ErrInvalidSignature
	}

	resp := &model.TaskResponse{
		ID:         model.NewID(),
		TaskID:     taskID,
		OperatorID: operatorID,
		Response:   payload,
		Signature:  signature,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.InsertResponse(ctx, resp); err != nil {
		return nil, Outcome{}, err
	}

	outcome, err := e.Evaluate(ctx, taskID)
	if err != nil {
		// The response is durably stored; evaluation will be retried by the
		// next admission or by the sweeper.
		e.logger.Error("post-admission evaluation failed",
			"task_id", taskID, "operator_id", operatorID, "error", err)
		return resp, Outcome{}, nil
	}
	return resp, outcome, nil
}

// Evaluate runs one quorum evaluation for the task. It is idempotent and
// safe to call out-of-band: evaluating a finalized task yields an
// AlreadyFinalized outcome without touching any state.
func (e *Engine) Evaluate(ctx context.Context, taskID string) (Outcome, error) {
	// Single-writer discipline per task: only one evaluation may attempt the
	// ready-to-terminal transition at a time. Tasks never contend with each
	// other.
	lock := e.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	outcome, err := e.evaluate(ctx, taskID)
	if err == nil {
		evaluationsTotal.WithLabelValues(outcome.Kind).Inc()
	}
	return outcome, err
}

func (e *Engine) evaluate(ctx context.Context, taskID string) (Outcome, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return Outcome{}, err
	}
	if model.TerminalStatus(task.Status) {
		return Outcome{Kind: OutcomeAlreadyFinalized}, nil
	}

	r, err := e.store.CountResponses(ctx, taskID)
	if err != nil {
		return Outcome{}, err
	}

	// The operator count is read fresh on every evaluation; the pool may
	// have changed since the task was created.
	n, err := e.directory.CurrentOperatorCount(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("read operator count: %w", err)
	}

	required := quorumRequired(n, e.cfg.ParticipationBps)
	if !participationReached(r, n, e.cfg.ParticipationBps) {
		return Outcome{Kind: OutcomeDeferred, Responses: r, Operators: n, Quorum: required}, nil
	}

	responses, err := e.store.ListResponses(ctx, taskID)
	if err != nil {
		return Outcome{}, err
	}

	winner, decided := contentWinner(responses, e.cfg.ContentBps)

	status := model.StatusConsensusNotReached
	var response *string
	if decided {
		status = model.StatusCompleted
		response = &winner
	}

	if err := e.store.FinalizeTask(ctx, taskID, status, response); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// A concurrent evaluation won the race. Benign.
			return Outcome{Kind: OutcomeAlreadyFinalized}, nil
		}
		return Outcome{}, err
	}

	outcome := Outcome{Kind: OutcomeUndecidable, Responses: r, Operators: n, Quorum: required}
	if decided {
		outcome.Kind = OutcomeFinalized
		outcome.Response = &winner
	}

	e.broker.Publish(taskID, Event{TaskID: taskID, Status: status, Response: response})
	e.broker.Close(taskID)

	e.logger.Info("task finalized",
		"task_id", taskID,
		"status", status,
		"responses", r,
		"operators", n,
	)
	return outcome, nil
}

// taskLock returns the mutex guarding finalization of the given task.
// Entries are retained for the process lifetime; each is a few bytes, which
// is acceptable for the expected task volume.
func (e *Engine) taskLock(taskID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[taskID] = lock
	}
	return lock
}

// admissionResult maps an admission error to a metrics label.
func admissionResult(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrDuplicateResponse):
		return "duplicate"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrAlreadyFinalized):
		return "already_finalized"
	default:
		return "error"
	}
}
