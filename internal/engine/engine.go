// Package engine wires the analysis pipeline together and exposes the
// boundary operations: submit, fetch results, open or join peer
// sessions, subscribe to events, and query history. Each submitted
// request runs as an isolated parse/detect/score computation; the
// history store is the only long-lived shared mutable resource.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/painreview/internal/config"
	"github.com/painreview/internal/detect"
	"github.com/painreview/internal/events"
	"github.com/painreview/internal/history"
	"github.com/painreview/internal/parser"
	"github.com/painreview/internal/score"
	"github.com/painreview/internal/session"
	"github.com/painreview/pkg/models"
)

// Engine is the collaborative review and analysis engine.
type Engine struct {
	cfg         *config.Config
	parser      *parser.Service
	detectors   *detect.Registry
	coordinator *session.Coordinator
	publisher   *events.Publisher
	history     *history.Store

	queue chan *job
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	closed   bool
}

type job struct {
	req    models.ReviewRequest
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an engine from configuration and starts its workers.
func New(cfg *config.Config) (*Engine, error) {
	roles, err := config.RequiredRoles(cfg)
	if err != nil {
		return nil, err
	}

	publisher := events.NewPublisher(cfg.Events.QueueLength)
	e := &Engine{
		cfg:       cfg,
		parser:    parser.NewService(cfg.ParseTimeout()),
		detectors: detect.NewRegistry(),
		coordinator: session.NewCoordinator(session.Config{
			Timeout:       cfg.SessionTimeout(),
			MaxSessions:   cfg.Session.MaxSessions,
			RequiredRoles: roles,
		}, publisher),
		publisher: publisher,
		history:   history.NewStore(cfg.History.MaxEntries),
		queue:     make(chan *job, cfg.Engine.QueueLength),
		inflight:  make(map[string]context.CancelFunc),
	}

	workers := cfg.Engine.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e, nil
}

// Submit enqueues an analysis and returns its request id immediately.
// A full queue rejects the submission with ErrCapacityExceeded rather
// than blocking the caller.
func (e *Engine) Submit(sourceText, languageHint string, reviewType models.ReviewType, requestedBy string) (string, error) {
	req := models.ReviewRequest{
		ID:           uuid.NewString(),
		SourceText:   sourceText,
		LanguageHint: languageHint,
		RequestedBy:  requestedBy,
		Type:         reviewType,
		SubmittedAt:  time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{req: req, ctx: ctx, cancel: cancel}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return "", models.ErrEngineShutdown
	}
	select {
	case e.queue <- j:
		e.inflight[req.ID] = cancel
	default:
		e.mu.Unlock()
		cancel()
		return "", models.ErrCapacityExceeded
	}
	e.mu.Unlock()

	log.Debug().
		Str("request_id", req.ID).
		Str("review_type", string(reviewType)).
		Str("language", languageHint).
		Msg("Queued review request")
	return req.ID, nil
}

// Cancel aborts an in-flight request. A true return guarantees the
// result is never published: cancellation and the publish commit are
// decided under the same lock. Cancelling after the result has been
// published is a no-op.
func (e *Engine) Cancel(requestID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.inflight[requestID]
	if ok {
		cancel()
		delete(e.inflight, requestID)
	}
	return ok
}

// Result returns the published result for a request id, or
// ErrNotFound while the request is unknown or still in flight.
func (e *Engine) Result(requestID string) (*models.ReviewResult, error) {
	return e.history.Get(requestID)
}

// OpenOrJoinSession attaches a peer session to a completed analysis,
// opening one if none exists. Role and opinion are optional; when both
// are present the contribution is recorded in the same call.
func (e *Engine) OpenOrJoinSession(requestID string, role models.ReviewerRole, opinion *int, notes string) (string, error) {
	result, err := e.history.Get(requestID)
	if err != nil {
		return "", err
	}
	return e.coordinator.OpenOrJoin(requestID, result, role, opinion, notes)
}

// Contribute records a reviewer opinion on an open session.
func (e *Engine) Contribute(sessionID string, role models.ReviewerRole, opinion int, notes string) error {
	return e.coordinator.Contribute(sessionID, role, opinion, notes)
}

// Session returns a snapshot of a peer session.
func (e *Engine) Session(sessionID string) (*models.PeerSession, error) {
	return e.coordinator.Get(sessionID)
}

// CloseSession closes a session early, aggregating whatever
// contributions have arrived.
func (e *Engine) CloseSession(sessionID string) error {
	return e.coordinator.CloseEarly(sessionID)
}

// Subscribe registers an event consumer. Closing the subscription is
// the caller's responsibility.
func (e *Engine) Subscribe(kinds ...models.EventKind) (*events.Subscription, error) {
	sub := e.publisher.Subscribe(kinds...)
	if sub == nil {
		return nil, models.ErrEngineShutdown
	}
	return sub, nil
}

// QueryHistory returns a bounded page of past results.
func (e *Engine) QueryHistory(f history.Filter) []*models.ReviewResult {
	if f.PerPage <= 0 || f.PerPage > e.cfg.History.PageSize {
		f.PerPage = e.cfg.History.PageSize
	}
	return e.history.Query(f)
}

// Analyze runs the full pipeline synchronously: parse, detect, score,
// record, publish. The CLI front-end uses this directly; workers use
// it for queued requests.
func (e *Engine) Analyze(ctx context.Context, req models.ReviewRequest) *models.ReviewResult {
	result := e.compute(ctx, req)

	// Commit point: checked under the same lock Cancel cancels under,
	// so a cancel that reported success can never be followed by a
	// publish of this result.
	e.mu.Lock()
	if ctx.Err() != nil {
		e.mu.Unlock()
		return nil
	}
	delete(e.inflight, req.ID)
	e.mu.Unlock()

	e.history.Append(result)
	e.publisher.Publish(models.Event{
		Kind:    models.EventReviewCompleted,
		Subject: req.ID,
		Result:  result,
	})
	if req.Type == models.ReviewTypeBlessingAssessment {
		e.publisher.Publish(models.Event{
			Kind:    models.EventBlessingAssessed,
			Subject: req.ID,
			Result:  result,
		})
	}
	if req.Type == models.ReviewTypePeerCollaboration {
		if _, err := e.coordinator.OpenOrJoin(req.ID, result, "", nil, ""); err != nil {
			log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to open peer session")
		}
	}
	return result
}

// compute is the pure part of the pipeline: no shared state touched.
func (e *Engine) compute(ctx context.Context, req models.ReviewRequest) *models.ReviewResult {
	profile := e.profileFor(req.Type)

	tree, failure := e.parser.Parse(ctx, []byte(req.SourceText), req.LanguageHint)
	if failure != nil {
		violations := []models.Violation{}
		if failure.Reason != models.FailureUnsupportedLanguage {
			violations = append(violations, models.Violation{
				Kind:    models.ViolationUnparsableSyntax,
				Weight:  models.WeightCritical,
				Message: failure.Message,
			})
		}
		return score.BuildResult(req, "", 0, violations, failure.Reason, time.Now())
	}
	defer tree.Close()

	violations := e.detectors.Run(tree, req.Type, profile)
	return score.BuildResult(req, tree.Language, e.cfg.Scoring.BaseScore, violations, "", time.Now())
}

func (e *Engine) profileFor(reviewType models.ReviewType) detect.Profile {
	if reviewType == models.ReviewTypeAggressiveScrutiny {
		return detect.Profile{
			MaxFunctionLines: e.cfg.Scoring.StrictFunctionLines,
			MaxNestingDepth:  e.cfg.Scoring.StrictNestingDepth,
		}
	}
	return detect.Profile{
		MaxFunctionLines: e.cfg.Scoring.MaxFunctionLines,
		MaxNestingDepth:  e.cfg.Scoring.MaxNestingDepth,
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for j := range e.queue {
		e.process(j)
	}
}

func (e *Engine) process(j *job) {
	defer func() {
		e.mu.Lock()
		delete(e.inflight, j.req.ID)
		e.mu.Unlock()
		j.cancel()
	}()

	if j.ctx.Err() != nil {
		log.Debug().Str("request_id", j.req.ID).Msg("Skipping cancelled request")
		return
	}

	start := time.Now()
	result := e.Analyze(j.ctx, j.req)
	if result == nil {
		log.Debug().Str("request_id", j.req.ID).Msg("Request cancelled during analysis")
		return
	}

	log.Info().
		Str("request_id", j.req.ID).
		Int("final_score", result.FinalScore).
		Str("tier", string(result.Tier)).
		Int("violations", len(result.Violations)).
		Dur("elapsed", time.Since(start)).
		Msg("Review completed")
}

// Shutdown stops accepting work, drains the queue, and tears down the
// coordinator and publisher.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.coordinator.Shutdown()
	e.publisher.Close()
	return nil
}
