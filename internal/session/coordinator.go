// Package session coordinates peer-review sessions: reviewer
// assignment, contribution collection, and aggregation of opinions
// into one session-level verdict. A session moves monotonically
// through OPEN -> COLLECTING -> AGGREGATING -> CLOSED; there are no
// backward transitions and CLOSED is terminal.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/painreview/internal/events"
	"github.com/painreview/pkg/models"
)

// Config holds the coordinator configuration.
type Config struct {
	Timeout       time.Duration
	MaxSessions   int
	RequiredRoles []models.ReviewerRole
}

// Coordinator manages the live peer sessions for a process. Each
// session serializes its own contributions behind a per-session lock,
// so the coordinator never blocks one session on another. Closed
// sessions are retained up to MaxSessions and then evicted FIFO; a
// session that is still collecting is never evicted.
type Coordinator struct {
	mu        sync.Mutex
	cfg       Config
	publisher *events.Publisher
	sessions  map[string]*session
	byRequest map[string]string
	closed    []string
}

type session struct {
	mu            sync.Mutex
	id            string
	requestID     string
	assigned      []models.ReviewerRole
	assignedSet   map[models.ReviewerRole]bool
	contributions map[models.ReviewerRole]models.Contribution
	state         models.SessionState
	openedAt      time.Time
	closedAt      time.Time
	aggregate     *float64
	result        *models.ReviewResult
	timer         *time.Timer
}

// NewCoordinator creates a session coordinator publishing lifecycle
// events through the given publisher.
func NewCoordinator(cfg Config, publisher *events.Publisher) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1000
	}
	if len(cfg.RequiredRoles) == 0 {
		cfg.RequiredRoles = models.AllReviewerRoles()
	}
	return &Coordinator{
		cfg:       cfg,
		publisher: publisher,
		sessions:  make(map[string]*session),
		byRequest: make(map[string]string),
	}
}

// OpenOrJoin returns the session attached to a request, opening one if
// none exists yet. When role is non-empty an initial contribution is
// recorded in the same call.
func (c *Coordinator) OpenOrJoin(requestID string, result *models.ReviewResult, role models.ReviewerRole, opinion *int, notes string) (string, error) {
	sess := c.openOrAttach(requestID, result)
	if role != "" && opinion != nil {
		if err := c.Contribute(sess.id, role, *opinion, notes); err != nil {
			return sess.id, err
		}
	}
	return sess.id, nil
}

func (c *Coordinator) openOrAttach(requestID string, result *models.ReviewResult) *session {
	c.mu.Lock()
	if id, ok := c.byRequest[requestID]; ok {
		sess := c.sessions[id]
		c.mu.Unlock()
		return sess
	}

	sess := &session{
		id:            uuid.NewString(),
		requestID:     requestID,
		assigned:      append([]models.ReviewerRole(nil), c.cfg.RequiredRoles...),
		assignedSet:   make(map[models.ReviewerRole]bool, len(c.cfg.RequiredRoles)),
		contributions: make(map[models.ReviewerRole]models.Contribution),
		state:         models.SessionOpen,
		openedAt:      time.Now(),
		result:        result,
	}
	for _, role := range sess.assigned {
		sess.assignedSet[role] = true
	}

	// The session lock is held from before registration until the open
	// event is out, so a joiner racing through byRequest cannot publish
	// a contribution ahead of SessionOpened.
	sess.mu.Lock()
	sess.timer = time.AfterFunc(c.cfg.Timeout, func() {
		c.closeSession(sess.id, "timeout")
	})
	c.sessions[sess.id] = sess
	c.byRequest[requestID] = sess.id
	c.mu.Unlock()

	c.publisher.Publish(models.Event{
		Kind:    models.EventSessionOpened,
		Subject: sess.id,
		Session: sess.snapshotLocked(),
	})
	sess.mu.Unlock()

	log.Debug().
		Str("session_id", sess.id).
		Str("request_id", requestID).
		Int("assigned_roles", len(sess.assigned)).
		Msg("Opened peer session")
	return sess
}

// Contribute records one role's opinion. A duplicate contribution from
// the same role replaces the earlier one while the session is still
// collecting. Contributions after close fail with SessionClosedError.
func (c *Coordinator) Contribute(sessionID string, role models.ReviewerRole, opinion int, notes string) error {
	sess, err := c.lookup(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if sess.state == models.SessionClosed {
		closedAt := sess.closedAt
		sess.mu.Unlock()
		return &models.SessionClosedError{SessionID: sessionID, ClosedAt: closedAt}
	}
	if !sess.assignedSet[role] {
		sess.mu.Unlock()
		return &models.RoleNotAssignedError{SessionID: sessionID, Role: role}
	}

	contribution := models.Contribution{
		Role:       role,
		Opinion:    clampOpinion(opinion),
		Notes:      notes,
		RecordedAt: time.Now(),
	}
	sess.contributions[role] = contribution
	if sess.state == models.SessionOpen {
		sess.state = models.SessionCollecting
	}
	complete := len(sess.contributions) == len(sess.assigned)

	// Published under the session lock: the sequence number is assigned
	// before any later transition on this session can publish, so a
	// contribution can never be sequenced after the close event.
	c.publisher.Publish(models.Event{
		Kind:         models.EventContributionRecorded,
		Subject:      sessionID,
		Contribution: &contribution,
	})
	sess.mu.Unlock()

	if complete {
		c.closeSession(sessionID, "complete")
	}
	return nil
}

// Get returns a point-in-time snapshot of a session.
func (c *Coordinator) Get(sessionID string) (*models.PeerSession, error) {
	sess, err := c.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked(), nil
}

// SessionForRequest returns the session id attached to a request, if
// any.
func (c *Coordinator) SessionForRequest(requestID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byRequest[requestID]
	return id, ok
}

// CloseEarly cancels the aggregation wait and closes the session with
// whatever contributions have arrived. Closing a closed session is a
// no-op.
func (c *Coordinator) CloseEarly(sessionID string) error {
	if _, err := c.lookup(sessionID); err != nil {
		return err
	}
	c.closeSession(sessionID, "closed-early")
	return nil
}

// Shutdown stops every pending aggregation timer.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sess := range c.sessions {
		sess.mu.Lock()
		if sess.timer != nil {
			sess.timer.Stop()
		}
		sess.mu.Unlock()
	}
}

func (c *Coordinator) lookup(sessionID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return sess, nil
}

// closeSession aggregates and closes. All close paths (full
// contribution set, timeout, early close) funnel here; the first one
// in wins and the rest are no-ops.
func (c *Coordinator) closeSession(sessionID, reason string) {
	sess, err := c.lookup(sessionID)
	if err != nil {
		return
	}

	sess.mu.Lock()
	if sess.state == models.SessionClosed {
		sess.mu.Unlock()
		return
	}
	if sess.timer != nil {
		sess.timer.Stop()
	}

	sess.state = models.SessionAggregating
	aggregate := aggregateScore(sess.result, sess.contributions)
	sess.aggregate = &aggregate
	sess.state = models.SessionClosed
	sess.closedAt = time.Now()
	contributed := len(sess.contributions)
	c.publisher.Publish(models.Event{
		Kind:    models.EventSessionClosed,
		Subject: sessionID,
		Session: sess.snapshotLocked(),
	})
	sess.mu.Unlock()

	log.Debug().
		Str("session_id", sessionID).
		Str("reason", reason).
		Int("contributions", contributed).
		Float64("aggregate", aggregate).
		Msg("Closed peer session")

	c.evictClosed(sessionID)
}

// evictClosed records a newly closed session and drops the oldest
// closed sessions beyond the retention cap. Evicted sessions answer
// ErrNotFound afterwards; collecting sessions are never evicted.
func (c *Coordinator) evictClosed(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, sessionID)
	for len(c.closed) > c.cfg.MaxSessions {
		evicted := c.closed[0]
		c.closed = c.closed[1:]
		sess, ok := c.sessions[evicted]
		if !ok {
			continue
		}
		delete(c.sessions, evicted)
		delete(c.byRequest, sess.requestID)
	}
}

// aggregateScore averages the contributed opinions and combines the
// mean with the underlying result's final score at equal weight.
// Missing roles are omitted from the mean, never counted as zero; with
// no contributions at all the result's score stands alone.
func aggregateScore(result *models.ReviewResult, contributions map[models.ReviewerRole]models.Contribution) float64 {
	final := 0.0
	if result != nil {
		final = float64(result.FinalScore)
	}
	if len(contributions) == 0 {
		return final
	}
	sum := 0.0
	for _, contribution := range contributions {
		sum += float64(contribution.Opinion)
	}
	mean := sum / float64(len(contributions))
	return (mean + final) / 2
}

// snapshotLocked requires the session lock (or exclusive access during
// construction).
func (s *session) snapshotLocked() *models.PeerSession {
	snapshot := &models.PeerSession{
		ID:            s.id,
		RequestID:     s.requestID,
		AssignedRoles: append([]models.ReviewerRole(nil), s.assigned...),
		Contributions: make(map[models.ReviewerRole]models.Contribution, len(s.contributions)),
		State:         s.state,
		OpenedAt:      s.openedAt,
	}
	for role, contribution := range s.contributions {
		snapshot.Contributions[role] = contribution
	}
	if s.aggregate != nil {
		value := *s.aggregate
		snapshot.AggregateScore = &value
	}
	if !s.closedAt.IsZero() {
		closedAt := s.closedAt
		snapshot.ClosedAt = &closedAt
	}
	return snapshot
}

func clampOpinion(opinion int) int {
	if opinion < 0 {
		return 0
	}
	if opinion > 100 {
		return 100
	}
	return opinion
}
