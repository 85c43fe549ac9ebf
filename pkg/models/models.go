package models

import (
	"fmt"
	"strings"
	"time"
)

// ReviewType selects the detector subset and threshold profile for a request.
type ReviewType string

const (
	ReviewTypePainAnalysis       ReviewType = "PAIN_ANALYSIS"
	ReviewTypePeerCollaboration  ReviewType = "PEER_COLLABORATION"
	ReviewTypeAggressiveScrutiny ReviewType = "AGGRESSIVE_SCRUTINY"
	ReviewTypeProtocolValidation ReviewType = "PROTOCOL_VALIDATION"
	ReviewTypeBlessingAssessment ReviewType = "BLESSING_ASSESSMENT"
)

// ParseReviewType normalizes a user-supplied review type string.
func ParseReviewType(s string) (ReviewType, error) {
	rt := ReviewType(strings.ToUpper(strings.TrimSpace(s)))
	switch rt {
	case ReviewTypePainAnalysis, ReviewTypePeerCollaboration, ReviewTypeAggressiveScrutiny,
		ReviewTypeProtocolValidation, ReviewTypeBlessingAssessment:
		return rt, nil
	case "":
		return ReviewTypePainAnalysis, nil
	}
	return "", fmt.Errorf("unknown review type %q", s)
}

// ViolationKind identifies one of the fixed rule checks.
type ViolationKind string

const (
	ViolationDebugOutput      ViolationKind = "debug-output-left-in"
	ViolationFunctionLength   ViolationKind = "excessive-function-length"
	ViolationNestingDepth     ViolationKind = "excessive-nesting-depth"
	ViolationLiteralConstant  ViolationKind = "unexplained-literal-constant"
	ViolationUnparsableSyntax ViolationKind = "unparsable-syntax"
)

// SeverityWeight is the score penalty a single violation carries.
type SeverityWeight int

const (
	WeightCritical SeverityWeight = 20
	WeightHigh     SeverityWeight = 10
	WeightMedium   SeverityWeight = 5
	WeightLow      SeverityWeight = 2
)

// DefaultWeight maps each violation kind to its fixed severity weight.
func DefaultWeight(kind ViolationKind) SeverityWeight {
	switch kind {
	case ViolationUnparsableSyntax:
		return WeightCritical
	case ViolationFunctionLength, ViolationNestingDepth:
		return WeightHigh
	case ViolationDebugOutput:
		return WeightMedium
	case ViolationLiteralConstant:
		return WeightLow
	}
	return WeightLow
}

// Location is a line/column range within the analyzed source. Lines and
// columns are 1-based; a zero Location means the whole unit.
type Location struct {
	StartLine int `json:"start_line"`
	StartCol  int `json:"start_col"`
	EndLine   int `json:"end_line"`
	EndCol    int `json:"end_col"`
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", l.StartLine, l.StartCol, l.EndLine, l.EndCol)
}

// Violation is an immutable finding produced by one detector.
type Violation struct {
	Kind     ViolationKind  `json:"kind"`
	Weight   SeverityWeight `json:"severity_weight"`
	Location Location       `json:"location"`
	Message  string         `json:"message"`
}

// ReviewRequest is the immutable unit of work submitted to the engine.
type ReviewRequest struct {
	ID           string     `json:"id"`
	SourceText   string     `json:"source_text"`
	LanguageHint string     `json:"language_hint"`
	RequestedBy  string     `json:"requested_by"`
	Type         ReviewType `json:"review_type"`
	SubmittedAt  time.Time  `json:"submitted_at"`
}

// SeverityTier is the five-band classification of a final score.
type SeverityTier string

const (
	TierDivine     SeverityTier = "DIVINE"
	TierBlessed    SeverityTier = "BLESSED"
	TierAcceptable SeverityTier = "ACCEPTABLE"
	TierConcerning SeverityTier = "CONCERNING"
	TierCritical   SeverityTier = "CRITICAL"
)

// BlessingThreshold is the final score at or above which a result is blessed.
const BlessingThreshold = 90

// TierFor classifies a final score into its severity tier.
func TierFor(score int) SeverityTier {
	switch {
	case score >= 90:
		return TierDivine
	case score >= 80:
		return TierBlessed
	case score >= 60:
		return TierAcceptable
	case score >= 40:
		return TierConcerning
	default:
		return TierCritical
	}
}

// ReviewResult is the immutable outcome of one completed analysis.
// Corrections require a new ReviewRequest; results are never mutated.
type ReviewResult struct {
	RequestID     string       `json:"request_id"`
	RequestedBy   string       `json:"requested_by,omitempty"`
	ReviewType    ReviewType   `json:"review_type"`
	Language      string       `json:"language,omitempty"`
	BaseScore     int          `json:"base_score"`
	Violations    []Violation  `json:"violations"`
	FinalScore    int          `json:"final_score"`
	Tier          SeverityTier `json:"severity_tier"`
	Blessed       bool         `json:"blessed"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ReviewerRole is a named reviewing perspective, not a persistent identity.
type ReviewerRole string

const (
	RoleImplementationAnalyst ReviewerRole = "IMPLEMENTATION_ANALYST"
	RoleArchitectureReviewer  ReviewerRole = "ARCHITECTURE_REVIEWER"
	RoleDocumentationKeeper   ReviewerRole = "DOCUMENTATION_KEEPER"
)

// AllReviewerRoles lists every known role in a stable order.
func AllReviewerRoles() []ReviewerRole {
	return []ReviewerRole{RoleImplementationAnalyst, RoleArchitectureReviewer, RoleDocumentationKeeper}
}

// ParseReviewerRole normalizes a user-supplied role string.
func ParseReviewerRole(s string) (ReviewerRole, error) {
	role := ReviewerRole(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllReviewerRoles() {
		if role == known {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown reviewer role %q", s)
}

// SessionState is one step of the monotonic peer-session lifecycle.
type SessionState string

const (
	SessionOpen        SessionState = "OPEN"
	SessionCollecting  SessionState = "COLLECTING"
	SessionAggregating SessionState = "AGGREGATING"
	SessionClosed      SessionState = "CLOSED"
)

// Contribution is one role's recorded opinion within a session.
type Contribution struct {
	Role       ReviewerRole `json:"role"`
	Opinion    int          `json:"opinion"`
	Notes      string       `json:"notes,omitempty"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// PeerSession is a point-in-time snapshot of a review session. The
// coordinator owns the live state; snapshots are safe to hand out.
type PeerSession struct {
	ID             string                        `json:"id"`
	RequestID      string                        `json:"request_id"`
	AssignedRoles  []ReviewerRole                `json:"assigned_reviewers"`
	Contributions  map[ReviewerRole]Contribution `json:"contributions"`
	State          SessionState                  `json:"state"`
	AggregateScore *float64                      `json:"aggregate_score,omitempty"`
	OpenedAt       time.Time                     `json:"opened_at"`
	ClosedAt       *time.Time                    `json:"closed_at,omitempty"`
}

// EventKind names one lifecycle transition, past tense.
type EventKind string

const (
	EventReviewCompleted      EventKind = "ReviewCompleted"
	EventSessionOpened        EventKind = "SessionOpened"
	EventContributionRecorded EventKind = "ContributionRecorded"
	EventSessionClosed        EventKind = "SessionClosed"
	EventBlessingAssessed     EventKind = "BlessingAssessed"
)

// Event is an immutable lifecycle notification. Seq is monotonic per
// Subject (a request or session id), assigned by the publisher.
type Event struct {
	Kind         EventKind     `json:"kind"`
	Subject      string        `json:"subject"`
	Seq          uint64        `json:"seq"`
	At           time.Time     `json:"at"`
	Result       *ReviewResult `json:"result,omitempty"`
	Session      *PeerSession  `json:"session,omitempty"`
	Contribution *Contribution `json:"contribution,omitempty"`
}

// ParseFailure reasons, stable across releases.
const (
	FailureUnsupportedLanguage = "unsupported-language"
	FailureUnparsableSyntax    = "unparsable-syntax"
	FailureInternalTimeout     = "internal-timeout"
)

// ParseFailure reports why source text could not be turned into a tree.
// It is a value folded into the result, never a pipeline error.
type ParseFailure struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (f *ParseFailure) String() string {
	return f.Reason + ": " + f.Message
}
