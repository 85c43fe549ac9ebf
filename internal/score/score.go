// Package score is the pure scoring engine: no I/O, no clock beyond
// the timestamp the caller supplies, byte-for-byte deterministic for
// identical inputs.
package score

import (
	"time"

	"github.com/painreview/pkg/models"
)

// Compute derives the final score from a base score and violation
// set: clamp(base - sum of severity weights, 0, 100).
func Compute(base int, violations []models.Violation) int {
	total := base
	for _, v := range violations {
		total -= int(v.Weight)
	}
	return clamp(total, 0, 100)
}

// Blessed reports whether a final score crosses the blessing
// threshold.
func Blessed(final int) bool {
	return final >= models.BlessingThreshold
}

// BuildResult assembles the immutable ReviewResult for a completed
// analysis. The violations slice is copied so later appends by the
// caller cannot reach the published result.
func BuildResult(req models.ReviewRequest, language string, base int, violations []models.Violation, failureReason string, now time.Time) *models.ReviewResult {
	owned := make([]models.Violation, len(violations))
	copy(owned, violations)

	final := Compute(base, owned)
	return &models.ReviewResult{
		RequestID:     req.ID,
		RequestedBy:   req.RequestedBy,
		ReviewType:    req.Type,
		Language:      language,
		BaseScore:     base,
		Violations:    owned,
		FinalScore:    final,
		Tier:          models.TierFor(final),
		Blessed:       Blessed(final),
		FailureReason: failureReason,
		CreatedAt:     now,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
