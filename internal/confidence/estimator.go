// Package confidence scores how answerable a market question looks. The
// score is a cosmetic annotation shown alongside the market; it never feeds
// settlement. The estimator is deterministic so the same question always
// scores the same, and it needs no external model service.
package confidence

import (
	"hash/fnv"
	"strings"
	"time"
)

// Scores are bounded away from the extremes; the platform never claims
// certainty about an unresolved question.
const (
	MinScore = 20
	MaxScore = 85
)

// hedged marks questions about vague or far-off outcomes, which score lower.
var hedged = []string{"ever", "eventually", "someday", "might", "could"}

// verifiable marks questions tied to a measurable quantity, which score
// higher because a resolver can check them objectively.
var verifiable = []string{"price", "close", "above", "below", "reach", "exceed", "rate", "volume"}

// Estimator scores questions.
type Estimator struct{}

// New returns an Estimator.
func New() Estimator {
	return Estimator{}
}

// Score rates a question from MinScore to MaxScore. The base comes from a
// hash of the normalized question so it is stable across restarts, then
// wording and horizon adjustments are applied.
func (Estimator) Score(question string, deadline, now time.Time) int {
	q := strings.ToLower(strings.TrimSpace(question))

	h := fnv.New32a()
	h.Write([]byte(q))
	score := 40 + int(h.Sum32()%21) // 40-60

	for _, w := range hedged {
		if containsWord(q, w) {
			score -= 8
			break
		}
	}
	for _, w := range verifiable {
		if containsWord(q, w) {
			score += 10
			break
		}
	}

	// Near-term questions are easier to call than ones resolving months out.
	switch horizon := deadline.Sub(now); {
	case horizon <= 0:
	case horizon <= 7*24*time.Hour:
		score += 5
	case horizon > 90*24*time.Hour:
		score -= 5
	}

	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

func containsWord(q, w string) bool {
	for _, f := range strings.FieldsFunc(q, func(r rune) bool {
		return r == ' ' || r == '?' || r == ',' || r == '.' || r == '!'
	}) {
		if f == w {
			return true
		}
	}
	return false
}
