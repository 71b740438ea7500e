package confidence

import (
	"testing"
	"time"
)

func TestScoreDeterministic(t *testing.T) {
	e := New()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(48 * time.Hour)

	a := e.Score("Will BTC close above 100k?", deadline, now)
	b := e.Score("Will BTC close above 100k?", deadline, now)
	if a != b {
		t.Errorf("scores differ: %d vs %d", a, b)
	}
}

func TestScoreBounds(t *testing.T) {
	e := New()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	questions := []string{
		"Will BTC close above 100k?",
		"Will it ever rain on Mars?",
		"Will the price exceed the rate?",
		"x",
		"",
	}
	horizons := []time.Duration{time.Hour, 30 * 24 * time.Hour, 365 * 24 * time.Hour}

	for _, q := range questions {
		for _, h := range horizons {
			got := e.Score(q, now.Add(h), now)
			if got < MinScore || got > MaxScore {
				t.Errorf("Score(%q, +%v) = %d, outside [%d, %d]", q, h, got, MinScore, MaxScore)
			}
		}
	}
}

func TestScoreWording(t *testing.T) {
	e := New()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(48 * time.Hour)

	vague := e.Score("Will humans ever settle on Mars?", deadline, now)
	concrete := e.Score("Will ETH close above 5000 on Friday?", deadline, now)
	if vague >= concrete {
		t.Errorf("vague question scored %d, concrete %d; want vague lower", vague, concrete)
	}
}

func TestScoreHorizon(t *testing.T) {
	e := New()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	q := "Will BTC close above 100k?"

	near := e.Score(q, now.Add(24*time.Hour), now)
	far := e.Score(q, now.Add(200*24*time.Hour), now)
	if near <= far {
		t.Errorf("near-term scored %d, far scored %d; want near higher", near, far)
	}
}
