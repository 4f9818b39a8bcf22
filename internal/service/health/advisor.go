// Package health judges the live blink rate. A sustained low rate is
// the signal the whole system exists for: staring at a screen without
// blinking dries the eyes out.
package health

import (
	"fmt"
	"time"

	"blinkd/internal/domain"
	"blinkd/internal/service/tracker"
)

type Level string

const (
	LevelIdle      Level = "idle"
	LevelWarmingUp Level = "warming_up"
	LevelOK        Level = "ok"
	LevelLow       Level = "low"
)

type Advice struct {
	Level         Level   `json:"level"`
	RatePerMinute float64 `json:"rate_per_minute"`
	Message       string  `json:"message,omitempty"`
}

type Advisor struct {
	minPerMinute float64
	window       time.Duration
	warmup       time.Duration
}

// NewAdvisor configures thresholds: rates below minPerMinute over the
// sliding window are flagged, once the session has run past warmup.
func NewAdvisor(minPerMinute float64, window, warmup time.Duration) *Advisor {
	if window <= 0 {
		window = time.Minute
	}
	if warmup <= 0 {
		warmup = window
	}
	return &Advisor{
		minPerMinute: minPerMinute,
		window:       window,
		warmup:       warmup,
	}
}

// Evaluate derives the recent blink rate from the session history. Each
// history sample is one blink, so the rate is samples-in-window over
// window minutes.
func (a *Advisor) Evaluate(snap tracker.Snapshot, now time.Time) Advice {
	if snap.State != domain.TrackerActive {
		return Advice{Level: LevelIdle}
	}
	if snap.StartedAt.IsZero() || now.Sub(snap.StartedAt) < a.warmup {
		return Advice{Level: LevelWarmingUp}
	}

	cutoff := now.Add(-a.window)
	recent := 0
	for _, sample := range snap.History {
		if sample.LocalTime.After(cutoff) {
			recent++
		}
	}
	rate := float64(recent) / a.window.Minutes()

	if a.minPerMinute > 0 && rate < a.minPerMinute {
		return Advice{
			Level:         LevelLow,
			RatePerMinute: rate,
			Message:       fmt.Sprintf("Blink rate low (%.1f/min) - consider a screen break", rate),
		}
	}
	return Advice{Level: LevelOK, RatePerMinute: rate}
}
