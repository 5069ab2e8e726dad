// Package correlate matches a timed-out research request to the history
// row its session eventually produced. The request key is authoritative
// when the agent echoed it; a topic-and-time heuristic covers transcripts
// where it did not.
package correlate

import (
	"context"
	"strings"
	"time"

	"github.com/kalambet/briefly/internal/poll"
)

// Row is the slice of a persisted result the correlator needs.
type Row struct {
	ID         string
	Topic      string
	RequestKey string
	CreatedAt  time.Time
}

// Reader pages over recent results, newest first.
type Reader interface {
	Recent(ctx context.Context, n int) ([]Row, error)
}

// Config holds the correlation timing knobs.
type Config struct {
	Budget    time.Duration
	Interval  time.Duration
	Tolerance time.Duration
	PageSize  int
}

// DefaultConfig returns the production correlation configuration.
func DefaultConfig() Config {
	return Config{
		Budget:    180 * time.Second,
		Interval:  2500 * time.Millisecond,
		Tolerance: 5 * time.Second,
		PageSize:  5,
	}
}

// Await polls the reader until a row matching the request appears or the
// budget elapses. requestedAt is when the original request was made.
func Await(ctx context.Context, reader Reader, clk poll.Clock, cfg Config, topic, requestKey string, requestedAt time.Time) (Row, bool) {
	if clk == nil {
		clk = poll.RealClock()
	}

	var found Row
	deadline := clk.Now().Add(cfg.Budget)
	outcome := poll.Until(ctx, clk, deadline, cfg.Interval, func(ctx context.Context) bool {
		rows, err := reader.Recent(ctx, cfg.PageSize)
		if err != nil {
			return false
		}
		row, ok := Match(rows, topic, requestKey, requestedAt, cfg.Tolerance)
		if ok {
			found = row
		}
		return ok
	})

	return found, outcome == poll.Completed
}

// Match picks the row belonging to the request. An exact request-key match
// always wins. Otherwise rows whose topic equals the request's topic
// (case-insensitively) and whose CreatedAt is later than requestedAt minus
// tolerance are candidates, and the earliest by timestamp is chosen.
//
// The heuristic can misattribute: two concurrent requests for the same
// topic both match the same earliest row when neither key was echoed.
func Match(rows []Row, topic, requestKey string, requestedAt time.Time, tolerance time.Duration) (Row, bool) {
	if requestKey != "" {
		for _, r := range rows {
			if r.RequestKey == requestKey {
				return r, true
			}
		}
	}

	cutoff := requestedAt.Add(-tolerance)
	want := strings.ToLower(strings.TrimSpace(topic))

	var best Row
	var found bool
	for _, r := range rows {
		if strings.ToLower(strings.TrimSpace(r.Topic)) != want {
			continue
		}
		if !r.CreatedAt.After(cutoff) {
			continue
		}
		if !found || r.CreatedAt.Before(best.CreatedAt) {
			best = r
			found = true
		}
	}
	return best, found
}
