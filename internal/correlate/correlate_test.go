package correlate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var base = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestMatchPrefersRequestKey(t *testing.T) {
	rows := []Row{
		{ID: "r2", Topic: "Bitcoin", RequestKey: "other", CreatedAt: base.Add(time.Minute)},
		{ID: "r1", Topic: "Bitcoin", RequestKey: "mine", CreatedAt: base},
	}

	got, ok := Match(rows, "ethereum", "mine", base.Add(2*time.Minute), 5*time.Second)
	if !ok {
		t.Fatal("expected a match")
	}
	// Key match wins even though topic and timestamp disagree.
	if got.ID != "r1" {
		t.Errorf("matched %s, want r1", got.ID)
	}
}

func TestMatchTopicHeuristic(t *testing.T) {
	requestedAt := base.Add(time.Minute)
	rows := []Row{
		{ID: "late", Topic: "Bitcoin", CreatedAt: base.Add(3 * time.Minute)},
		{ID: "early", Topic: "bitcoin", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "stale", Topic: "Bitcoin", CreatedAt: base.Add(-time.Hour)},
		{ID: "other", Topic: "Ethereum", CreatedAt: base.Add(2 * time.Minute)},
	}

	got, ok := Match(rows, "Bitcoin", "unechoed-key", requestedAt, 5*time.Second)
	if !ok {
		t.Fatal("expected a match")
	}
	// Earliest candidate after the cutoff, topic compared case-insensitively.
	if got.ID != "early" {
		t.Errorf("matched %s, want early", got.ID)
	}
}

func TestMatchToleranceWindow(t *testing.T) {
	requestedAt := base
	rows := []Row{
		{ID: "just-before", Topic: "AI", CreatedAt: base.Add(-3 * time.Second)},
	}

	// Rows created slightly before the request still count, within tolerance.
	got, ok := Match(rows, "AI", "", requestedAt, 5*time.Second)
	if !ok || got.ID != "just-before" {
		t.Fatalf("got %v %v, want just-before", got, ok)
	}

	if _, ok := Match(rows, "AI", "", requestedAt, time.Second); ok {
		t.Error("row outside tolerance should not match")
	}
}

func TestMatchNoCandidate(t *testing.T) {
	rows := []Row{
		{ID: "r1", Topic: "Ethereum", CreatedAt: base.Add(time.Minute)},
	}
	if _, ok := Match(rows, "Bitcoin", "", base, 5*time.Second); ok {
		t.Error("expected no match")
	}
}

// Two concurrent requests for the same topic without echoed keys both
// resolve to the earliest row. This is a known limitation of the
// heuristic, kept observable here.
func TestMatchSameTopicMisattribution(t *testing.T) {
	rows := []Row{
		{ID: "second", Topic: "Bitcoin", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "first", Topic: "Bitcoin", CreatedAt: base.Add(time.Minute)},
	}

	a, okA := Match(rows, "Bitcoin", "", base, 5*time.Second)
	b, okB := Match(rows, "Bitcoin", "", base.Add(time.Second), 5*time.Second)
	if !okA || !okB {
		t.Fatal("expected both requests to match")
	}
	if a.ID != "first" || b.ID != "first" {
		t.Errorf("matched %s and %s, both should land on first", a.ID, b.ID)
	}
}

type fakeReader struct {
	mu    sync.Mutex
	calls int
	// rows appear starting at the given call number.
	readyAfter int
	rows       []Row
	err        error
}

func (f *fakeReader) Recent(ctx context.Context, n int) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls < f.readyAfter {
		return nil, nil
	}
	if n < len(f.rows) {
		return f.rows[:n], nil
	}
	return f.rows, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func TestAwaitFindsRowOnLaterPoll(t *testing.T) {
	reader := &fakeReader{
		readyAfter: 4,
		rows: []Row{
			{ID: "r1", Topic: "Bitcoin", RequestKey: "key-1", CreatedAt: base.Add(time.Minute)},
		},
	}
	clk := &fakeClock{now: base}

	row, ok := Await(context.Background(), reader, clk, DefaultConfig(), "Bitcoin", "key-1", base)
	if !ok {
		t.Fatal("expected correlation to succeed")
	}
	if row.ID != "r1" {
		t.Errorf("row = %s, want r1", row.ID)
	}
	if reader.calls != 4 {
		t.Errorf("reader polled %d times, want 4", reader.calls)
	}
}

func TestAwaitGivesUpAtBudget(t *testing.T) {
	reader := &fakeReader{readyAfter: 1 << 30}
	clk := &fakeClock{now: base}

	if _, ok := Await(context.Background(), reader, clk, DefaultConfig(), "Bitcoin", "key", base); ok {
		t.Fatal("expected correlation to give up")
	}
	// 180s budget at 2.5s intervals is 71 probes.
	if reader.calls != 71 {
		t.Errorf("reader polled %d times, want 71", reader.calls)
	}
}

func TestAwaitToleratesReaderErrors(t *testing.T) {
	reader := &fakeReader{err: errors.New("connection refused")}
	clk := &fakeClock{now: base}

	cfg := DefaultConfig()
	cfg.Budget = 10 * time.Second

	if _, ok := Await(context.Background(), reader, clk, cfg, "Bitcoin", "key", base); ok {
		t.Fatal("expected no match when reader keeps failing")
	}
	if reader.calls == 0 {
		t.Error("reader should have been polled despite errors")
	}
}
