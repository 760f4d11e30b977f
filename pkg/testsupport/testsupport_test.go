package testsupport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoadFixtureJSON_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := WriteFixtureJSON(t, dir, "nested/booking.json", map[string]any{"id": "b-1", "total": 42})

	var got struct {
		ID    string `json:"id"`
		Total int    `json:"total"`
	}
	LoadFixtureJSON(t, path, &got)

	if got.ID != "b-1" || got.Total != 42 {
		t.Errorf("unexpected fixture contents: %+v", got)
	}
}

func TestFixturePath(t *testing.T) {
	if got := FixturePath("bookings.json"); got != "testdata/bookings.json" {
		t.Errorf("FixturePath() = %q", got)
	}
}

func TestGate_ReleasesInAnyOrder(t *testing.T) {
	gate := NewGate[string]()
	results := make(chan string, 2)

	for i := 0; i < 2; i++ {
		go func() {
			v, _ := gate.Load(context.Background())
			results <- v
		}()
	}

	gate.WaitCalls(t, 2)
	gate.Release(t, 1, "second", nil)
	gate.Release(t, 0, "first", nil)

	seen := map[string]bool{<-results: true, <-results: true}
	if !seen["first"] || !seen["second"] {
		t.Errorf("expected both calls to settle, got %v", seen)
	}
}

func TestGate_ContextCancel(t *testing.T) {
	gate := NewGate[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := gate.Load(ctx)
		done <- err
	}()

	gate.WaitCalls(t, 1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(DefaultWait):
		t.Fatal("gate did not observe cancellation")
	}
}

func TestCounterAndClock(t *testing.T) {
	counter := NewCounter("v1", nil)
	counter.Load(context.Background())
	counter.Set("v2", nil)
	v, _ := counter.Load(context.Background())

	if v != "v2" || counter.Calls() != 2 {
		t.Errorf("counter = %q after %d calls", v, counter.Calls())
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewClock(start)
	clock.Advance(time.Minute)
	if !clock.Now().Equal(start.Add(time.Minute)) {
		t.Errorf("clock.Now() = %v", clock.Now())
	}
}
