package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(5*time.Second, func() { fired++ })

	c.Advance(4 * time.Second)
	if fired != 0 {
		t.Fatalf("fired early")
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("expected 1 fire, got %d", fired)
	}
	c.Advance(time.Minute)
	if fired != 1 {
		t.Fatalf("fired twice")
	}
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatalf("expected stop to report active timer")
	}
	if timer.Stop() {
		t.Fatalf("second stop should report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending waiters, got %d", c.Pending())
	}
}

func TestFakeAfterWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan time.Time, 1)
	go func() {
		done <- <-c.After(3 * time.Second)
	}()

	c.WaitForTimers(1)
	c.Advance(3 * time.Second)

	select {
	case got := <-done:
		if !got.Equal(epoch.Add(3 * time.Second)) {
			t.Fatalf("unexpected fire time %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for After")
	}
}
