package cli

import (
	"sync/atomic"
	"testing"
	"time"

	applog "bilancio/internal/log"
)

func TestNewScheduler(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	c := NewScheduler(applog.Discard(), rome)
	if c.Location() != rome {
		t.Errorf("Location() = %v, want Europe/Rome", c.Location())
	}

	if _, err := c.AddFunc("not a schedule", func() {}); err == nil {
		t.Error("expected invalid schedule to be rejected")
	}
}

func TestNewScheduler_DefaultsToLocal(t *testing.T) {
	if c := NewScheduler(applog.Discard(), nil); c.Location() != time.Local {
		t.Fatalf("Location() = %v, want Local", c.Location())
	}
}

func TestNewScheduler_RecoversPanics(t *testing.T) {
	c := NewScheduler(applog.Discard(), time.UTC)

	var runs atomic.Int32
	if _, err := c.AddFunc("@every 1s", func() {
		runs.Add(1)
		panic("boom")
	}); err != nil {
		t.Fatalf("AddFunc() error = %v", err)
	}

	c.Start()
	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	<-c.Stop().Done()

	if runs.Load() < 2 {
		t.Fatalf("job ran %d times; a panic stopped the scheduler", runs.Load())
	}
}
