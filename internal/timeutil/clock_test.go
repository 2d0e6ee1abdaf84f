package timeutil_test

import (
	"testing"
	"time"

	"github.com/linnemanlabs/plateflow/internal/timeutil"
)

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestMockClock_SetAndNow(t *testing.T) {
	t.Parallel()

	c := timeutil.NewMockClock(baseTime)
	if !c.Now().Equal(baseTime) {
		t.Errorf("Now() = %v, want %v", c.Now(), baseTime)
	}

	later := baseTime.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", c.Now(), later)
	}
}

func TestMockClock_AdvanceFiresDueTicker(t *testing.T) {
	t.Parallel()

	c := timeutil.NewMockClock(baseTime)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	c.Advance(time.Minute)
	select {
	case got := <-ticker.C():
		if !got.Equal(baseTime.Add(time.Minute)) {
			t.Errorf("tick time = %v, want %v", got, baseTime.Add(time.Minute))
		}
	default:
		t.Fatal("ticker did not fire after Advance past its interval")
	}
}

func TestMockClock_AdvanceBelowIntervalDoesNotFire(t *testing.T) {
	t.Parallel()

	c := timeutil.NewMockClock(baseTime)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	c.Advance(30 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}
}

func TestMockTicker_StoppedTickerStaysSilent(t *testing.T) {
	t.Parallel()

	c := timeutil.NewMockClock(baseTime)
	ticker := c.NewTicker(time.Minute)
	ticker.Stop()

	c.Advance(time.Hour)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestRealClock_Now(t *testing.T) {
	t.Parallel()

	before := time.Now()
	got := timeutil.RealClock{}.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v outside [%v, %v]", got, before, after)
	}
}
