package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMockTimerFiresAtDeadline(t *testing.T) {
	c := NewMock(epoch)
	timer := c.NewTimer(2 * time.Second)

	c.Advance(time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-timer.C():
		assert.Equal(t, epoch.Add(2*time.Second), got)
	default:
		t.Fatal("timer did not fire")
	}
}

func TestMockTimerStop(t *testing.T) {
	c := NewMock(epoch)
	timer := c.NewTimer(time.Second)

	assert.Equal(t, 1, c.Timers())
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	assert.Equal(t, 0, c.Timers())

	c.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockTimerResetRearmsFromNow(t *testing.T) {
	c := NewMock(epoch)
	timer := c.NewTimer(time.Second)
	c.Advance(time.Second)
	<-timer.C()

	assert.False(t, timer.Reset(500*time.Millisecond))
	c.Advance(400 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("reset timer fired early")
	default:
	}

	c.Advance(100 * time.Millisecond)
	select {
	case <-timer.C():
	default:
		t.Fatal("reset timer did not fire")
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMock(epoch)
	ticker := c.NewTicker(100 * time.Millisecond)

	ticks := 0
	for i := 0; i < 5; i++ {
		c.Advance(100 * time.Millisecond)
		select {
		case <-ticker.C():
			ticks++
		default:
		}
	}
	assert.Equal(t, 5, ticks)

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker ticked")
	default:
	}
}

func TestRealClock(t *testing.T) {
	var c Clock = Real{}
	start := c.Now()
	timer := c.NewTimer(time.Millisecond)
	<-timer.C()
	assert.GreaterOrEqual(t, c.Since(start), time.Millisecond)
}
