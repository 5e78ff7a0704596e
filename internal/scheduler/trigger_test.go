package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronTriggerNextInTimezone(t *testing.T) {
	trig, err := NewCronTrigger("30 3 * * *", "Asia/Tokyo")
	require.NoError(t, err)

	// 2026-08-24 01:00 JST is 2026-08-23 16:00 UTC; the next 03:30 JST
	// fire is the same calendar day in Tokyo.
	after := time.Date(2026, 8, 23, 16, 0, 0, 0, time.UTC)
	next := trig.Next(after)

	jst, _ := time.LoadLocation("Asia/Tokyo")
	want := time.Date(2026, 8, 24, 3, 30, 0, 0, jst)
	assert.True(t, next.Equal(want), "got %s want %s", next, want)

	// Strictly after: asking again from the fire time moves a day ahead.
	assert.True(t, trig.Next(next).Equal(want.Add(24*time.Hour)))
}

func TestCronTriggerRejectsBadInput(t *testing.T) {
	_, err := NewCronTrigger("not a cron", "Asia/Tokyo")
	assert.Error(t, err)

	_, err = NewCronTrigger("30 3 * * *", "Not/AZone")
	assert.Error(t, err)
}

func TestIntervalTrigger(t *testing.T) {
	trig, err := NewIntervalTrigger(15 * time.Minute)
	require.NoError(t, err)

	at := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, at.Add(15*time.Minute), trig.Next(at))
	assert.Equal(t, "interval(15m0s)", trig.String())

	_, err = NewIntervalTrigger(0)
	assert.Error(t, err)
	_, err = NewIntervalTrigger(-time.Second)
	assert.Error(t, err)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts: 5,
		Factor:      2,
		BaseDelay:   time.Minute,
		MaxDelay:    10 * time.Minute,
	}
	assert.Equal(t, 2*time.Minute, p.Delay(1))
	assert.Equal(t, 4*time.Minute, p.Delay(2))
	assert.Equal(t, 8*time.Minute, p.Delay(3))
	// Capped from attempt 4 on.
	assert.Equal(t, 10*time.Minute, p.Delay(4))
	assert.Equal(t, 10*time.Minute, p.Delay(9))
}
