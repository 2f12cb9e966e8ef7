package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTickAligned(t *testing.T) {
	t.Parallel()

	s := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 3, 1, 12, 34, 56, 0, time.UTC)
	next := s.nextTick(now)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), next)

	// Already on a boundary still waits for the next slot.
	boundary := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	assert.Equal(t, boundary.Add(time.Hour), s.nextTick(boundary))
}

func TestNextTickUnaligned(t *testing.T) {
	t.Parallel()

	s := New(Options{Interval: time.Hour}, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 34, 56, 0, time.UTC)
	assert.Equal(t, now.Add(time.Hour), s.nextTick(now))
}

func TestNewPanicsOnNonPositiveInterval(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		New(Options{}, zerolog.Nop())
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestRunInvokesTick(t *testing.T) {
	t.Parallel()

	s := New(Options{Interval: 20 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan time.Time, 1)
	go func() {
		_ = s.Run(ctx, func(_ context.Context, slot time.Time) error {
			select {
			case ticks <- slot:
			default:
			}
			return nil
		})
	}()

	select {
	case <-ticks:
	case <-time.After(5 * time.Second):
		t.Fatal("tick never fired")
	}
}
