package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failureRecorder struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (r *failureRecorder) record(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.errs = append(r.errs, err)
}

func TestEffectsRunsTasks(t *testing.T) {
	e := NewEffects(2, time.Second)
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.True(t, e.Go("count", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	e.Wait()
	assert.Equal(t, int32(10), ran.Load())
}

func TestEffectsBoundsConcurrency(t *testing.T) {
	e := NewEffects(2, time.Second)
	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		e.Go("bounded", func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	e.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEffectsFailureChannel(t *testing.T) {
	tests := []struct {
		name string
		fn   Effect
	}{
		{"error", func(context.Context) error { return errors.New("preview update failed") }},
		{"panic", func(context.Context) error { panic("boom") }},
		{"timeout", func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &failureRecorder{}
			e := NewEffects(1, 20*time.Millisecond)
			e.OnFailure = recorder.record

			e.Go(tt.name, tt.fn)
			e.Wait()

			require.Len(t, recorder.names, 1)
			assert.Equal(t, tt.name, recorder.names[0])
			assert.Error(t, recorder.errs[0])
		})
	}
}

func TestEffectsClose(t *testing.T) {
	e := NewEffects(1, time.Second)
	done := make(chan struct{})
	e.Go("slow", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		close(done)
		return nil
	})
	e.Close()

	select {
	case <-done:
	default:
		t.Fatal("Close returned before the running task finished")
	}
	assert.False(t, e.Go("late", func(context.Context) error { return nil }))
}
