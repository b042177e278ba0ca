package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/domain/connector"
	infraconn "github.com/einvoice/connector/internal/infrastructure/connector"
)

func TestRunnerTrigger(t *testing.T) {
	t.Run("runs registered connection", func(t *testing.T) {
		sink := newCollectingSink()
		runner := NewRunner(sink, zap.NewNop())
		runner.Register("generic", Source{
			Pipeline: newTestPipeline(t),
			Fetch:    pagesOf(orderRecord(1), orderRecord(2), orderRecord(3)),
		})

		result, err := runner.Trigger(context.Background(), "generic", 0)
		require.NoError(t, err)
		assert.Equal(t, RunStatusCompleted, result.Status)
		assert.Equal(t, 3, result.SuccessCount)
		assert.Len(t, sink.docs, 3)
	})

	t.Run("caps records at limit", func(t *testing.T) {
		runner := NewRunner(newCollectingSink(), zap.NewNop())
		runner.Register("generic", Source{
			Pipeline: newTestPipeline(t),
			Fetch:    pagesOf(orderRecord(1), orderRecord(2), orderRecord(3), orderRecord(4)),
		})

		result, err := runner.Trigger(context.Background(), "generic", 3)
		require.NoError(t, err)
		assert.Equal(t, 3, result.TotalCount)
	})

	t.Run("unknown provider", func(t *testing.T) {
		runner := NewRunner(newCollectingSink(), zap.NewNop())

		_, err := runner.Trigger(context.Background(), "ghost", 0)
		assert.ErrorIs(t, err, connector.ErrNotConfigured)
	})

	t.Run("rejects concurrent run for same connection", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{})
		var once sync.Once
		blocking := infraconn.PageFunc(func(ctx context.Context, req infraconn.PageRequest) (*infraconn.PageResult, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
				return &infraconn.PageResult{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})

		runner := NewRunner(newCollectingSink(), zap.NewNop())
		runner.Register("generic", Source{Pipeline: newTestPipeline(t), Fetch: blocking})

		done := make(chan error, 1)
		go func() {
			_, err := runner.Trigger(context.Background(), "generic", 0)
			done <- err
		}()

		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("first run never started")
		}

		_, err := runner.Trigger(context.Background(), "generic", 0)
		assert.ErrorIs(t, err, ErrRunInProgress)

		close(release)
		require.NoError(t, <-done)

		// Slot is freed once the first run completes
		_, err = runner.Trigger(context.Background(), "generic", 0)
		require.NoError(t, err)
	})
}
