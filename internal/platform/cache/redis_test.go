package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestInvalidatorDeliversMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	inv := NewInvalidator(client, RolesChannel, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- inv.Listen(ctx, func(context.Context) error {
			select {
			case received <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		_ = inv.Publish(context.Background(), "test")
		select {
		case <-received:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := New(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
}
