package applib

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webasgi/asgid/asgi"
)

func TestRegistryLoad(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register("myapp:app", func(ctx context.Context, scope asgi.Scope, receive asgi.Receiver, send asgi.Sender) error {
		called = true
		return nil
	})

	app, err := reg.Load("myapp:app")
	require.NoError(t, err)

	require.NoError(t, app(context.Background(), asgi.Scope{}, nil, nil))
	require.True(t, called)

	_, err = reg.Load("missing:app")
	require.Error(t, err)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(1)

	running := make(chan struct{}, 1)
	release := make(chan struct{})

	fn := func(ctx context.Context, scope asgi.Scope, receive asgi.Receiver, send asgi.Sender) error {
		running <- struct{}{}
		<-release
		return nil
	}
	wrapped := pool.Wrap(fn)

	go wrapped(context.Background(), asgi.Scope{}, nil, nil)
	<-running

	done := make(chan struct{})
	go func() {
		_ = wrapped(context.Background(), asgi.Scope{}, nil, nil)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second call ran concurrently despite pool size 1")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-done
}
