package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/najoast/sndispatch/core"
)

func newTestGate(t *testing.T, opts Options) (*core.System, *Server) {
	t.Helper()

	sys := core.New(core.Options{Workers: 2, Batch: 8})
	if err := sys.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start system: %v", err)
	}

	opts.Address = "127.0.0.1:0"
	srv := NewServer(sys, opts)
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start gate: %v", err)
	}

	t.Cleanup(func() {
		srv.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sys.Shutdown(ctx)
	})
	return sys, srv
}

func dial(t *testing.T, srv *Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, srv.Addr().String(), 0)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var echo = core.HandlerFunc(func(ctx *core.Context, msg *core.Message) ([]byte, error) {
	return msg.Data, nil
})

func TestGateCall(t *testing.T) {
	sys, srv := newTestGate(t, DefaultOptions())
	if _, err := sys.NewService("echo", echo); err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	c := dial(t, srv)
	data, err := c.Call(callCtx(t), "echo", core.MessageTypeClient, []byte("ping"))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(data) != "ping" {
		t.Errorf("Expected ping, got %q", data)
	}

	waitFor(t, "connection count", func() bool { return srv.ConnectionCount() == 1 })
	stats := srv.Stats()
	if !stats.Running || stats.TotalFrames != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	conns := srv.Connections()
	if len(conns) != 1 || conns[0].FramesRead != 1 {
		t.Errorf("Unexpected connection stats: %+v", conns)
	}
}

func TestGateConcurrentCalls(t *testing.T) {
	sys, srv := newTestGate(t, DefaultOptions())
	sys.NewService("echo", echo)

	c := dial(t, srv)
	ctx := callCtx(t)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := []byte(fmt.Sprintf("msg-%d", i))
			got, err := c.Call(ctx, "echo", core.MessageTypeClient, want)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, want) {
				errs <- fmt.Errorf("expected %q, got %q", want, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestGateErrors(t *testing.T) {
	opts := DefaultOptions()
	opts.CallTimeout = 50 * time.Millisecond
	sys, srv := newTestGate(t, opts)

	sys.NewService("broken", core.HandlerFunc(func(ctx *core.Context, msg *core.Message) ([]byte, error) {
		return nil, errors.New("bad input")
	}))
	sys.NewService("slow", core.HandlerFunc(func(ctx *core.Context, msg *core.Message) ([]byte, error) {
		ctx.Sleep(time.Second)
		return nil, nil
	}))

	c := dial(t, srv)

	t.Run("UnknownService", func(t *testing.T) {
		_, err := c.Call(callCtx(t), "missing", core.MessageTypeClient, nil)
		if !errors.Is(err, core.ErrUnreachable) {
			t.Errorf("Expected ErrUnreachable, got %v", err)
		}
	})

	t.Run("HandlerFailure", func(t *testing.T) {
		_, err := c.Call(callCtx(t), "broken", core.MessageTypeClient, nil)
		var remote *core.RemoteError
		if !errors.As(err, &remote) {
			t.Fatalf("Expected RemoteError, got %v", err)
		}
		if remote.Message != "bad input" {
			t.Errorf("Expected 'bad input', got %q", remote.Message)
		}
	})

	t.Run("ReservedType", func(t *testing.T) {
		_, err := c.Call(callCtx(t), "broken", core.MessageTypeResponse, nil)
		var remote *core.RemoteError
		if !errors.As(err, &remote) {
			t.Errorf("Expected RemoteError, got %v", err)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		_, err := c.Call(callCtx(t), "slow", core.MessageTypeClient, nil)
		if !errors.Is(err, core.ErrTimeout) {
			t.Errorf("Expected ErrTimeout, got %v", err)
		}
	})
}

func TestGateSend(t *testing.T) {
	sys, srv := newTestGate(t, DefaultOptions())

	got := make(chan string, 1)
	sys.NewService("sink", core.HandlerFunc(func(ctx *core.Context, msg *core.Message) ([]byte, error) {
		got <- string(msg.Data)
		return nil, nil
	}))

	c := dial(t, srv)
	if err := c.Send("sink", core.MessageTypeClient, []byte("fire")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case s := <-got:
		if s != "fire" {
			t.Errorf("Expected fire, got %q", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Message was not delivered")
	}
}

func TestGateFrameLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxFrame = 64
	sys, srv := newTestGate(t, opts)
	sys.NewService("echo", echo)

	c := dial(t, srv)
	_, err := c.Call(callCtx(t), "echo", core.MessageTypeClient, bytes.Repeat([]byte("x"), 256))
	if err == nil {
		t.Fatal("Expected oversized frame to close the connection")
	}
	waitFor(t, "connection removal", func() bool { return srv.ConnectionCount() == 0 })
}

func TestGateConnectionLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxConnections = 1
	sys, srv := newTestGate(t, opts)
	sys.NewService("echo", echo)

	first := dial(t, srv)
	if _, err := first.Call(callCtx(t), "echo", core.MessageTypeClient, []byte("a")); err != nil {
		t.Fatalf("First call failed: %v", err)
	}

	second := dial(t, srv)
	if _, err := second.Call(callCtx(t), "echo", core.MessageTypeClient, []byte("b")); err == nil {
		t.Error("Expected second connection to be rejected")
	}
	waitFor(t, "rejection count", func() bool { return srv.Stats().Rejected == 1 })
	if srv.ConnectionCount() != 1 {
		t.Errorf("Expected 1 connection, got %d", srv.ConnectionCount())
	}
}

func TestGateStop(t *testing.T) {
	sys, srv := newTestGate(t, DefaultOptions())
	sys.NewService("echo", echo)

	c := dial(t, srv)
	if _, err := c.Call(callCtx(t), "echo", core.MessageTypeClient, nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if srv.ConnectionCount() != 0 {
		t.Errorf("Expected 0 connections after stop, got %d", srv.ConnectionCount())
	}
	if _, err := c.Call(callCtx(t), "echo", core.MessageTypeClient, nil); err == nil {
		t.Error("Expected call on stopped gate to fail")
	}
	if err := srv.Start(); err == nil {
		t.Error("Expected restart to fail")
	}
}
