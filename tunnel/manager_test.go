package tunnel

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig(t *testing.T, command ...string) Config {
	if len(command) == 0 {
		command = []string{"sleep", "30"}
	}
	return Config{
		Command:      command,
		LocalPort:    freePort(t),
		ReadyTimeout: 2 * time.Second,
		PollInterval: 10 * time.Millisecond,
		GracePeriod:  time.Second,
		LockDir:      t.TempDir(),
	}
}

func readyProbe(context.Context, string) error { return nil }

func TestNewManager_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no command", Config{LocalPort: 9000}},
		{"no port", Config{Command: []string{"sleep"}}},
		{"port too large", Config{Command: []string{"sleep"}, LocalPort: 70000}},
		{"bad health url", Config{Command: []string{"sleep"}, LocalPort: 9000, HealthURL: "not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestAcquireRelease(t *testing.T) {
	m, err := NewManager(testConfig(t), WithProbe(readyProbe))
	require.NoError(t, err)

	tun, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, m.Addr(), tun.Addr())

	tun.Release()
	tun.Release()

	select {
	case <-tun.exited:
	default:
		t.Fatal("forwarder still running after release")
	}

	again, err := m.Acquire(context.Background())
	require.NoError(t, err, "port is reusable after release")
	again.Release()
}

func TestAcquire_HeldPortFailsFast(t *testing.T) {
	m, err := NewManager(testConfig(t), WithProbe(readyProbe))
	require.NoError(t, err)

	tun, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer tun.Release()

	start := time.Now()
	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPortInUse)
	assert.False(t, errors.Is(err, core.ErrTargetUnreachable), "port conflict is distinguishable from an unreachable target")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAcquire_PortBoundElsewhere(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.LocalPort = ln.Addr().(*net.TCPAddr).Port
	var probes atomic.Int32
	m, err := NewManager(cfg, WithProbe(func(context.Context, string) error {
		probes.Add(1)
		return nil
	}))
	require.NoError(t, err)

	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPortInUse)
	assert.Zero(t, probes.Load(), "no forwarder is started")
}

func isHeld(m *Manager) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// Two runs on one port: the second arrives while the first forwarder is
// still handshaking and has not bound the port yet.
func TestAcquire_SecondRunOnSamePortFailsFast(t *testing.T) {
	cfg := testConfig(t)

	handshake := make(chan struct{})
	first, err := NewManager(cfg, WithProbe(func(ctx context.Context, _ string) error {
		select {
		case <-handshake:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	require.NoError(t, err)

	var secondProbes atomic.Int32
	second, err := NewManager(cfg, WithProbe(func(context.Context, string) error {
		secondProbes.Add(1)
		return nil
	}))
	require.NoError(t, err)

	type acquired struct {
		tun *Tunnel
		err error
	}
	done := make(chan acquired, 1)
	go func() {
		tun, err := first.Acquire(context.Background())
		done <- acquired{tun, err}
	}()
	require.Eventually(t, func() bool { return isHeld(first) }, time.Second, 5*time.Millisecond)

	start := time.Now()
	_, err = second.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPortInUse)
	assert.Contains(t, err.Error(), "locked by another run")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Zero(t, secondProbes.Load(), "second run never starts a forwarder")
	assert.False(t, isHeld(second))

	close(handshake)
	res := <-done
	require.NoError(t, res.err)

	_, err = second.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPortInUse, "still locked while the first tunnel is up")

	res.tun.Release()
	tun, err := second.Acquire(context.Background())
	require.NoError(t, err, "lock is freed on release")
	tun.Release()
}

func TestAcquire_ForwarderLostBind(t *testing.T) {
	// The forwarder exits at once, but the port still answers.
	m, err := NewManager(testConfig(t, "true"), WithProbe(func(context.Context, string) error {
		time.Sleep(300 * time.Millisecond)
		return nil
	}))
	require.NoError(t, err)

	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPortInUse)
	assert.False(t, errors.Is(err, core.ErrTargetUnreachable))
	assert.False(t, isHeld(m))
}

func TestAcquire_ForwarderExits(t *testing.T) {
	m, err := NewManager(testConfig(t, "false"), WithProbe(func(context.Context, string) error {
		return errors.New("connection refused")
	}))
	require.NoError(t, err)

	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, core.ErrTargetUnreachable)

	// The failed attempt gives the port back.
	m.probe = readyProbe
	m.cfg.Command = []string{"sleep", "30"}
	tun, err := m.Acquire(context.Background())
	require.NoError(t, err)
	tun.Release()
}

func TestAcquire_ReadyTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReadyTimeout = 100 * time.Millisecond
	m, err := NewManager(cfg, WithProbe(func(context.Context, string) error {
		return errors.New("not yet")
	}))
	require.NoError(t, err)

	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestAcquire_StartFailure(t *testing.T) {
	m, err := NewManager(testConfig(t, "/nonexistent/forwarder"), WithProbe(readyProbe))
	require.NoError(t, err)

	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestAcquire_HealthURL(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.HealthURL = srv.URL + "/healthz?port={port}"
	m, err := NewManager(cfg)
	require.NoError(t, err)

	tun, err := m.Acquire(context.Background())
	require.NoError(t, err)
	tun.Release()
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestUse_ReleasesOnReturn(t *testing.T) {
	m, err := NewManager(testConfig(t), WithProbe(readyProbe))
	require.NoError(t, err)

	var seen string
	err = m.Use(context.Background(), func(ctx context.Context, addr string) error {
		seen = addr
		return errors.New("remote write failed")
	})
	assert.EqualError(t, err, "remote write failed")
	assert.Equal(t, m.Addr(), seen)

	err = m.Use(context.Background(), func(context.Context, string) error { return nil })
	assert.NoError(t, err)
}

func TestUse_ReleasesOnCancel(t *testing.T) {
	m, err := NewManager(testConfig(t), WithProbe(readyProbe))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan struct{})
	go func() {
		defer close(released)
		m.Use(ctx, func(ctx context.Context, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	// Wait until the tunnel is held.
	require.Eventually(t, func() bool { return isHeld(m) }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("tunnel not released after cancellation")
	}

	tun, err := m.Acquire(context.Background())
	require.NoError(t, err)
	tun.Release()
}
