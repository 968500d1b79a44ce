// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package tunnel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/poiesic/kbsync/core"
	"golang.org/x/sys/unix"
)

const (
	DefaultHost         = "127.0.0.1"
	DefaultReadyTimeout = 30 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultGracePeriod  = 5 * time.Second

	// portPlaceholder is replaced by the local port in Command and HealthURL.
	portPlaceholder = "{port}"
)

// Config describes how to bring up the port forward to a remote target.
type Config struct {
	// Command starts the forwarder, e.g. ["ssh", "-N", "-L", "{port}:localhost:19530", "host"].
	Command []string `validate:"min=1,dive,required"`

	// Host is the local interface the forwarder listens on.
	Host string `validate:"required"`

	LocalPort int `validate:"gt=0,lte=65535"`

	// HealthURL is polled until it answers 2xx. When empty, a TCP connect to
	// the local port is the health check.
	HealthURL string `validate:"omitempty,url"`

	ReadyTimeout time.Duration `validate:"gt=0"`
	PollInterval time.Duration `validate:"gt=0"`
	GracePeriod  time.Duration `validate:"gte=0"`

	// LockDir holds the per-port lock file shared by every run on this
	// machine. Defaults to os.TempDir().
	LockDir string
}

// ProbeFunc reports whether the forwarded endpoint at addr is ready.
type ProbeFunc func(ctx context.Context, addr string) error

// Manager owns one local port and hands out at most one Tunnel at a time.
type Manager struct {
	cfg    Config
	probe  ProbeFunc
	client *http.Client
	logger *slog.Logger

	mu   sync.Mutex
	held bool
	lock *os.File
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithProbe replaces the health check.
func WithProbe(probe ProbeFunc) Option {
	return func(m *Manager) {
		m.probe = probe
	}
}

// NewManager validates cfg and fills in defaults for unset durations and host.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.LockDir == "" {
		cfg.LockDir = os.TempDir()
	}
	if err := core.Validator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: tunnel config: %w", core.ErrValidation, err)
	}

	m := &Manager{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.PollInterval * 4},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "tunnel", "port", cfg.LocalPort)
	if m.probe == nil {
		m.probe = m.defaultProbe
	}
	return m, nil
}

// Addr is the local host:port the forwarder listens on.
func (m *Manager) Addr() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.LocalPort))
}

// Acquire starts the forwarder and waits until it passes its health check.
// If the port is held by this manager, locked by another run or bound by
// any other process it fails immediately with ErrPortInUse. If the forwarder exits or the ready
// timeout expires it is terminated and ErrNotReady is returned.
func (m *Manager) Acquire(ctx context.Context) (*Tunnel, error) {
	if err := m.claim(); err != nil {
		return nil, err
	}
	t, err := m.start(ctx)
	if err != nil {
		m.unclaim()
		return nil, err
	}
	return t, nil
}

// Use acquires a tunnel, runs fn with its address and releases the tunnel
// when fn returns or ctx is cancelled, whichever comes first.
func (m *Manager) Use(ctx context.Context, fn func(ctx context.Context, addr string) error) error {
	t, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		t.Release()
	})
	defer func() {
		stop()
		t.Release()
	}()
	return fn(ctx, t.Addr())
}

func (m *Manager) claim() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return fmt.Errorf("%w: %s is held by this process", ErrPortInUse, m.Addr())
	}

	lock, err := m.lockPort()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", m.Addr())
	if err != nil {
		unlockPort(lock)
		return fmt.Errorf("%w: %s: %w", ErrPortInUse, m.Addr(), err)
	}
	ln.Close()

	m.held = true
	m.lock = lock
	return nil
}

func (m *Manager) unclaim() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock != nil {
		unlockPort(m.lock)
		m.lock = nil
	}
	m.held = false
}

// LockPath is the lock file guarding the local port.
func (m *Manager) LockPath() string {
	return filepath.Join(m.cfg.LockDir, fmt.Sprintf("kbsync-tunnel-%d.lock", m.cfg.LocalPort))
}

// lockPort takes a non-blocking exclusive flock on the port's lock file.
// The lock covers the gap between the bind check and the forwarder binding
// the port, which a second run would otherwise slip through.
func (m *Manager) lockPort() (*os.File, error) {
	if err := os.MkdirAll(m.cfg.LockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}
	f, err := os.OpenFile(m.LockPath(), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open tunnel lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s is locked by another run (%s)", ErrPortInUse, m.Addr(), m.LockPath())
		}
		return nil, fmt.Errorf("failed to lock %s: %w", m.LockPath(), err)
	}
	return f, nil
}

func unlockPort(f *os.File) {
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}

func (m *Manager) start(ctx context.Context) (*Tunnel, error) {
	args := m.expand(m.cfg.Command)
	cmd := exec.Command(args[0], args[1:]...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %w", ErrNotReady, args[0], err)
	}
	m.logger.Info("forwarder started", "pid", cmd.Process.Pid, "command", args[0])

	t := &Tunnel{
		manager: m,
		addr:    m.Addr(),
		cmd:     cmd,
		exited:  make(chan struct{}),
	}
	go func() {
		t.waitErr = cmd.Wait()
		close(t.exited)
	}()

	if err := m.waitReady(ctx, t); err != nil {
		t.terminate()
		if msg := stderr.tail(256); msg != "" {
			err = fmt.Errorf("%w (forwarder stderr: %s)", err, msg)
		}
		return nil, err
	}
	m.logger.Info("tunnel ready", "addr", t.addr)
	return t, nil
}

func (m *Manager) waitReady(ctx context.Context, t *Tunnel) error {
	readyCtx, cancel := context.WithTimeout(ctx, m.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = m.probe(readyCtx, t.addr); lastErr == nil {
			// Something answers, but if our forwarder is gone it lost the
			// bind and the answer came from someone else.
			select {
			case <-t.exited:
				return fmt.Errorf("%w: forwarder exited (%v) while %s kept answering", ErrPortInUse, t.waitErr, t.addr)
			default:
				return nil
			}
		}
		m.logger.Debug("tunnel not ready yet", "err", lastErr)

		select {
		case <-t.exited:
			return fmt.Errorf("%w: forwarder exited: %v", ErrNotReady, t.waitErr)
		case <-readyCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: no healthy response within %s: %v", ErrNotReady, m.cfg.ReadyTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

func (m *Manager) defaultProbe(ctx context.Context, addr string) error {
	if m.cfg.HealthURL == "" {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.expandOne(m.cfg.HealthURL), nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}

func (m *Manager) expand(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = m.expandOne(a)
	}
	return out
}

func (m *Manager) expandOne(s string) string {
	return strings.ReplaceAll(s, portPlaceholder, strconv.Itoa(m.cfg.LocalPort))
}

// Tunnel is a running, healthy port forward.
type Tunnel struct {
	manager *Manager
	addr    string
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
	once    sync.Once
}

// Addr returns the local address that reaches the remote target.
func (t *Tunnel) Addr() string {
	return t.addr
}

// Release stops the forwarder and frees the port. It is safe to call more
// than once and from multiple goroutines.
func (t *Tunnel) Release() {
	t.once.Do(func() {
		t.terminate()
		t.manager.unclaim()
		t.manager.logger.Info("tunnel released")
	})
}

// terminate sends SIGTERM and kills the forwarder if it outlives the grace period.
func (t *Tunnel) terminate() {
	select {
	case <-t.exited:
		return
	default:
	}

	if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.cmd.Process.Kill()
	}
	select {
	case <-t.exited:
	case <-time.After(t.manager.cfg.GracePeriod):
		t.manager.logger.Warn("forwarder ignored SIGTERM, killing", "pid", t.cmd.Process.Pid)
		t.cmd.Process.Kill()
		<-t.exited
	}
}

// syncBuffer collects forwarder stderr.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(b.buf.String())
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
