// Package anyone manages the process-wide session with the Anyone
// anonymizing network: an optional local daemon, its control connection and
// one built circuit.
package anyone

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"phenix-chat/go-backend/internal/platform/metrics"
)

const (
	FallbackRelays    = 6000
	FallbackBandwidth = "57 GB/s"
)

var ErrDisconnected = errors.New("anyone connect aborted by disconnect")

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
)

type Config struct {
	ControlHost     string
	ControlPort     int
	ControlPassword string
	SOCKSPort       int
	SkipSpawn       bool
	BinaryPath      string
	// ControlAddr overrides ControlHost/ControlPort when set.
	ControlAddr    string
	WorkDir        string
	StartTimeout   time.Duration
	CircuitTimeout time.Duration
}

func (c Config) controlAddr() string {
	if c.ControlAddr != "" {
		return c.ControlAddr
	}
	host := c.ControlHost
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.ControlPort
	if port == 0 {
		port = 9051
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

type ControlDialer func(ctx context.Context, addr string) (*Control, error)

type Options struct {
	Config   Config
	Launcher Launcher
	Dial     ControlDialer
	Metrics  *metrics.Registry
	Logger   zerolog.Logger
}

type Stats struct {
	ActiveRelays   int    `json:"activeRelays"`
	TotalBandwidth string `json:"totalBandwidth"`
}

type attempt struct {
	done      chan struct{}
	circuitID string
	err       error
}

// Manager is safe for concurrent use. At most one session exists; callers
// that arrive while a connect is in flight share its outcome.
type Manager struct {
	cfg      Config
	launcher Launcher
	dial     ControlDialer
	metrics  *metrics.Registry
	logger   zerolog.Logger

	mu        sync.Mutex
	state     State
	gen       uint64
	pending   *attempt
	cancel    context.CancelFunc
	process   Process
	control   *Control
	circuitID string
}

func NewManager(opts Options) *Manager {
	if opts.Dial == nil {
		opts.Dial = DialControl
	}
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{Logger: opts.Logger}
	}
	if opts.Config.CircuitTimeout <= 0 {
		opts.Config.CircuitTimeout = 2 * time.Minute
	}
	return &Manager{
		cfg:      opts.Config,
		launcher: opts.Launcher,
		dial:     opts.Dial,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With().Str("component", "anyone").Logger(),
		state:    StateIdle,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) CircuitID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.circuitID
}

// Connect returns the current circuit id when connected, joins an attempt
// in flight, or starts a new one. ctx bounds only the caller's wait; the
// attempt itself ends when it completes or Disconnect is called.
func (m *Manager) Connect(ctx context.Context) (string, error) {
	m.mu.Lock()
	switch {
	case m.state == StateConnected:
		id := m.circuitID
		m.mu.Unlock()
		m.metrics.AnyoneConnect("reused")
		return id, nil
	case m.pending != nil:
		a := m.pending
		m.mu.Unlock()
		return m.wait(ctx, a)
	}
	a := &attempt{done: make(chan struct{})}
	m.pending = a
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(attemptCtx, gen, a)
	return m.wait(ctx, a)
}

func (m *Manager) wait(ctx context.Context, a *attempt) (string, error) {
	select {
	case <-a.done:
		return a.circuitID, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, gen uint64, a *attempt) {
	proc, ctrl, id, err := m.establish(ctx)

	m.mu.Lock()
	current := m.gen == gen
	if !current {
		err = ErrDisconnected
	}
	if err == nil {
		m.state = StateConnected
		m.process = proc
		m.control = ctrl
		m.circuitID = id
	} else if current {
		m.state = StateIdle
	}
	if current {
		m.pending = nil
		m.cancel = nil
	}
	m.mu.Unlock()

	if err != nil {
		teardown(context.Background(), m.logger, ctrl, proc)
		m.logger.Error().Err(err).Msg("anyone connect failed")
		m.metrics.AnyoneConnect("error")
	} else {
		m.logger.Info().Str("circuit_id", id).Msg("anyone circuit built")
		m.metrics.AnyoneConnect("ok")
	}
	if err == nil {
		a.circuitID = id
	}
	a.err = err
	close(a.done)
}

func (m *Manager) establish(ctx context.Context) (Process, *Control, string, error) {
	addr := m.cfg.controlAddr()
	var proc Process
	if m.cfg.SkipSpawn {
		m.logger.Info().Msg("spawn disabled; attaching to a running anon instance")
	} else if bin := m.binary(); bin == "" {
		m.logger.Warn().Msg("anon binary not found, will attempt to connect to existing instance")
	} else {
		p, err := m.launcher.Launch(ctx, ProcessConfig{
			Binary:          bin,
			WorkDir:         m.cfg.WorkDir,
			SOCKSPort:       m.cfg.SOCKSPort,
			ControlAddr:     addr,
			ControlPort:     m.cfg.ControlPort,
			ControlPassword: m.cfg.ControlPassword,
			StartTimeout:    m.cfg.StartTimeout,
		})
		if err != nil {
			return nil, nil, "", err
		}
		proc = p
	}

	ctrl, err := m.dial(ctx, addr)
	if err != nil {
		return proc, nil, "", err
	}
	if err := ctrl.Authenticate(ctx, m.cfg.ControlPassword); err != nil {
		return proc, ctrl, "", fmt.Errorf("authenticate: %w", err)
	}
	if err := ctrl.SetEvents(ctx, "CIRC"); err != nil {
		return proc, ctrl, "", err
	}
	circuitCtx, cancel := context.WithTimeout(ctx, m.cfg.CircuitTimeout)
	defer cancel()
	id, err := ctrl.ExtendCircuit(circuitCtx, true)
	if err != nil {
		return proc, ctrl, "", err
	}
	return proc, ctrl, id, nil
}

func (m *Manager) binary() string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return ResolveBinary(m.cfg.BinaryPath, cwd)
}

// Disconnect aborts any attempt in flight, closes the control connection,
// stops an owned process and returns to idle. Teardown errors are logged.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	if m.cancel != nil {
		m.cancel()
	}
	pending := m.pending
	ctrl, proc := m.control, m.process
	m.pending, m.cancel = nil, nil
	m.control, m.process = nil, nil
	m.circuitID = ""
	m.state = StateIdle
	m.mu.Unlock()

	if pending != nil {
		m.logger.Debug().Msg("aborting anyone connect in flight")
	}
	teardown(ctx, m.logger, ctrl, proc)
	return nil
}

func teardown(ctx context.Context, logger zerolog.Logger, ctrl *Control, proc Process) {
	if ctrl != nil {
		if err := ctrl.Close(); err != nil {
			logger.Debug().Err(err).Msg("close control connection")
		}
	}
	if proc != nil {
		if err := proc.Stop(ctx); err != nil {
			logger.Warn().Err(err).Msg("stop anon process")
		}
	}
}

// Stats reports relay count and aggregate bandwidth, falling back to fixed
// public figures when there is no session or the query fails.
func (m *Manager) Stats(ctx context.Context) Stats {
	m.mu.Lock()
	ctrl := m.control
	m.mu.Unlock()
	if ctrl == nil {
		return fallbackStats()
	}
	relays, err := ctrl.Relays(ctx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("relay query failed; using fallback stats")
		return fallbackStats()
	}
	var total int64
	for _, r := range relays {
		total += r.Bandwidth
	}
	return Stats{ActiveRelays: len(relays), TotalBandwidth: FormatBandwidth(float64(total))}
}

func fallbackStats() Stats {
	return Stats{ActiveRelays: FallbackRelays, TotalBandwidth: FallbackBandwidth}
}

// FormatBandwidth renders bytes per second with base-1024 units and no
// decimals, e.g. "57 GB/s".
func FormatBandwidth(bytesPerSec float64) string {
	units := []string{"B/s", "KB/s", "MB/s", "GB/s", "TB/s"}
	i := 0
	for bytesPerSec >= 1024 && i < len(units)-1 {
		bytesPerSec /= 1024
		i++
	}
	return strconv.FormatFloat(bytesPerSec, 'f', 0, 64) + " " + units[i]
}

func (m *Manager) Close() error {
	return m.Disconnect(context.Background())
}
