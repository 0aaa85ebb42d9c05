// Package status mirrors the server's Anyone session for a client: it drives
// connect and disconnect over HTTP and polls network stats while connected.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"phenix-chat/go-backend/internal/anyone"
)

const (
	DefaultPollInterval = 30 * time.Second
	idleBandwidth       = "0 MB/s"
	msgConnectFailed    = "Failed to connect to Anyone Protocol"
)

type Status struct {
	Connected  bool   `json:"isConnected"`
	Connecting bool   `json:"isConnecting"`
	CircuitID  string `json:"circuitId,omitempty"`
	RelayCount int    `json:"relayCount"`
	Bandwidth  string `json:"bandwidth"`
	Error      string `json:"error,omitempty"`
}

type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       zerolog.Logger
}

type connectResponse struct {
	OK        bool   `json:"ok"`
	CircuitID string `json:"circuitId"`
	Error     string `json:"error"`
}

type statsResponse struct {
	OK             bool   `json:"ok"`
	ActiveRelays   int    `json:"activeRelays"`
	TotalBandwidth string `json:"totalBandwidth"`
	Error          string `json:"error"`
}

type Tracker struct {
	http     *resty.Client
	interval time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	status    Status
	stopPoll  context.CancelFunc
	listeners map[int]func(Status)
	nextID    int
}

func New(baseURL string, opts Options) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Minute
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout)
	return &Tracker{
		http:      client,
		interval:  opts.PollInterval,
		logger:    opts.Logger.With().Str("component", "anyone_status").Logger(),
		status:    Status{Bandwidth: idleBandwidth},
		listeners: make(map[int]func(Status)),
	}
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// OnChange registers fn for every status change; the returned func removes it.
func (t *Tracker) OnChange(fn func(Status)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) update(fn func(*Status)) {
	t.mu.Lock()
	fn(&t.status)
	snap := t.status
	listeners := make([]func(Status), 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()
	for _, l := range listeners {
		l(snap)
	}
}

// Connect is a no-op while connecting or connected. Failures land in
// Status().Error.
func (t *Tracker) Connect(ctx context.Context) {
	t.mu.Lock()
	if t.status.Connecting || t.status.Connected {
		t.mu.Unlock()
		return
	}
	t.status.Connecting = true
	t.mu.Unlock()
	t.update(func(s *Status) { s.Error = "" })

	id, err := t.postConnect(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to connect to anyone protocol")
		t.update(func(s *Status) {
			s.Connecting = false
			s.Error = err.Error()
		})
		return
	}
	t.update(func(s *Status) {
		s.Connecting = false
		s.Connected = true
		s.CircuitID = id
	})
	t.RefreshStats(ctx)
	t.startPolling()
}

func (t *Tracker) postConnect(ctx context.Context) (string, error) {
	var body connectResponse
	resp, err := t.http.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&body).
		Post("/anyone/connect")
	if err != nil {
		return "", fmt.Errorf("anyone connect request: %w", err)
	}
	if resp.IsError() || !body.OK {
		if body.Error != "" {
			return "", errors.New(body.Error)
		}
		return "", errors.New(msgConnectFailed)
	}
	return body.CircuitID, nil
}

// Disconnect tells the server to tear down and resets local state whether
// or not the request succeeds.
func (t *Tracker) Disconnect(ctx context.Context) {
	t.mu.Lock()
	if t.stopPoll != nil {
		t.stopPoll()
		t.stopPoll = nil
	}
	t.mu.Unlock()

	if _, err := t.http.R().SetContext(ctx).Post("/anyone/disconnect"); err != nil {
		t.logger.Debug().Err(err).Msg("anyone disconnect request failed")
	}
	t.update(func(s *Status) {
		*s = Status{Bandwidth: idleBandwidth}
	})
}

// RefreshStats fetches relay count and bandwidth, substituting the public
// fallback figures on any failure or empty field. It only applies while
// connected.
func (t *Tracker) RefreshStats(ctx context.Context) {
	relays, bandwidth := anyone.FallbackRelays, anyone.FallbackBandwidth
	var body statsResponse
	resp, err := t.http.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&body).
		Get("/anyone/stats")
	switch {
	case err != nil:
		t.logger.Debug().Err(err).Msg("failed to get network stats")
	case resp.IsError() || !body.OK:
		t.logger.Debug().Int("status", resp.StatusCode()).Str("error", body.Error).Msg("failed to get network stats")
	default:
		if body.ActiveRelays > 0 {
			relays = body.ActiveRelays
		}
		if body.TotalBandwidth != "" {
			bandwidth = body.TotalBandwidth
		}
	}
	if ctx.Err() != nil {
		return
	}
	t.update(func(s *Status) {
		if !s.Connected {
			return
		}
		s.RelayCount = relays
		s.Bandwidth = bandwidth
	})
}

func (t *Tracker) startPolling() {
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	if t.stopPoll != nil {
		t.stopPoll()
	}
	t.stopPoll = cancel
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.RefreshStats(ctx)
			}
		}
	}()
}

// Close stops polling without contacting the server.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopPoll != nil {
		t.stopPoll()
		t.stopPoll = nil
	}
}
