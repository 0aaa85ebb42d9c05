package app

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"phenix-chat/go-backend/internal/anyone/status"
	"phenix-chat/go-backend/internal/config"
	"phenix-chat/go-backend/internal/conversations"
	"phenix-chat/go-backend/internal/identity"
	"phenix-chat/go-backend/internal/localstore"
	"phenix-chat/go-backend/internal/messages"
	"phenix-chat/go-backend/internal/messaging"
	"phenix-chat/go-backend/internal/platform/metrics"
	"phenix-chat/go-backend/internal/platform/privacylog"
	"phenix-chat/go-backend/internal/privacy"
	"phenix-chat/go-backend/internal/profiles"
	"phenix-chat/go-backend/internal/remotestore"
	"phenix-chat/go-backend/internal/tasks"
	"phenix-chat/go-backend/internal/wallet"
)

// DeviceSignals are the device-level inputs of the privacy score.
type DeviceSignals struct {
	SecureTransport bool
	CryptoAPI       bool
	SecureContext   bool
}

// DeviceSignalsFor derives device signals from the server the client talks
// to: https is secure transport, https or loopback is a secure context.
func DeviceSignalsFor(serverURL string) DeviceSignals {
	u, err := url.Parse(serverURL)
	if err != nil {
		return DeviceSignals{CryptoAPI: true}
	}
	secure := strings.EqualFold(u.Scheme, "https")
	host := u.Hostname()
	loopback := host == "localhost"
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		loopback = true
	}
	return DeviceSignals{SecureTransport: secure, CryptoAPI: true, SecureContext: secure || loopback}
}

type ClientOptions struct {
	Config  config.Config
	Wallet  wallet.Provider
	Network messaging.Factory
	Local   localstore.Store
	Remote  remotestore.Store
	// Anyone defaults to a tracker against Config.Client.ServerURL.
	Anyone  *status.Tracker
	Prober  privacy.Prober
	Device  *DeviceSignals
	Metrics *metrics.Registry
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Client is the runtime of one chat client. Services are exported for the
// presentation layer; the bindings between them are owned here.
type Client struct {
	Identity      *identity.Manager
	Conversations *conversations.Reconciler
	Messages      *messages.Aggregator
	Privacy       *privacy.Engine
	Anyone        *status.Tracker
	Profiles      *profiles.Service

	tasks  *tasks.Queue
	device DeviceSignals
	logger zerolog.Logger

	kick   chan struct{}
	unsubs []func()
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// bound is the inbox the reconciler is currently started for.
	bound string
}

func NewClient(opts ClientOptions) *Client {
	cfg := opts.Config
	logger := opts.Logger
	if opts.Local == nil {
		opts.Local = localstore.NewMemory()
	}
	queue := tasks.New(logger, tasks.Options{Metrics: opts.Metrics})

	tracker := opts.Anyone
	if tracker == nil {
		tracker = status.New(cfg.Client.ServerURL, status.Options{
			PollInterval: cfg.Client.PollInterval,
			Logger:       logger,
		})
	}

	idm := identity.NewManager(identity.Options{
		Wallet:  opts.Wallet,
		Network: opts.Network,
		Local:   opts.Local,
		Users:   opts.Remote,
		Tasks:   queue,
		Logger:  logger,
		Env:     messaging.Env(cfg.Client.MessagingEnv),
	})

	device := DeviceSignalsFor(cfg.Client.ServerURL)
	if opts.Device != nil {
		device = *opts.Device
	}

	prober := opts.Prober
	if prober == nil {
		prober = privacy.NetworkProber{
			Client:      idm.Client,
			SOCKSAddr:   net.JoinHostPort(cfg.Anyone.ControlHost, strconv.Itoa(cfg.Anyone.SOCKSPort)),
			ProbeTarget: probeTarget(cfg.Client.ServerURL),
		}
	}

	var remote conversations.RemoteIndex
	var lastMessages messages.LastMessageStore
	var profileSource profiles.Source
	if opts.Remote != nil {
		remote = opts.Remote
		lastMessages = opts.Remote
		profileSource = opts.Remote
	}

	rec := conversations.New(conversations.Options{Remote: remote, Tasks: queue, Logger: logger, Now: opts.Now})
	c := &Client{
		Identity:      idm,
		Conversations: rec,
		Messages: messages.New(messages.Options{
			Activity: rec,
			Remote:   lastMessages,
			Tasks:    queue,
			Logger:   logger,
			Now:      opts.Now,
		}),
		Privacy: privacy.New(privacy.Options{
			Config:  cfg.PrivacyConfig(),
			Store:   opts.Local,
			Prober:  prober,
			Metrics: opts.Metrics,
			Logger:  logger,
			Now:     opts.Now,
		}),
		Anyone: tracker,
		tasks:  queue,
		device: device,
		logger: logger.With().Str("component", "client").Logger(),
		kick:   make(chan struct{}, 1),
	}
	if profileSource != nil {
		c.Profiles = profiles.New(profileSource, logger)
	}
	return c
}

func probeTarget(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	if strings.EqualFold(u.Scheme, "https") {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

// Start binds the services together, resumes a previous session and runs
// until Close.
func (c *Client) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.unsubs = append(c.unsubs,
		c.Identity.OnChange(func(identity.State) { c.signal() }),
		c.Anyone.OnChange(func(status.Status) { c.signal() }),
	)

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.Identity.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.Privacy.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.loop(runCtx)
	}()

	c.Identity.Resume(runCtx)
	c.signal()
}

func (c *Client) signal() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// loop serializes session rebinding and score observation; bursts of
// changes coalesce into one pass over the latest state.
func (c *Client) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
			c.sync(ctx)
		}
	}
}

func (c *Client) sync(ctx context.Context) {
	st := c.Identity.State()
	client := c.Identity.Client()

	switch {
	case st.Connected && client != nil && client.InboxID() != c.bound:
		if c.bound != "" {
			// the selection belongs to the previous account's client
			if err := c.Messages.Select(ctx, nil, nil); err != nil {
				c.logger.Debug().Err(err).Msg("clear message projection failed")
			}
		}
		if err := c.Conversations.Start(ctx, client, st.Address); err != nil {
			c.logger.Warn().Err(err).Msg("conversation reconciler failed to start")
		} else {
			c.bound = client.InboxID()
			privacylog.With(c.logger.Debug(), "inbox_id", c.bound).Msg("session bound")
		}
	case (!st.Connected || client == nil) && c.bound != "":
		c.Conversations.Stop()
		if err := c.Messages.Select(ctx, nil, nil); err != nil {
			c.logger.Debug().Err(err).Msg("clear message projection failed")
		}
		c.bound = ""
		c.logger.Debug().Msg("session unbound")
	}

	c.Privacy.Observe(ctx, c.Signals())
}

// Signals assembles the current score inputs.
func (c *Client) Signals() privacy.Signals {
	st := c.Identity.State()
	as := c.Anyone.Status()
	return privacy.Signals{
		MessagingConnected: st.Connected,
		Registered:         st.Registered,
		InstallationID:     st.InstallationID,
		AnyoneConnected:    as.Connected,
		CircuitID:          as.CircuitID,
		RelayCount:         as.RelayCount,
		Bandwidth:          as.Bandwidth,
		SecureTransport:    c.device.SecureTransport,
		CryptoAPI:          c.device.CryptoAPI,
		SecureContext:      c.device.SecureContext,
	}
}

// RefreshPrivacy recomputes the score now, regardless of staleness.
func (c *Client) RefreshPrivacy(ctx context.Context) privacy.Snapshot {
	c.Privacy.Observe(ctx, c.Signals())
	return c.Privacy.Refresh(ctx)
}

// SelectConversation points the message projection at conv.
func (c *Client) SelectConversation(ctx context.Context, conv messaging.Conversation) error {
	return c.Messages.Select(ctx, c.Identity.Client(), conv)
}

// Flush waits for queued best-effort work.
func (c *Client) Flush(ctx context.Context) error {
	return c.tasks.Flush(ctx)
}

func (c *Client) Close() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.Messages.Close()
	c.Conversations.Stop()
	c.Anyone.Close()
	c.Identity.Close()
	c.tasks.Close()
}
