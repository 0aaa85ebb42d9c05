// Package identity owns the wallet-derived messaging identity, the device
// key material, and the lifecycle of the messaging client handle.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"phenix-chat/go-backend/internal/localstore"
	"phenix-chat/go-backend/internal/messaging"
	"phenix-chat/go-backend/internal/platform/privacylog"
	"phenix-chat/go-backend/internal/tasks"
	"phenix-chat/go-backend/internal/wallet"
	"phenix-chat/go-backend/pkg/models"
)

const DefaultAppVersion = "phenix-chat/0.1.0"

// UserDirectory receives best-effort user upserts after a connect.
type UserDirectory interface {
	UpsertUser(ctx context.Context, address, ensName, inboxID string) (string, error)
}

type Options struct {
	// Wallet is nil when no wallet is injected.
	Wallet  wallet.Provider
	Network messaging.Factory
	Local   localstore.Store
	Users   UserDirectory
	Tasks   *tasks.Queue
	Logger  zerolog.Logger

	Env                 messaging.Env
	AppVersion          string
	DisableAutoRegister bool
	// OnChainChanged replaces the default reload on a chain change.
	OnChainChanged func(ctx context.Context)
}

type State struct {
	Connected      bool   `json:"isConnected"`
	Connecting     bool   `json:"isConnecting"`
	Registered     bool   `json:"isRegistered"`
	Address        string `json:"address,omitempty"`
	ENSName        string `json:"ensName,omitempty"`
	InboxID        string `json:"inboxId,omitempty"`
	InstallationID string `json:"installationId,omitempty"`
	Error          string `json:"error,omitempty"`
}

type Manager struct {
	wallet    wallet.Provider
	network   messaging.Factory
	local     localstore.Store
	users     UserDirectory
	tasks     *tasks.Queue
	logger    zerolog.Logger
	opts      Options
	connectMu sync.Mutex

	mu        sync.RWMutex
	client    messaging.Client
	state     State
	listeners map[int]func(State)
	nextID    int
}

func NewManager(opts Options) *Manager {
	if opts.Local == nil {
		opts.Local = localstore.NewMemory()
	}
	if opts.AppVersion == "" {
		opts.AppVersion = DefaultAppVersion
	}
	if opts.Env == "" {
		opts.Env = messaging.EnvProduction
	}
	return &Manager{
		wallet:    opts.Wallet,
		network:   opts.Network,
		local:     opts.Local,
		users:     opts.Users,
		tasks:     opts.Tasks,
		logger:    opts.Logger.With().Str("component", "identity").Logger(),
		opts:      opts,
		listeners: make(map[int]func(State)),
	}
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Client is nil while disconnected.
func (m *Manager) Client() messaging.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *Manager) Identity() (models.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.state.Connected {
		return models.Identity{}, false
	}
	return models.Identity{
		WalletAddress:  m.state.Address,
		DisplayName:    m.state.ENSName,
		InboxID:        m.state.InboxID,
		InstallationID: m.state.InstallationID,
	}, true
}

// OnChange registers fn for state updates and returns its removal.
func (m *Manager) OnChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) ClearError() {
	m.update(func(s *State) { s.Error = "" })
}

func (m *Manager) update(fn func(*State)) {
	m.mu.Lock()
	fn(&m.state)
	snapshot := m.state
	listeners := make([]func(State), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()
	for _, l := range listeners {
		l(snapshot)
	}
}

// ConnectWallet runs the full connect flow. Failures are reported through
// State().Error, never returned.
func (m *Manager) ConnectWallet(ctx context.Context) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.update(func(s *State) {
		s.Connecting = true
		s.Error = ""
	})
	if err := m.connect(ctx); err != nil {
		m.logger.Error().Err(err).Str("kind", string(errorKind(err))).Msg("wallet connect failed")
		m.update(func(s *State) {
			s.Connecting = false
			s.Error = userMessage(err)
		})
		return
	}
	m.update(func(s *State) { s.Connecting = false })
}

func errorKind(err error) Kind {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindGeneric
}

func (m *Manager) connect(ctx context.Context) error {
	if m.wallet == nil {
		return walletUnavailable()
	}
	accounts, err := m.wallet.RequestAccounts(ctx)
	if err != nil {
		return classifyRequestError(err)
	}
	if len(accounts) == 0 {
		return &ConnectError{Kind: KindGeneric, Message: msgRequestFailed, Err: wallet.ErrNoAccounts}
	}
	address, err := wallet.NormalizeAddress(accounts[0])
	if err != nil {
		return &ConnectError{Kind: KindGeneric, Message: msgRequestFailed, Err: err}
	}

	ensName, err := m.wallet.LookupAddress(ctx, address)
	if err != nil {
		privacylog.With(m.logger.Debug().Err(err), "address", address).Msg("ens resolution failed")
		ensName = ""
	}

	key, err := loadOrCreateDeviceKey(m.local)
	if err != nil {
		return &ConnectError{Kind: KindGeneric, Message: msgInitPrefix + err.Error(), Err: err}
	}
	if m.network == nil {
		return &ConnectError{Kind: KindNetwork, Message: msgNetwork, Err: errors.New("messaging network not configured")}
	}
	client, err := m.network.Create(ctx, walletSigner{provider: m.wallet, address: address}, messaging.Options{
		Env:                 m.opts.Env,
		DBEncryptionKey:     key,
		AppVersion:          m.opts.AppVersion,
		Codecs:              []messaging.Codec{messaging.ReactionCodec{}},
		DisableAutoRegister: m.opts.DisableAutoRegister,
		DisableDeviceSync:   false,
	})
	if err != nil {
		return classifyInitError(err)
	}

	registered := false
	if ok, err := client.IsRegistered(ctx); err == nil {
		registered = ok
	} else {
		m.logger.Debug().Err(err).Msg("registration query failed")
	}

	m.mu.Lock()
	previous := m.client
	m.client = client
	m.mu.Unlock()
	if previous != nil && previous != client {
		_ = previous.Close()
	}
	m.update(func(s *State) {
		s.Connected = true
		s.Registered = registered
		s.Address = address
		s.ENSName = ensName
		s.InboxID = client.InboxID()
		s.InstallationID = client.InstallationID()
	})

	inboxID := client.InboxID()
	if m.users != nil {
		m.tasks.Submit("identity.upsert_user", func(ctx context.Context) error {
			_, err := m.users.UpsertUser(ctx, address, ensName, inboxID)
			return err
		})
	}

	if err := m.local.Set(localstore.KeyConnected, "true"); err != nil {
		m.logger.Warn().Err(err).Msg("persist connection marker failed")
	}
	if err := m.local.Set(localstore.KeyAddress, address); err != nil {
		m.logger.Warn().Err(err).Msg("persist connection marker failed")
	}
	privacylog.With(m.logger.Info(), "address", address, "inbox_id", inboxID).Bool("registered", registered).Msg("wallet connected")
	return nil
}

// Disconnect drops the client and the resumption markers. Device
// registration and the device key are kept.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	m.update(func(s *State) { *s = State{} })
	if err := m.local.Delete(localstore.KeyConnected, localstore.KeyAddress); err != nil {
		m.logger.Warn().Err(err).Msg("clear connection markers failed")
	}
	m.logger.Info().Msg("wallet disconnected")
}

// SwitchAccount re-prompts the wallet for account selection and reconnects.
func (m *Manager) SwitchAccount(ctx context.Context) {
	m.ClearError()
	if m.wallet == nil {
		return
	}
	if err := m.wallet.RequestPermissions(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("account switch failed")
		m.update(func(s *State) { s.Error = msgSwitchFailed })
		return
	}
	m.ConnectWallet(ctx)
}

func (m *Manager) RegisterDevice(ctx context.Context) error {
	client := m.Client()
	if client == nil {
		return ErrNotConnected
	}
	if err := client.Register(ctx); err != nil {
		return err
	}
	m.update(func(s *State) { s.Registered = true })
	privacylog.With(m.logger.Info(), "installation_id", client.InstallationID()).Msg("device registered")
	return nil
}

func (m *Manager) Installations(ctx context.Context) ([]messaging.Installation, error) {
	client := m.Client()
	if client == nil {
		return nil, ErrNotConnected
	}
	return client.Installations(ctx)
}

func (m *Manager) RevokeAllOtherInstallations(ctx context.Context) error {
	client := m.Client()
	if client == nil {
		return ErrNotConnected
	}
	return client.RevokeAllOtherInstallations(ctx)
}

// Resume silently reconnects when a previous session was recorded and the
// wallet still exposes the same account. Stale markers are purged.
func (m *Manager) Resume(ctx context.Context) {
	connected, _, _ := m.local.Get(localstore.KeyConnected)
	stored, ok, _ := m.local.Get(localstore.KeyAddress)
	if connected == "" || !ok || stored == "" || m.wallet == nil {
		return
	}
	accounts, err := m.wallet.Accounts(ctx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("no existing wallet connection")
		m.purgeMarkers()
		return
	}
	for _, account := range accounts {
		if strings.EqualFold(account, stored) {
			m.ConnectWallet(ctx)
			return
		}
	}
	m.purgeMarkers()
}

func (m *Manager) purgeMarkers() {
	if err := m.local.Delete(localstore.KeyConnected, localstore.KeyAddress); err != nil {
		m.logger.Warn().Err(err).Msg("clear connection markers failed")
	}
}

// Run consumes wallet notifications until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	if m.wallet == nil {
		return
	}
	events := m.wallet.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev wallet.Event) {
	switch ev.Kind {
	case wallet.EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			m.Disconnect()
			return
		}
		st := m.State()
		if st.Connected && !strings.EqualFold(ev.Accounts[0], st.Address) {
			m.ConnectWallet(ctx)
		}
	case wallet.EventChainChanged:
		if m.opts.OnChainChanged != nil {
			m.opts.OnChainChanged(ctx)
			return
		}
		m.reload(ctx)
	}
}

// reload drops in-memory session state but keeps the resumption markers,
// then resumes as a fresh start would.
func (m *Manager) reload(ctx context.Context) {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	m.update(func(s *State) { *s = State{} })
	m.logger.Info().Msg("chain changed, reloading session")
	m.Resume(ctx)
}

// Close releases the client without touching persisted state.
func (m *Manager) Close() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
}
