// Package messages projects the selected conversation's history plus live
// arrivals into one deduplicated list, with reactions split into a side map.
package messages

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"phenix-chat/go-backend/internal/messaging"
	"phenix-chat/go-backend/internal/platform/privacylog"
	"phenix-chat/go-backend/internal/remotestore"
	"phenix-chat/go-backend/internal/tasks"
)

var (
	ErrNoConversation      = errors.New("No conversation selected")
	ErrNotInitialized      = errors.New("XMTP client not initialized")
	ErrDeviceNotRegistered = errors.New("This device is not registered to send messages. Click Register above the composer.")
)

// Reachability is the tri-state result of the peer capability probe.
type Reachability int

const (
	ReachUnknown Reachability = iota
	Reachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ActivitySink is told about message activity on a conversation.
type ActivitySink interface {
	Touch(conversationID, preview string, at time.Time)
}

type LastMessageStore interface {
	UpdateLastMessage(ctx context.Context, key, lastMessage string) error
}

type Options struct {
	Activity ActivitySink
	Remote   LastMessageStore
	Tasks    *tasks.Queue
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Aggregator struct {
	activity ActivitySink
	remote   LastMessageStore
	tasks    *tasks.Queue
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	client    messaging.Client
	conv      messaging.Conversation
	key       string
	messages  []messaging.Message
	seen      map[string]struct{}
	network   map[string]string
	local     map[string]string
	reach     Reachability
	loading   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	listeners []func()
}

func New(opts Options) *Aggregator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		activity: opts.Activity,
		remote:   opts.Remote,
		tasks:    opts.Tasks,
		logger:   opts.Logger.With().Str("component", "messages").Logger(),
		now:      opts.Now,
	}
}

// OnUpdate registers fn to run after every projection change.
func (a *Aggregator) OnUpdate(fn func()) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

func (a *Aggregator) notify() {
	a.mu.RLock()
	listeners := append([]func(){}, a.listeners...)
	a.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// Select switches the projection to conv. The live stream is attached
// before history loads so nothing sent in between is lost. A nil conv
// clears the projection.
func (a *Aggregator) Select(ctx context.Context, client messaging.Client, conv messaging.Conversation) error {
	a.stop()
	if conv == nil {
		a.notify()
		return nil
	}
	if client == nil {
		return ErrNotInitialized
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.client = client
	a.conv = conv
	a.key = conversationKey(runCtx, client, conv)
	a.loading = true
	a.cancel = cancel
	a.mu.Unlock()

	stream, err := conv.Stream(runCtx)
	if err != nil {
		privacylog.With(a.logger.Warn().Err(err), "conversation_id", conv.ID()).Msg("message stream unavailable")
	}

	a.wg.Add(1)
	go a.probe(runCtx, client, conv)

	history, err := conv.Messages(runCtx, messaging.ListOptions{})
	if err != nil {
		privacylog.With(a.logger.Error().Err(err), "conversation_id", conv.ID()).Msg("failed to load messages")
	}
	a.mu.Lock()
	if runCtx.Err() == nil {
		for _, m := range history {
			a.applyLocked(m)
		}
		a.loading = false
	}
	a.mu.Unlock()
	a.notify()

	if stream != nil {
		a.wg.Add(1)
		go a.consume(runCtx, conv.ID(), stream)
	}
	return nil
}

func conversationKey(ctx context.Context, client messaging.Client, conv messaging.Conversation) string {
	dm, ok := conv.(messaging.Dm)
	if !ok {
		return ""
	}
	peer, err := dm.PeerInboxID(ctx)
	if err != nil || peer == "" {
		return ""
	}
	return remotestore.CanonicalKey([]string{client.InboxID(), peer})
}

func (a *Aggregator) stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	a.mu.Lock()
	a.client = nil
	a.conv = nil
	a.key = ""
	a.messages = nil
	a.seen = make(map[string]struct{})
	a.network = make(map[string]string)
	a.local = make(map[string]string)
	a.reach = ReachUnknown
	a.loading = false
	a.mu.Unlock()
}

func (a *Aggregator) Close() {
	a.stop()
}

// applyLocked dedupes by id; first occurrence wins and arrival order is kept.
func (a *Aggregator) applyLocked(m messaging.Message) bool {
	if _, dup := a.seen[m.ID]; dup {
		return false
	}
	a.seen[m.ID] = struct{}{}
	if r, ok := m.Content.(messaging.Reaction); ok {
		if r.RefID != "" && r.Emoji != "" {
			a.network[r.RefID] = r.Emoji
		}
		return true
	}
	a.messages = append(a.messages, m)
	return true
}

func (a *Aggregator) consume(ctx context.Context, conversationID string, stream <-chan messaging.Message) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-stream:
			if !ok {
				return
			}
			a.mu.Lock()
			applied := ctx.Err() == nil && a.applyLocked(m)
			a.mu.Unlock()
			if !applied {
				continue
			}
			if body, isText := messaging.PreviewText(m.Content); isText && a.activity != nil {
				a.activity.Touch(conversationID, body, time.Unix(0, m.SentAtNs))
			}
			a.notify()
		}
	}
}

// probe resolves whether the peer can currently be messaged. Groups and
// probe failures stay unknown.
func (a *Aggregator) probe(ctx context.Context, client messaging.Client, conv messaging.Conversation) {
	defer a.wg.Done()
	result := ReachUnknown
	if dm, ok := conv.(messaging.Dm); ok {
		if peer, err := dm.PeerInboxID(ctx); err == nil {
			if reach, err := client.CanMessage(ctx, []string{peer}); err == nil {
				if reach[peer] {
					result = Reachable
				} else {
					result = Unreachable
				}
			} else {
				a.logger.Debug().Err(err).Msg("reachability probe failed")
			}
		}
	}
	a.mu.Lock()
	if ctx.Err() == nil {
		a.reach = result
	}
	a.mu.Unlock()
}

func (a *Aggregator) Messages() []messaging.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]messaging.Message(nil), a.messages...)
}

// Reactions maps message id to emoji. Local selections override network ones.
func (a *Aggregator) Reactions() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.network)+len(a.local))
	for k, v := range a.network {
		out[k] = v
	}
	for k, v := range a.local {
		out[k] = v
	}
	return out
}

func (a *Aggregator) Reachability() Reachability {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.reach
}

func (a *Aggregator) Loading() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loading
}

func (a *Aggregator) Selected() messaging.Conversation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conv
}

func (a *Aggregator) current() (messaging.Client, messaging.Conversation, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.conv == nil {
		return nil, nil, "", ErrNoConversation
	}
	if a.client == nil {
		return nil, nil, "", ErrNotInitialized
	}
	return a.client, a.conv, a.key, nil
}

// SendMessage sends a text message. It is refused when the installation is
// known to be unregistered; a failing registration query counts as
// registered. Send failures are returned so the caller can restore its draft.
func (a *Aggregator) SendMessage(ctx context.Context, body string) (string, error) {
	client, conv, key, err := a.current()
	if err != nil {
		return "", err
	}
	registered, err := client.IsRegistered(ctx)
	if err != nil {
		registered = true
	}
	if !registered {
		return "", ErrDeviceNotRegistered
	}
	id, err := conv.Send(ctx, messaging.Text{Body: body})
	if err != nil {
		privacylog.With(a.logger.Error().Err(err), "conversation_id", conv.ID()).Msg("failed to send message")
		return "", err
	}

	if a.remote != nil && key != "" {
		a.tasks.Submit("messages.update_last_message", func(ctx context.Context) error {
			err := a.remote.UpdateLastMessage(ctx, key, body)
			if errors.Is(err, remotestore.ErrNotFound) {
				return nil
			}
			return err
		})
	}
	if a.activity != nil {
		a.activity.Touch(conv.ID(), body, a.now())
	}
	return id, nil
}

// SendReaction records the reaction locally, then sends it. The local entry
// is rolled back if the send fails.
func (a *Aggregator) SendReaction(ctx context.Context, refID, emoji string) error {
	_, conv, _, err := a.current()
	if err != nil {
		return err
	}
	a.mu.Lock()
	previous, had := a.local[refID]
	a.local[refID] = emoji
	a.mu.Unlock()
	a.notify()

	if _, err := conv.Send(ctx, messaging.Reaction{RefID: refID, Emoji: emoji}); err != nil {
		a.mu.Lock()
		if a.conv == conv {
			if had {
				a.local[refID] = previous
			} else {
				delete(a.local, refID)
			}
		}
		a.mu.Unlock()
		a.notify()
		privacylog.With(a.logger.Warn().Err(err), "ref_id", refID).Msg("failed to send reaction")
		return err
	}
	return nil
}
