// Package conversations keeps one deduplicated, recency-ordered view of the
// local user's conversations, merged from the live messaging client, the
// remote conversation index, and conversations created on this device.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"phenix-chat/go-backend/internal/messaging"
	"phenix-chat/go-backend/internal/platform/privacylog"
	"phenix-chat/go-backend/internal/remotestore"
	"phenix-chat/go-backend/internal/tasks"
	"phenix-chat/go-backend/pkg/models"
)

const systemPreview = "[system update]"

var (
	ErrNoInbox        = errors.New("No XMTP inbox found for that address")
	ErrNotInitialized = errors.New("XMTP client not initialized")
)

type RemoteIndex interface {
	UpsertConversation(ctx context.Context, participants []string) (string, error)
	GetConversationsForAddress(ctx context.Context, address string) ([]models.StoredConversation, error)
}

// Summary is one dm in the conversation list.
type Summary struct {
	Conversation messaging.Dm
	PeerInboxID  string
	Key          string
	LastMessage  string
	// LastActivity is zero when unknown.
	LastActivity time.Time
}

type GroupSummary struct {
	Group   messaging.Group
	ID      string
	Name    string
	Members []string
}

// Options configures a Reconciler. Remote and Tasks may be nil.
type Options struct {
	Remote RemoteIndex
	Tasks  *tasks.Queue
	Logger zerolog.Logger
	Now    func() time.Time
}

// Reconciler merges live, stored and created conversations into one
// deduplicated list ordered by recent activity.
type Reconciler struct {
	remote RemoteIndex
	tasks  *tasks.Queue
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	client    messaging.Client
	selfInbox string
	items     []Summary
	groups    []GroupSummary
	loading   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New returns an idle Reconciler; Start binds it to a client.
func New(opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		remote: opts.Remote,
		tasks:  opts.Tasks,
		logger: opts.Logger.With().Str("component", "conversations").Logger(),
		now:    opts.Now,
	}
}

// Start binds the reconciler to client, loads the merged list and attaches
// the live conversation streams. A previous binding is stopped first.
// account is the wallet address the remote index may also be keyed by.
func (r *Reconciler) Start(ctx context.Context, client messaging.Client, account string) error {
	if client == nil {
		return ErrNotInitialized
	}
	r.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.client = client
	r.selfInbox = client.InboxID()
	r.cancel = cancel
	r.loading = true
	r.mu.Unlock()

	convs := client.Conversations()
	dmStream, err := convs.StreamDms(runCtx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("conversation stream unavailable")
	}
	groupStream, err := convs.StreamGroups(runCtx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("group stream unavailable")
	}

	items := r.load(runCtx, client, account)
	groups := r.loadGroups(runCtx, client)

	r.mu.Lock()
	if runCtx.Err() == nil {
		r.items = items
		r.groups = groups
		r.loading = false
	}
	r.mu.Unlock()

	if dmStream != nil {
		r.wg.Add(1)
		go r.consumeDms(runCtx, dmStream)
	}
	if groupStream != nil {
		r.wg.Add(1)
		go r.consumeGroups(runCtx, groupStream)
	}
	return nil
}

// Stop cancels live streams and clears the projection.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	r.client = nil
	r.selfInbox = ""
	r.items = nil
	r.groups = nil
	r.loading = false
	r.mu.Unlock()
}

func (r *Reconciler) Conversations() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Summary(nil), r.items...)
}

func (r *Reconciler) Groups() []GroupSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]GroupSummary, 0, len(r.groups))
	for _, g := range r.groups {
		g.Members = append([]string(nil), g.Members...)
		out = append(out, g)
	}
	return out
}

func (r *Reconciler) Loading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loading
}

func (r *Reconciler) load(ctx context.Context, client messaging.Client, account string) []Summary {
	selfInbox := client.InboxID()
	dms, err := client.Conversations().ListDms(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to load conversations")
		return nil
	}

	live := make([]Summary, 0, len(dms))
	present := make(map[string]bool, len(dms))
	for _, dm := range dms {
		s := r.summarize(ctx, selfInbox, dm)
		present[strings.ToLower(s.PeerInboxID)] = true
		live = append(live, s)
	}

	merged := append(live, r.rehydrate(ctx, client, account, present)...)
	return sortByRecency(Dedupe(merged))
}

// summarize derives the preview and activity time of a listed dm. A history
// failure yields a summary with the peer only.
func (r *Reconciler) summarize(ctx context.Context, selfInbox string, dm messaging.Dm) Summary {
	peer, err := dm.PeerInboxID(ctx)
	if err != nil {
		privacylog.With(r.logger.Warn().Err(err), "conversation_id", dm.ID()).Msg("peer lookup failed")
		peer = ""
	}
	s := Summary{Conversation: dm, PeerInboxID: peer, Key: remotestore.CanonicalKey([]string{selfInbox, peer})}

	history, err := dm.Messages(ctx, messaging.ListOptions{})
	if err != nil {
		privacylog.With(r.logger.Warn().Err(err), "conversation_id", dm.ID()).Msg("message history unavailable")
		return s
	}
	if len(history) == 0 {
		s.LastActivity = time.Unix(0, dm.CreatedAtNs())
		return s
	}
	last := history[len(history)-1]
	if body, ok := messaging.PreviewText(last.Content); ok {
		s.LastMessage = body
	} else {
		s.LastMessage = systemPreview
	}
	s.LastActivity = time.Unix(0, last.SentAtNs)
	return s
}

// rehydrate ensures a dm exists for every persisted pair whose peer is not
// in the live list. Failures are logged and skipped.
func (r *Reconciler) rehydrate(ctx context.Context, client messaging.Client, account string, present map[string]bool) []Summary {
	if r.remote == nil {
		return nil
	}
	selfInbox := client.InboxID()
	self := map[string]bool{strings.ToLower(selfInbox): true}
	if account != "" {
		self[strings.ToLower(account)] = true
	}

	var stored []models.StoredConversation
	seenKeys := make(map[string]bool)
	for _, owner := range []string{selfInbox, account} {
		if owner == "" {
			continue
		}
		records, err := r.remote.GetConversationsForAddress(ctx, owner)
		if err != nil {
			r.logger.Warn().Err(err).Msg("remote conversation index unavailable")
			continue
		}
		for _, rec := range records {
			if !seenKeys[rec.Key] {
				seenKeys[rec.Key] = true
				stored = append(stored, rec)
			}
		}
	}

	var out []Summary
	for _, rec := range stored {
		peer := counterpart(rec, self)
		if peer == "" {
			continue
		}
		peerInbox := peer
		if common.IsHexAddress(peer) {
			resolved, err := client.InboxIDForIdentifier(ctx, messaging.EthereumIdentifier(peer))
			if err != nil || resolved == "" {
				privacylog.With(r.logger.Debug(), "peer_address", peer).Msg("saved peer has no inbox")
				continue
			}
			peerInbox = resolved
		}
		key := strings.ToLower(peerInbox)
		if present[key] {
			continue
		}
		present[key] = true
		dm, err := client.Conversations().NewDm(ctx, peerInbox)
		if err != nil {
			privacylog.With(r.logger.Warn().Err(err), "peer_inbox_id", peerInbox).Msg("conversation rehydration failed")
			continue
		}
		out = append(out, Summary{
			Conversation: dm,
			PeerInboxID:  peerInbox,
			Key:          remotestore.CanonicalKey([]string{selfInbox, peerInbox}),
			LastMessage:  rec.LastMessage,
			LastActivity: rec.UpdatedAt,
		})
	}
	return out
}

func counterpart(rec models.StoredConversation, self map[string]bool) string {
	for _, p := range rec.Participants {
		if !self[strings.ToLower(p)] {
			return p
		}
	}
	return ""
}

func (r *Reconciler) loadGroups(ctx context.Context, client messaging.Client) []GroupSummary {
	groups, err := client.Conversations().ListGroups(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list groups")
		return nil
	}
	out := make([]GroupSummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, r.summarizeGroup(ctx, g))
	}
	return out
}

// summarizeGroup loads members best-effort; failure leaves them empty.
func (r *Reconciler) summarizeGroup(ctx context.Context, g messaging.Group) GroupSummary {
	members, err := g.MemberInboxIDs(ctx)
	if err != nil {
		privacylog.With(r.logger.Warn().Err(err), "group_id", g.ID()).Msg("failed to load group members")
		members = []string{}
	}
	return GroupSummary{Group: g, ID: g.ID(), Name: g.Name(), Members: members}
}

func (r *Reconciler) consumeDms(ctx context.Context, stream <-chan messaging.Dm) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case dm, ok := <-stream:
			if !ok {
				return
			}
			peer, err := dm.PeerInboxID(ctx)
			if err != nil {
				privacylog.With(r.logger.Warn().Err(err), "conversation_id", dm.ID()).Msg("streamed conversation without peer")
				continue
			}
			r.mu.Lock()
			if ctx.Err() == nil {
				r.items = prepend(r.items, Summary{
					Conversation: dm,
					PeerInboxID:  peer,
					Key:          remotestore.CanonicalKey([]string{r.selfInbox, peer}),
					LastActivity: r.now(),
				})
			}
			r.mu.Unlock()
		}
	}
}

func (r *Reconciler) consumeGroups(ctx context.Context, stream <-chan messaging.Group) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case g, ok := <-stream:
			if !ok {
				return
			}
			summary := r.summarizeGroup(ctx, g)
			r.mu.Lock()
			if ctx.Err() == nil && !hasGroup(r.groups, summary.ID) {
				r.groups = append([]GroupSummary{summary}, r.groups...)
			}
			r.mu.Unlock()
		}
	}
}

func hasGroup(groups []GroupSummary, id string) bool {
	for _, g := range groups {
		if g.ID == id {
			return true
		}
	}
	return false
}

// CreateConversation resolves peerAddress to an inbox, opens a dm and
// persists the pair to the remote index best-effort.
func (r *Reconciler) CreateConversation(ctx context.Context, peerAddress string) (messaging.Dm, error) {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()
	if client == nil {
		return nil, ErrNotInitialized
	}
	peerInbox, err := r.resolveInbox(ctx, client, peerAddress)
	if err != nil {
		return nil, err
	}
	dm, err := client.Conversations().NewDm(ctx, peerInbox)
	if err != nil {
		return nil, fmt.Errorf("open conversation: %w", err)
	}

	selfInbox := client.InboxID()
	if r.remote != nil {
		r.tasks.Submit("conversations.upsert", func(ctx context.Context) error {
			_, err := r.remote.UpsertConversation(ctx, []string{selfInbox, peerInbox})
			return err
		})
	}

	r.mu.Lock()
	if r.client == client {
		r.items = prepend(r.items, Summary{
			Conversation: dm,
			PeerInboxID:  peerInbox,
			Key:          remotestore.CanonicalKey([]string{selfInbox, peerInbox}),
			LastActivity: r.now(),
		})
	}
	r.mu.Unlock()
	privacylog.With(r.logger.Info(), "peer_inbox_id", peerInbox, "conversation_id", dm.ID()).Msg("conversation created")
	return dm, nil
}

// CreateGroup opens a group with the given member addresses.
func (r *Reconciler) CreateGroup(ctx context.Context, name string, memberAddresses []string) (messaging.Group, error) {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()
	if client == nil {
		return nil, ErrNotInitialized
	}
	inboxes := make([]string, 0, len(memberAddresses))
	for _, addr := range memberAddresses {
		inbox, err := r.resolveInbox(ctx, client, addr)
		if err != nil {
			return nil, err
		}
		inboxes = append(inboxes, inbox)
	}
	g, err := client.Conversations().NewGroup(ctx, inboxes, strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	summary := r.summarizeGroup(ctx, g)
	r.mu.Lock()
	if r.client == client && !hasGroup(r.groups, summary.ID) {
		r.groups = append([]GroupSummary{summary}, r.groups...)
	}
	r.mu.Unlock()
	return g, nil
}

func (r *Reconciler) resolveInbox(ctx context.Context, client messaging.Client, address string) (string, error) {
	address = strings.TrimSpace(address)
	inbox, err := client.InboxIDForIdentifier(ctx, messaging.EthereumIdentifier(address))
	if err != nil {
		return "", fmt.Errorf("resolve inbox: %w", err)
	}
	if inbox == "" {
		return "", ErrNoInbox
	}
	return inbox, nil
}

// Touch records message activity on a conversation and reorders the list.
func (r *Reconciler) Touch(conversationID, preview string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].Conversation != nil && r.items[i].Conversation.ID() == conversationID {
			r.items[i].LastMessage = preview
			r.items[i].LastActivity = at
			r.items = sortByRecency(r.items)
			return
		}
	}
}

// Dedupe keeps the first summary per case-insensitive peer.
func Dedupe(items []Summary) []Summary {
	seen := make(map[string]bool, len(items))
	out := make([]Summary, 0, len(items))
	for _, it := range items {
		key := strings.ToLower(it.PeerInboxID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

// prepend adds s in front unless its peer is already listed.
func prepend(items []Summary, s Summary) []Summary {
	key := strings.ToLower(s.PeerInboxID)
	for _, it := range items {
		if strings.ToLower(it.PeerInboxID) == key {
			return items
		}
	}
	return append([]Summary{s}, items...)
}

// sortByRecency orders newest first; a zero time sorts as the epoch.
func sortByRecency(items []Summary) []Summary {
	sort.SliceStable(items, func(i, j int) bool {
		return epochMillis(items[i].LastActivity) > epochMillis(items[j].LastActivity)
	})
	return items
}

func epochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
