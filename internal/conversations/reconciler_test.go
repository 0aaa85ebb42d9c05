package conversations

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenix-chat/go-backend/internal/messaging"
	"phenix-chat/go-backend/internal/messaging/memnet"
	"phenix-chat/go-backend/internal/remotestore"
	"phenix-chat/go-backend/internal/tasks"
	"phenix-chat/go-backend/internal/wallet"
	"phenix-chat/go-backend/pkg/models"
)

type signer struct {
	w *wallet.KeyWallet
}

func (s signer) Identifier() messaging.Identifier {
	return messaging.EthereumIdentifier(s.w.Address(0))
}

func (s signer) SignMessage(ctx context.Context, msg string) ([]byte, error) {
	sig, err := s.w.SignMessage(ctx, s.w.Address(0), msg)
	if err != nil {
		return nil, err
	}
	return hexutil.Decode(sig)
}

type account struct {
	address string
	client  messaging.Client
}

func join(t *testing.T, n *memnet.Network) account {
	t.Helper()
	w, err := wallet.GenerateKeyWallet(1)
	require.NoError(t, err)
	c, err := n.Create(context.Background(), signer{w: w}, messaging.Options{DBEncryptionKey: []byte(w.Address(0))})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return account{address: strings.ToLower(w.Address(0)), client: c}
}

type fakeIndex struct {
	mu      sync.Mutex
	records map[string][]models.StoredConversation
	upserts [][]string
	err     error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{records: make(map[string][]models.StoredConversation)}
}

func (f *fakeIndex) UpsertConversation(_ context.Context, participants []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, participants)
	return remotestore.CanonicalKey(participants), nil
}

func (f *fakeIndex) GetConversationsForAddress(_ context.Context, address string) ([]models.StoredConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.records[strings.ToLower(address)], nil
}

func (f *fakeIndex) save(owner string, participants ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := models.StoredConversation{Key: remotestore.CanonicalKey(participants), Participants: participants, UpdatedAt: time.Unix(100, 0)}
	f.records[strings.ToLower(owner)] = append(f.records[strings.ToLower(owner)], rec)
}

func (f *fakeIndex) upsertCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.upserts...)
}

func newReconciler(t *testing.T, index RemoteIndex) (*Reconciler, *tasks.Queue) {
	t.Helper()
	q := tasks.New(zerolog.Nop(), tasks.Options{Workers: 1})
	r := New(Options{Remote: index, Tasks: q, Logger: zerolog.Nop()})
	t.Cleanup(func() {
		r.Stop()
		q.Close()
	})
	return r, q
}

func send(t *testing.T, dm messaging.Conversation, body string) {
	t.Helper()
	_, err := dm.Send(context.Background(), messaging.Text{Body: body})
	require.NoError(t, err)
}

func TestBulkLoadDerivesPreviewsAndOrder(t *testing.T) {
	clock := time.Unix(1_000, 0)
	n := memnet.New(memnet.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	me, bob, carol, dave := join(t, n), join(t, n), join(t, n), join(t, n)
	ctx := context.Background()

	withBob, err := me.client.Conversations().NewDm(ctx, bob.client.InboxID())
	require.NoError(t, err)
	withCarol, err := me.client.Conversations().NewDm(ctx, carol.client.InboxID())
	require.NoError(t, err)
	withDave, err := me.client.Conversations().NewDm(ctx, dave.client.InboxID())
	require.NoError(t, err)

	send(t, withCarol, "old")
	send(t, withBob, "newest")
	_, err = withDave.Send(ctx, messaging.Reaction{RefID: "x", Emoji: "👍"})
	require.NoError(t, err)
	n.SetFault(memnet.OpMessages, withDave.ID(), errors.New("history unavailable"))

	r, _ := newReconciler(t, nil)
	require.NoError(t, r.Start(ctx, me.client, me.address))
	list := r.Conversations()
	require.Len(t, list, 3)

	assert.Equal(t, bob.client.InboxID(), list[0].PeerInboxID)
	assert.Equal(t, "newest", list[0].LastMessage)
	assert.Equal(t, carol.client.InboxID(), list[1].PeerInboxID)
	assert.Equal(t, "old", list[1].LastMessage)
	assert.Equal(t, dave.client.InboxID(), list[2].PeerInboxID)
	assert.Empty(t, list[2].LastMessage)
	assert.True(t, list[2].LastActivity.IsZero())
	assert.Equal(t, remotestore.CanonicalKey([]string{me.client.InboxID(), bob.client.InboxID()}), list[0].Key)

	n.ClearFaults()
	require.NoError(t, r.Start(ctx, me.client, me.address))
	for _, s := range r.Conversations() {
		if s.PeerInboxID == dave.client.InboxID() {
			assert.Equal(t, systemPreview, s.LastMessage)
		}
	}
}

func TestRemoteIndexRehydratesMissingConversations(t *testing.T) {
	n := memnet.New()
	me, bob, carol := join(t, n), join(t, n), join(t, n)
	ctx := context.Background()

	_, err := me.client.Conversations().NewDm(ctx, bob.client.InboxID())
	require.NoError(t, err)

	index := newFakeIndex()
	index.save(me.client.InboxID(), me.client.InboxID(), strings.ToUpper(bob.client.InboxID()))
	index.save(me.client.InboxID(), carol.client.InboxID(), me.client.InboxID())
	index.save(me.address, me.address, "missing-inbox")

	n.SetFault(memnet.OpNewDm, "missing-inbox", errors.New("no such inbox"))
	r, _ := newReconciler(t, index)
	require.NoError(t, r.Start(ctx, me.client, me.address))

	list := r.Conversations()
	require.Len(t, list, 2)
	peers := []string{list[0].PeerInboxID, list[1].PeerInboxID}
	assert.ElementsMatch(t, []string{bob.client.InboxID(), carol.client.InboxID()}, peers)

	dms, err := me.client.Conversations().ListDms(ctx)
	require.NoError(t, err)
	assert.Len(t, dms, 2)
}

func TestRemoteIndexFailureIsNotFatal(t *testing.T) {
	n := memnet.New()
	me, bob := join(t, n), join(t, n)
	_, err := me.client.Conversations().NewDm(context.Background(), bob.client.InboxID())
	require.NoError(t, err)

	index := newFakeIndex()
	index.err = errors.New("index down")
	r, _ := newReconciler(t, index)
	require.NoError(t, r.Start(context.Background(), me.client, me.address))
	assert.Len(t, r.Conversations(), 1)
}

func TestLiveStreamPrependsNewPeersOnly(t *testing.T) {
	n := memnet.New()
	me, bob, carol := join(t, n), join(t, n), join(t, n)
	ctx := context.Background()
	_, err := me.client.Conversations().NewDm(ctx, bob.client.InboxID())
	require.NoError(t, err)

	r, _ := newReconciler(t, nil)
	require.NoError(t, r.Start(ctx, me.client, me.address))
	before := r.Conversations()
	require.Len(t, before, 1)

	_, err = carol.client.Conversations().NewDm(ctx, me.client.InboxID())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(r.Conversations()) == 2 }, time.Second, 10*time.Millisecond)
	list := r.Conversations()
	assert.Equal(t, carol.client.InboxID(), list[0].PeerInboxID)
	assert.False(t, list[0].LastActivity.IsZero())

	_, err = carol.client.Conversations().NewGroup(ctx, []string{me.client.InboxID()}, "weekend")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(r.Groups()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "weekend", r.Groups()[0].Name)
	assert.Len(t, r.Groups()[0].Members, 2)
}

func TestCreateConversation(t *testing.T) {
	n := memnet.New()
	me, bob := join(t, n), join(t, n)
	ctx := context.Background()
	index := newFakeIndex()
	r, q := newReconciler(t, index)

	_, err := r.CreateConversation(ctx, bob.address)
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, r.Start(ctx, me.client, me.address))
	_, err = r.CreateConversation(ctx, "0x00000000000000000000000000000000000000aa")
	require.ErrorIs(t, err, ErrNoInbox)
	assert.Contains(t, err.Error(), "No XMTP inbox found")
	assert.Empty(t, r.Conversations())

	dm, err := r.CreateConversation(ctx, bob.address)
	require.NoError(t, err)
	again, err := r.CreateConversation(ctx, "0x"+strings.ToUpper(bob.address[2:]))
	require.NoError(t, err)
	assert.Equal(t, dm.ID(), again.ID())
	list := r.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, dm.ID(), list[0].Conversation.ID())

	flushCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, q.Flush(flushCtx))
	calls := index.upsertCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, []string{me.client.InboxID(), bob.client.InboxID()}, calls[0])
}

func TestCreateGroup(t *testing.T) {
	n := memnet.New()
	me, bob, carol := join(t, n), join(t, n), join(t, n)
	ctx := context.Background()
	r, _ := newReconciler(t, nil)
	require.NoError(t, r.Start(ctx, me.client, me.address))

	g, err := r.CreateGroup(ctx, " crew ", []string{bob.address, carol.address})
	require.NoError(t, err)
	groups := r.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, g.ID(), groups[0].ID)
	assert.Equal(t, "crew", groups[0].Name)
	assert.Len(t, groups[0].Members, 3)

	_, err = r.CreateGroup(ctx, "x", []string{"0x00000000000000000000000000000000000000bb"})
	assert.ErrorIs(t, err, ErrNoInbox)
}

func TestGroupMemberFailureLeavesEmptyMembers(t *testing.T) {
	n := memnet.New()
	me, bob := join(t, n), join(t, n)
	ctx := context.Background()
	g, err := me.client.Conversations().NewGroup(ctx, []string{bob.client.InboxID()}, "g")
	require.NoError(t, err)
	n.SetFault(memnet.OpMembers, g.ID(), errors.New("members unavailable"))

	r, _ := newReconciler(t, nil)
	require.NoError(t, r.Start(ctx, me.client, me.address))
	groups := r.Groups()
	require.Len(t, groups, 1)
	assert.Empty(t, groups[0].Members)
}

func TestTouchReordersByActivity(t *testing.T) {
	n := memnet.New()
	me, bob, carol := join(t, n), join(t, n), join(t, n)
	ctx := context.Background()
	r, _ := newReconciler(t, nil)
	require.NoError(t, r.Start(ctx, me.client, me.address))
	first, err := r.CreateConversation(ctx, bob.address)
	require.NoError(t, err)
	_, err = r.CreateConversation(ctx, carol.address)
	require.NoError(t, err)
	require.Equal(t, carol.client.InboxID(), r.Conversations()[0].PeerInboxID)

	r.Touch(first.ID(), "ping", time.Now().Add(time.Hour))
	list := r.Conversations()
	assert.Equal(t, bob.client.InboxID(), list[0].PeerInboxID)
	assert.Equal(t, "ping", list[0].LastMessage)
}

func TestStopClearsProjection(t *testing.T) {
	n := memnet.New()
	me, bob := join(t, n), join(t, n)
	ctx := context.Background()
	_, err := me.client.Conversations().NewDm(ctx, bob.client.InboxID())
	require.NoError(t, err)
	r, _ := newReconciler(t, nil)
	require.NoError(t, r.Start(ctx, me.client, me.address))
	require.Len(t, r.Conversations(), 1)
	r.Stop()
	assert.Empty(t, r.Conversations())
	assert.ErrorIs(t, r.Start(ctx, nil, ""), ErrNotInitialized)
}

func TestDedupeIsIdempotentAndCaseInsensitive(t *testing.T) {
	items := []Summary{
		{PeerInboxID: "AbC", LastMessage: "first"},
		{PeerInboxID: "def"},
		{PeerInboxID: "abc", LastMessage: "second"},
		{PeerInboxID: "DEF"},
	}
	once := Dedupe(items)
	twice := Dedupe(once)
	require.Len(t, once, 2)
	assert.Equal(t, "first", once[0].LastMessage)
	assert.Equal(t, once, twice)
}

func TestSortByRecencyTreatsZeroAsEpoch(t *testing.T) {
	items := sortByRecency([]Summary{
		{PeerInboxID: "zero"},
		{PeerInboxID: "new", LastActivity: time.Unix(200, 0)},
		{PeerInboxID: "old", LastActivity: time.Unix(100, 0)},
	})
	assert.Equal(t, []string{"new", "old", "zero"}, []string{items[0].PeerInboxID, items[1].PeerInboxID, items[2].PeerInboxID})
}
