package memnet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenix-chat/go-backend/internal/messaging"
	"phenix-chat/go-backend/internal/wallet"
)

type walletSigner struct {
	w       *wallet.KeyWallet
	address string
}

func (s walletSigner) Identifier() messaging.Identifier {
	return messaging.EthereumIdentifier(s.address)
}

func (s walletSigner) SignMessage(ctx context.Context, message string) ([]byte, error) {
	sig, err := s.w.SignMessage(ctx, s.address, message)
	if err != nil {
		return nil, err
	}
	return hexutil.Decode(sig)
}

func newClient(t *testing.T, n *Network, key []byte) (messaging.Client, *wallet.KeyWallet) {
	t.Helper()
	w, err := wallet.GenerateKeyWallet(1)
	require.NoError(t, err)
	c, err := n.Create(context.Background(), walletSigner{w: w, address: w.Address(0)}, messaging.Options{DBEncryptionKey: key})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, w
}

func TestCreateVerifiesWalletSignature(t *testing.T) {
	n := New(WithVerifier(wallet.VerifySignature))
	c, w := newClient(t, n, []byte("k1"))
	assert.Equal(t, InboxIDFor(w.Address(0)), c.InboxID())
	assert.Len(t, c.InstallationID(), 32)

	w.RejectSigning(true)
	_, err := n.Create(context.Background(), walletSigner{w: w, address: w.Address(0)}, messaging.Options{})
	require.Error(t, err)
	assert.Equal(t, wallet.CodeUserRejected, wallet.ErrorCode(err))
}

func TestInstallationIDStablePerDeviceKey(t *testing.T) {
	n := New()
	w, err := wallet.GenerateKeyWallet(1)
	require.NoError(t, err)
	signer := walletSigner{w: w, address: w.Address(0)}
	a, err := n.Create(context.Background(), signer, messaging.Options{DBEncryptionKey: []byte("same")})
	require.NoError(t, err)
	b, err := n.Create(context.Background(), signer, messaging.Options{DBEncryptionKey: []byte("same")})
	require.NoError(t, err)
	c, err := n.Create(context.Background(), signer, messaging.Options{DBEncryptionKey: []byte("other")})
	require.NoError(t, err)

	assert.Equal(t, a.InstallationID(), b.InstallationID())
	assert.NotEqual(t, a.InstallationID(), c.InstallationID())
	assert.Equal(t, a.InboxID(), c.InboxID())

	installs, err := a.Installations(context.Background())
	require.NoError(t, err)
	assert.Len(t, installs, 2)

	require.NoError(t, a.RevokeAllOtherInstallations(context.Background()))
	installs, err = a.Installations(context.Background())
	require.NoError(t, err)
	assert.Len(t, installs, 1)
	registered, err := c.IsRegistered(context.Background())
	require.NoError(t, err)
	assert.False(t, registered)
}

func TestRegistrationGatesSend(t *testing.T) {
	n := New()
	alice, _ := newClient(t, n, []byte("a"))
	w, err := wallet.GenerateKeyWallet(1)
	require.NoError(t, err)
	bob, err := n.Create(context.Background(), walletSigner{w: w, address: w.Address(0)}, messaging.Options{DisableAutoRegister: true})
	require.NoError(t, err)

	ctx := context.Background()
	registered, err := bob.IsRegistered(ctx)
	require.NoError(t, err)
	assert.False(t, registered)

	dm, err := bob.Conversations().NewDm(ctx, alice.InboxID())
	require.NoError(t, err)
	_, err = dm.Send(ctx, messaging.Text{Body: "hi"})
	assert.ErrorIs(t, err, messaging.ErrNotRegistered)

	reach, err := alice.CanMessage(ctx, []string{bob.InboxID(), "missing"})
	require.NoError(t, err)
	assert.False(t, reach[bob.InboxID()])
	assert.False(t, reach["missing"])

	require.NoError(t, bob.Register(ctx))
	_, err = dm.Send(ctx, messaging.Text{Body: "hi"})
	require.NoError(t, err)
}

func TestDmIsSharedAndStreamed(t *testing.T) {
	n := New()
	alice, aliceWallet := newClient(t, n, []byte("a"))
	bob, _ := newClient(t, n, []byte("b"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incoming, err := bob.Conversations().StreamDms(ctx)
	require.NoError(t, err)

	inbox, err := bob.InboxIDForIdentifier(ctx, messaging.EthereumIdentifier(aliceWallet.Address(0)))
	require.NoError(t, err)
	assert.Equal(t, alice.InboxID(), inbox)

	dm, err := alice.Conversations().NewDm(ctx, bob.InboxID())
	require.NoError(t, err)
	again, err := alice.Conversations().NewDm(ctx, bob.InboxID())
	require.NoError(t, err)
	assert.Equal(t, dm.ID(), again.ID())

	select {
	case got := <-incoming:
		assert.Equal(t, dm.ID(), got.ID())
		peer, err := got.PeerInboxID(ctx)
		require.NoError(t, err)
		assert.Equal(t, alice.InboxID(), peer)
	case <-time.After(time.Second):
		t.Fatal("bob did not see the new dm")
	}

	bobDms, err := bob.Conversations().ListDms(ctx)
	require.NoError(t, err)
	require.Len(t, bobDms, 1)
	live, err := bobDms[0].Stream(ctx)
	require.NoError(t, err)

	_, err = dm.Send(ctx, messaging.Reaction{RefID: "m1", Emoji: "🎉"})
	require.NoError(t, err)
	select {
	case msg := <-live:
		assert.Equal(t, messaging.Reaction{RefID: "m1", Emoji: "🎉"}, msg.Content)
		assert.True(t, msg.IsReaction())
		assert.Equal(t, alice.InboxID(), msg.SenderInboxID)
	case <-time.After(time.Second):
		t.Fatal("bob did not receive the message")
	}

	history, err := bobDms[0].Messages(ctx, messaging.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUnknownInboxRejected(t *testing.T) {
	n := New()
	alice, _ := newClient(t, n, nil)
	_, err := alice.Conversations().NewDm(context.Background(), "nobody")
	assert.ErrorIs(t, err, messaging.ErrUnknownInbox)

	got, err := alice.InboxIDForIdentifier(context.Background(), messaging.EthereumIdentifier("0x0000000000000000000000000000000000000001"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGroupsAndFaults(t *testing.T) {
	n := New()
	alice, _ := newClient(t, n, []byte("a"))
	bob, _ := newClient(t, n, []byte("b"))
	ctx := context.Background()

	g, err := alice.Conversations().NewGroup(ctx, []string{bob.InboxID(), bob.InboxID()}, "crew")
	require.NoError(t, err)
	assert.Equal(t, "crew", g.Name())
	members, err := g.MemberInboxIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice.InboxID(), bob.InboxID()}, members)

	boom := errors.New("boom")
	n.SetFault(OpMembers, g.ID(), boom)
	_, err = g.MemberInboxIDs(ctx)
	assert.ErrorIs(t, err, boom)
	n.SetFault(OpMembers, g.ID(), nil)
	_, err = g.MemberInboxIDs(ctx)
	assert.NoError(t, err)

	n.SetFault(OpList, "", boom)
	_, err = alice.Conversations().List(ctx, messaging.ListOptions{Limit: 1})
	assert.ErrorIs(t, err, boom)
	n.ClearFaults()
	all, err := alice.Conversations().List(ctx, messaging.ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInjectDeliversDuplicates(t *testing.T) {
	n := New()
	alice, _ := newClient(t, n, []byte("a"))
	bob, _ := newClient(t, n, []byte("b"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dm, err := alice.Conversations().NewDm(ctx, bob.InboxID())
	require.NoError(t, err)
	live, err := dm.Stream(ctx)
	require.NoError(t, err)

	enc, err := alice.Codecs().Encode(messaging.Text{Body: "first"})
	require.NoError(t, err)
	require.NoError(t, n.Inject(dm.ID(), bob.InboxID(), "dup", enc))
	enc.Content = []byte("second")
	require.NoError(t, n.Inject(dm.ID(), bob.InboxID(), "dup", enc))

	for _, want := range []string{"first", "second"} {
		msg := <-live
		assert.Equal(t, "dup", msg.ID)
		assert.Equal(t, messaging.Text{Body: want}, msg.Content)
	}
	require.NoError(t, n.Redeliver(dm.ID(), "dup"))
	assert.Equal(t, "dup", (<-live).ID)
}

func TestClosedClientAndStreamTeardown(t *testing.T) {
	n := New()
	alice, _ := newClient(t, n, []byte("a"))
	ctx := context.Background()
	stream, err := alice.Conversations().StreamGroups(ctx)
	require.NoError(t, err)
	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		select {
		case _, open := <-stream:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	_, err = alice.IsRegistered(ctx)
	assert.ErrorIs(t, err, messaging.ErrClosed)
}
