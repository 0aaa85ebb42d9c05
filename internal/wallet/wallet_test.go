package wallet

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress(" 0xAbCdEf0000000000000000000000000000000123 ")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000123", got)

	_, err = NormalizeAddress("0xNotAnAddress")
	assert.Error(t, err)
}

func TestSignAndVerifyRoundtrip(t *testing.T) {
	w, err := GenerateKeyWallet(1)
	require.NoError(t, err)
	ctx := context.Background()
	accounts, err := w.RequestAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	sigHex, err := w.SignMessage(ctx, accounts[0], "hello inbox")
	require.NoError(t, err)
	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)

	require.NoError(t, VerifySignature(accounts[0], "hello inbox", sig))
	assert.ErrorIs(t, VerifySignature(accounts[0], "other message", sig), ErrSignatureMismatch)

	recovered, err := RecoverAddress("hello inbox", sig)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(accounts[0]), recovered)
}

func TestRejectionsCarryProviderCodes(t *testing.T) {
	w, err := GenerateKeyWallet(1)
	require.NoError(t, err)
	w.RejectConnect(true)
	_, err = w.RequestAccounts(context.Background())
	assert.Equal(t, CodeUserRejected, ErrorCode(err))

	w.RejectConnect(false)
	w.RejectSigning(true)
	_, err = w.SignMessage(context.Background(), w.Address(0), "m")
	assert.Equal(t, CodeUserRejected, ErrorCode(err))
}

func TestAccountsHiddenUntilRequested(t *testing.T) {
	w, err := GenerateKeyWallet(2)
	require.NoError(t, err)
	ctx := context.Background()
	exposed, err := w.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, exposed)

	_, err = w.RequestAccounts(ctx)
	require.NoError(t, err)
	w.Select(1)
	exposed, err = w.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, w.Address(1), exposed[0])
}

func TestSubscribeReceivesEvents(t *testing.T) {
	w, err := GenerateKeyWallet(2)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	events := w.Subscribe(ctx)

	w.Select(1)
	w.SwitchChain("0x89")

	select {
	case ev := <-events:
		assert.Equal(t, EventAccountsChanged, ev.Kind)
		assert.Equal(t, w.Address(1), ev.Accounts[0])
	case <-time.After(time.Second):
		t.Fatal("expected accountsChanged event")
	}
	ev := <-events
	assert.Equal(t, EventChainChanged, ev.Kind)
	assert.Equal(t, "0x89", ev.ChainID)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, time.Second, 10*time.Millisecond)
}
