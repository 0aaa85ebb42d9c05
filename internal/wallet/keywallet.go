package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyWallet is a Provider over in-process secp256k1 keys.
type KeyWallet struct {
	mu       sync.Mutex
	keys     []*ecdsa.PrivateKey
	selected int
	exposed  bool
	names    map[string]string
	chainID  string
	subs     map[int]chan Event
	nextSub  int

	rejectConnect bool
	rejectSigning bool
}

func NewKeyWallet(keys ...*ecdsa.PrivateKey) *KeyWallet {
	return &KeyWallet{
		keys:    append([]*ecdsa.PrivateKey(nil), keys...),
		names:   make(map[string]string),
		chainID: "0x1",
		subs:    make(map[int]chan Event),
	}
}

// GenerateKeyWallet creates a wallet holding n fresh accounts.
func GenerateKeyWallet(n int) (*KeyWallet, error) {
	keys := make([]*ecdsa.PrivateKey, 0, n)
	for i := 0; i < n; i++ {
		k, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return NewKeyWallet(keys...), nil
}

// KeyWalletFromHex loads a single-account wallet from a hex private key.
func KeyWalletFromHex(hexKey string) (*KeyWallet, error) {
	k, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	return NewKeyWallet(k), nil
}

func (w *KeyWallet) RequestAccounts(context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rejectConnect {
		return nil, &ProviderError{Code: CodeUserRejected, Message: "User rejected the request."}
	}
	if len(w.keys) == 0 {
		return nil, ErrNoAccounts
	}
	w.exposed = true
	return w.accountsLocked(), nil
}

func (w *KeyWallet) Accounts(context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.exposed {
		return []string{}, nil
	}
	return w.accountsLocked(), nil
}

func (w *KeyWallet) RequestPermissions(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rejectConnect {
		return &ProviderError{Code: CodeUserRejected, Message: "User rejected the request."}
	}
	w.exposed = true
	return nil
}

func (w *KeyWallet) SignMessage(_ context.Context, address, message string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rejectSigning {
		return "", &ProviderError{Code: CodeUserRejected, Message: "User denied message signature."}
	}
	key := w.keyForLocked(address)
	if key == nil {
		return "", fmt.Errorf("wallet does not hold account %s", address)
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func (w *KeyWallet) LookupAddress(_ context.Context, address string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.names[strings.ToLower(address)], nil
}

func (w *KeyWallet) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 8)
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		if _, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(ch)
		}
		w.mu.Unlock()
	}()
	return ch
}

// Select makes account i the active one and notifies subscribers.
func (w *KeyWallet) Select(i int) {
	w.mu.Lock()
	if i < 0 || i >= len(w.keys) {
		w.mu.Unlock()
		return
	}
	w.selected = i
	ev := Event{Kind: EventAccountsChanged, Accounts: w.accountsLocked()}
	w.broadcastLocked(ev)
	w.mu.Unlock()
}

// Lock hides all accounts, as when the user disconnects the site.
func (w *KeyWallet) Lock() {
	w.mu.Lock()
	w.exposed = false
	w.broadcastLocked(Event{Kind: EventAccountsChanged, Accounts: []string{}})
	w.mu.Unlock()
}

func (w *KeyWallet) SwitchChain(chainID string) {
	w.mu.Lock()
	w.chainID = chainID
	w.broadcastLocked(Event{Kind: EventChainChanged, ChainID: chainID})
	w.mu.Unlock()
}

func (w *KeyWallet) SetName(address, name string) {
	w.mu.Lock()
	w.names[strings.ToLower(address)] = name
	w.mu.Unlock()
}

func (w *KeyWallet) RejectConnect(reject bool) {
	w.mu.Lock()
	w.rejectConnect = reject
	w.mu.Unlock()
}

func (w *KeyWallet) RejectSigning(reject bool) {
	w.mu.Lock()
	w.rejectSigning = reject
	w.mu.Unlock()
}

// Address returns the checksummed address of account i.
func (w *KeyWallet) Address(i int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 || i >= len(w.keys) {
		return ""
	}
	return crypto.PubkeyToAddress(w.keys[i].PublicKey).Hex()
}

// accountsLocked lists addresses with the selected one first.
func (w *KeyWallet) accountsLocked() []string {
	out := make([]string, 0, len(w.keys))
	if len(w.keys) == 0 {
		return out
	}
	out = append(out, crypto.PubkeyToAddress(w.keys[w.selected].PublicKey).Hex())
	for i, k := range w.keys {
		if i != w.selected {
			out = append(out, crypto.PubkeyToAddress(k.PublicKey).Hex())
		}
	}
	return out
}

func (w *KeyWallet) keyForLocked(address string) *ecdsa.PrivateKey {
	if !common.IsHexAddress(address) {
		return nil
	}
	want := common.HexToAddress(address)
	for _, k := range w.keys {
		if crypto.PubkeyToAddress(k.PublicKey) == want {
			return k
		}
	}
	return nil
}

func (w *KeyWallet) broadcastLocked(ev Event) {
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
