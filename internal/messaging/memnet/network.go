// Package memnet is an in-process messaging network. It implements the
// messaging contract with real inbox, installation and registration
// bookkeeping so higher layers can run against it in tests and demos.
package memnet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"phenix-chat/go-backend/internal/messaging"
)

const streamBuffer = 256

// Op names a network operation that can be made to fail.
type Op string

const (
	OpCreate       Op = "create"
	OpListDms      Op = "list_dms"
	OpListGroups   Op = "list_groups"
	OpList         Op = "list"
	OpMessages     Op = "messages"
	OpNewDm        Op = "new_dm"
	OpNewGroup     Op = "new_group"
	OpSend         Op = "send"
	OpMembers      Op = "members"
	OpIsRegistered Op = "is_registered"
	OpCanMessage   Op = "can_message"
	OpStream       Op = "stream"
)

// VerifyFunc checks a signature produced by a signer for address.
type VerifyFunc func(address, message string, sig []byte) error

type Option func(*Network)

func WithVerifier(v VerifyFunc) Option {
	return func(n *Network) { n.verify = v }
}

func WithClock(now func() time.Time) Option {
	return func(n *Network) { n.now = now }
}

type Network struct {
	mu        sync.Mutex
	verify    VerifyFunc
	now       func() time.Time
	inboxes   map[string]*inbox
	byAddress map[string]string
	convs     map[string]*conversation
	dmIndex   map[string]string
	faults    map[string]error
}

type installation struct {
	id         string
	createdAt  int64
	registered bool
	revoked    bool
}

type inbox struct {
	id            string
	address       string
	installations map[string]*installation
	dmSubs        hub[*conversation]
	groupSubs     hub[*conversation]
}

type storedMessage struct {
	id       string
	sender   string
	sentAtNs int64
	enc      messaging.EncodedContent
}

type conversation struct {
	id        string
	group     bool
	name      string
	members   []string
	createdAt int64
	messages  []storedMessage
	subs      hub[storedMessage]
}

func New(opts ...Option) *Network {
	n := &Network{
		now:       time.Now,
		inboxes:   make(map[string]*inbox),
		byAddress: make(map[string]string),
		convs:     make(map[string]*conversation),
		dmIndex:   make(map[string]string),
		faults:    make(map[string]error),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// InboxIDFor derives the stable inbox id of an address.
func InboxIDFor(address string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(address))))
	return hex.EncodeToString(sum[:])
}

// SetFault makes op fail with err until cleared. A nil err clears it. For
// OpMessages and OpMembers the fault can be scoped to one conversation id by
// passing it as scope.
func (n *Network) SetFault(op Op, scope string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := faultKey(op, scope)
	if err == nil {
		delete(n.faults, key)
		return
	}
	n.faults[key] = err
}

func (n *Network) ClearFaults() {
	n.mu.Lock()
	n.faults = make(map[string]error)
	n.mu.Unlock()
}

func faultKey(op Op, scope string) string {
	return string(op) + "|" + scope
}

func (n *Network) faultLocked(op Op, scope string) error {
	if scope != "" {
		if err, ok := n.faults[faultKey(op, scope)]; ok {
			return err
		}
	}
	return n.faults[faultKey(op, "")]
}

func (n *Network) fault(op Op, scope string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.faultLocked(op, scope)
}

// Create signs a challenge with signer, opens its inbox and adds an
// installation derived from the local database key.
func (n *Network) Create(ctx context.Context, signer messaging.Signer, opts messaging.Options) (messaging.Client, error) {
	if signer == nil {
		return nil, errors.New("memnet: signer is required")
	}
	if err := n.fault(OpCreate, ""); err != nil {
		return nil, err
	}
	ident := signer.Identifier()
	address := strings.ToLower(strings.TrimSpace(ident.Identifier))
	if address == "" {
		return nil, errors.New("memnet: signer identifier is empty")
	}
	inboxID := InboxIDFor(address)
	installationID := deriveInstallationID(inboxID, opts.DBEncryptionKey)

	challenge := "phenix inbox challenge\ninbox: " + inboxID + "\ninstallation: " + installationID
	sig, err := signer.SignMessage(ctx, challenge)
	if err != nil {
		return nil, fmt.Errorf("memnet: sign identity challenge: %w", err)
	}
	if n.verify != nil {
		if err := n.verify(address, challenge, sig); err != nil {
			return nil, fmt.Errorf("memnet: wallet signature rejected: %w", err)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	ib, ok := n.inboxes[inboxID]
	if !ok {
		ib = &inbox{id: inboxID, address: address, installations: make(map[string]*installation)}
		n.inboxes[inboxID] = ib
		n.byAddress[address] = inboxID
	}
	inst, ok := ib.installations[installationID]
	if !ok || inst.revoked {
		inst = &installation{id: installationID, createdAt: n.now().UnixNano()}
		ib.installations[installationID] = inst
	}
	if !opts.DisableAutoRegister {
		inst.registered = true
	}

	registry := messaging.NewRegistry(opts.Codecs...)
	return &Client{
		net:          n,
		inboxID:      inboxID,
		installation: installationID,
		identifier:   messaging.EthereumIdentifier(address),
		codecs:       registry,
		done:         make(chan struct{}),
	}, nil
}

func deriveInstallationID(inboxID string, dbKey []byte) string {
	if len(dbKey) == 0 {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	h := sha256.New()
	h.Write([]byte(inboxID))
	h.Write(dbKey)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func dmKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

// Inject appends a raw message to a conversation and publishes it to live
// streams. Ids are not checked for uniqueness, matching a network that can
// deliver duplicates.
func (n *Network) Inject(conversationID, senderInboxID, messageID string, content messaging.EncodedContent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	conv, ok := n.convs[conversationID]
	if !ok {
		return messaging.ErrConversationGone
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	msg := storedMessage{id: messageID, sender: senderInboxID, sentAtNs: n.now().UnixNano(), enc: content}
	conv.messages = append(conv.messages, msg)
	conv.subs.publish(msg)
	return nil
}

// Redeliver publishes an already stored message to live streams again.
func (n *Network) Redeliver(conversationID, messageID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	conv, ok := n.convs[conversationID]
	if !ok {
		return messaging.ErrConversationGone
	}
	for _, m := range conv.messages {
		if m.id == messageID {
			conv.subs.publish(m)
			return nil
		}
	}
	return fmt.Errorf("memnet: message %s not found", messageID)
}

func (n *Network) createConversationLocked(group bool, name string, creator string, members []string) *conversation {
	conv := &conversation{
		id:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		group:     group,
		name:      name,
		members:   members,
		createdAt: n.now().UnixNano(),
	}
	n.convs[conv.id] = conv
	for _, member := range members {
		if member == creator {
			continue
		}
		ib, ok := n.inboxes[member]
		if !ok {
			continue
		}
		if group {
			ib.groupSubs.publish(conv)
		} else {
			ib.dmSubs.publish(conv)
		}
	}
	return conv
}

func (n *Network) reachableLocked(inboxID string) bool {
	ib, ok := n.inboxes[inboxID]
	if !ok {
		return false
	}
	for _, inst := range ib.installations {
		if inst.registered && !inst.revoked {
			return true
		}
	}
	return false
}

func isMember(conv *conversation, inboxID string) bool {
	for _, m := range conv.members {
		if m == inboxID {
			return true
		}
	}
	return false
}
