// Package messaging is the contract the chat client holds against the
// end-to-end encrypted messaging network. Implementations live elsewhere;
// memnet provides an in-process one.
package messaging

import (
	"context"
	"errors"
)

var (
	ErrClosed           = errors.New("messaging client closed")
	ErrNotRegistered    = errors.New("installation not registered")
	ErrUnknownInbox     = errors.New("unknown inbox")
	ErrConversationGone = errors.New("conversation not found")
)

type IdentifierKind string

const IdentifierEthereum IdentifierKind = "Ethereum"

// Identifier is an account reference the network can resolve to an inbox.
type Identifier struct {
	Identifier string
	Kind       IdentifierKind
}

func EthereumIdentifier(address string) Identifier {
	return Identifier{Identifier: address, Kind: IdentifierEthereum}
}

// Signer maps a wallet's signing capability to what the network expects.
type Signer interface {
	Identifier() Identifier
	SignMessage(ctx context.Context, message string) ([]byte, error)
}

type Env string

const (
	EnvLocal      Env = "local"
	EnvDev        Env = "dev"
	EnvProduction Env = "production"
)

type Options struct {
	Env                 Env
	DBEncryptionKey     []byte
	AppVersion          string
	Codecs              []Codec
	DisableAutoRegister bool
	DisableDeviceSync   bool
}

type Factory interface {
	Create(ctx context.Context, signer Signer, opts Options) (Client, error)
}

type Installation struct {
	ID          string
	CreatedAtNs int64
}

type Client interface {
	InboxID() string
	InstallationID() string
	AccountIdentifier() Identifier
	IsRegistered(ctx context.Context) (bool, error)
	Register(ctx context.Context) error
	// CanMessage reports reachability per inbox id.
	CanMessage(ctx context.Context, inboxIDs []string) (map[string]bool, error)
	// InboxIDForIdentifier returns "" when the identifier has no inbox.
	InboxIDForIdentifier(ctx context.Context, id Identifier) (string, error)
	Installations(ctx context.Context) ([]Installation, error)
	RevokeAllOtherInstallations(ctx context.Context) error
	Conversations() Conversations
	Codecs() *Registry
	Close() error
}

type ListOptions struct {
	Limit int
}

type Conversations interface {
	ListDms(ctx context.Context) ([]Dm, error)
	ListGroups(ctx context.Context) ([]Group, error)
	List(ctx context.Context, opts ListOptions) ([]Conversation, error)
	NewDm(ctx context.Context, peerInboxID string) (Dm, error)
	NewGroup(ctx context.Context, memberInboxIDs []string, name string) (Group, error)
	// Stream* deliver conversations created after the call until ctx ends.
	StreamDms(ctx context.Context) (<-chan Dm, error)
	StreamGroups(ctx context.Context) (<-chan Group, error)
}

// Conversation is either a Dm or a Group.
type Conversation interface {
	ID() string
	CreatedAtNs() int64
	Messages(ctx context.Context, opts ListOptions) ([]Message, error)
	Send(ctx context.Context, content Content) (string, error)
	// Stream delivers messages sent after the call until ctx ends.
	Stream(ctx context.Context) (<-chan Message, error)
}

type Dm interface {
	Conversation
	PeerInboxID(ctx context.Context) (string, error)
}

type Group interface {
	Conversation
	Name() string
	MemberInboxIDs(ctx context.Context) ([]string, error)
}

type Message struct {
	ID             string
	ConversationID string
	SenderInboxID  string
	SentAtNs       int64
	ContentType    ContentTypeID
	Content        Content
}

// IsReaction reports whether the message carries a reaction payload.
func (m Message) IsReaction() bool {
	_, ok := m.Content.(Reaction)
	return ok
}
