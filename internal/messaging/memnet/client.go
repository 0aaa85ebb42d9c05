package memnet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"phenix-chat/go-backend/internal/messaging"
)

// Client is one installation's view of the network.
type Client struct {
	net          *Network
	inboxID      string
	installation string
	identifier   messaging.Identifier
	codecs       *messaging.Registry

	closeOnce sync.Once
	done      chan struct{}
}

func (c *Client) InboxID() string                         { return c.inboxID }
func (c *Client) InstallationID() string                  { return c.installation }
func (c *Client) AccountIdentifier() messaging.Identifier { return c.identifier }
func (c *Client) Codecs() *messaging.Registry             { return c.codecs }
func (c *Client) Conversations() messaging.Conversations  { return (*conversations)(c) }

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) IsRegistered(context.Context) (bool, error) {
	if c.closed() {
		return false, messaging.ErrClosed
	}
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.faultLocked(OpIsRegistered, ""); err != nil {
		return false, err
	}
	return c.registeredLocked(), nil
}

func (c *Client) registeredLocked() bool {
	ib, ok := c.net.inboxes[c.inboxID]
	if !ok {
		return false
	}
	inst, ok := ib.installations[c.installation]
	return ok && inst.registered && !inst.revoked
}

func (c *Client) Register(context.Context) error {
	if c.closed() {
		return messaging.ErrClosed
	}
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	inst, ok := n.inboxes[c.inboxID].installations[c.installation]
	if !ok || inst.revoked {
		return errors.New("memnet: installation was revoked")
	}
	inst.registered = true
	return nil
}

func (c *Client) CanMessage(_ context.Context, inboxIDs []string) (map[string]bool, error) {
	if c.closed() {
		return nil, messaging.ErrClosed
	}
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.faultLocked(OpCanMessage, ""); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(inboxIDs))
	for _, id := range inboxIDs {
		out[id] = n.reachableLocked(id)
	}
	return out, nil
}

func (c *Client) InboxIDForIdentifier(_ context.Context, id messaging.Identifier) (string, error) {
	if c.closed() {
		return "", messaging.ErrClosed
	}
	if id.Kind != messaging.IdentifierEthereum {
		return "", fmt.Errorf("memnet: unsupported identifier kind %q", id.Kind)
	}
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.byAddress[strings.ToLower(strings.TrimSpace(id.Identifier))], nil
}

func (c *Client) Installations(context.Context) ([]messaging.Installation, error) {
	if c.closed() {
		return nil, messaging.ErrClosed
	}
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []messaging.Installation
	for _, inst := range n.inboxes[c.inboxID].installations {
		if inst.revoked {
			continue
		}
		out = append(out, messaging.Installation{ID: inst.id, CreatedAtNs: inst.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtNs < out[j].CreatedAtNs })
	return out, nil
}

func (c *Client) RevokeAllOtherInstallations(context.Context) error {
	if c.closed() {
		return messaging.ErrClosed
	}
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, inst := range n.inboxes[c.inboxID].installations {
		if id != c.installation {
			inst.revoked = true
			inst.registered = false
		}
	}
	return nil
}

// watch removes a subscription once ctx ends or the client closes.
func (c *Client) watch(ctx context.Context, remove func()) {
	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.net.mu.Lock()
		remove()
		c.net.mu.Unlock()
	}()
}

func forward[T, U any](ctx context.Context, in <-chan T, convert func(T) U) <-chan U {
	out := make(chan U, streamBuffer)
	go func() {
		defer close(out)
		for v := range in {
			select {
			case out <- convert(v):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

type conversations Client

func (cs *conversations) client() *Client { return (*Client)(cs) }

func (cs *conversations) memberOf(group bool) []*conversation {
	c := cs.client()
	var out []*conversation
	for _, conv := range c.net.convs {
		if conv.group == group && isMember(conv, c.inboxID) {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt > out[j].createdAt })
	return out
}

func (cs *conversations) ListDms(context.Context) ([]messaging.Dm, error) {
	c := cs.client()
	if c.closed() {
		return nil, messaging.ErrClosed
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if err := c.net.faultLocked(OpListDms, ""); err != nil {
		return nil, err
	}
	convs := cs.memberOf(false)
	out := make([]messaging.Dm, 0, len(convs))
	for _, conv := range convs {
		out = append(out, c.dm(conv))
	}
	return out, nil
}

func (cs *conversations) ListGroups(context.Context) ([]messaging.Group, error) {
	c := cs.client()
	if c.closed() {
		return nil, messaging.ErrClosed
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if err := c.net.faultLocked(OpListGroups, ""); err != nil {
		return nil, err
	}
	convs := cs.memberOf(true)
	out := make([]messaging.Group, 0, len(convs))
	for _, conv := range convs {
		out = append(out, c.group(conv))
	}
	return out, nil
}

func (cs *conversations) List(_ context.Context, opts messaging.ListOptions) ([]messaging.Conversation, error) {
	c := cs.client()
	if c.closed() {
		return nil, messaging.ErrClosed
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if err := c.net.faultLocked(OpList, ""); err != nil {
		return nil, err
	}
	all := append(cs.memberOf(false), cs.memberOf(true)...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].createdAt > all[j].createdAt })
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	out := make([]messaging.Conversation, 0, len(all))
	for _, conv := range all {
		out = append(out, c.view(conv))
	}
	return out, nil
}

func (cs *conversations) NewDm(_ context.Context, peerInboxID string) (messaging.Dm, error) {
	c := cs.client()
	if c.closed() {
		return nil, messaging.ErrClosed
	}
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.faultLocked(OpNewDm, peerInboxID); err != nil {
		return nil, err
	}
	if _, ok := n.inboxes[peerInboxID]; !ok {
		return nil, fmt.Errorf("%w: %s", messaging.ErrUnknownInbox, peerInboxID)
	}
	key := dmKey(c.inboxID, peerInboxID)
	if id, ok := n.dmIndex[key]; ok {
		return c.dm(n.convs[id]), nil
	}
	conv := n.createConversationLocked(false, "", c.inboxID, []string{c.inboxID, peerInboxID})
	n.dmIndex[key] = conv.id
	return c.dm(conv), nil
}

func (cs *conversations) NewGroup(_ context.Context, memberInboxIDs []string, name string) (messaging.Group, error) {
	c := cs.client()
	if c.closed() {
		return nil, messaging.ErrClosed
	}
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.faultLocked(OpNewGroup, ""); err != nil {
		return nil, err
	}
	members := []string{c.inboxID}
	seen := map[string]bool{c.inboxID: true}
	for _, id := range memberInboxIDs {
		if seen[id] {
			continue
		}
		if _, ok := n.inboxes[id]; !ok {
			return nil, fmt.Errorf("%w: %s", messaging.ErrUnknownInbox, id)
		}
		seen[id] = true
		members = append(members, id)
	}
	conv := n.createConversationLocked(true, name, c.inboxID, members)
	return c.group(conv), nil
}

func (cs *conversations) StreamDms(ctx context.Context) (<-chan messaging.Dm, error) {
	c := cs.client()
	if c.closed() {
		return nil, messaging.ErrClosed
	}
	n := c.net
	n.mu.Lock()
	if err := n.faultLocked(OpStream, ""); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	ib := n.inboxes[c.inboxID]
	id, raw := ib.dmSubs.add()
	n.mu.Unlock()
	c.watch(ctx, func() { ib.dmSubs.remove(id) })
	return forward(ctx, raw, func(conv *conversation) messaging.Dm { return c.dm(conv) }), nil
}

func (cs *conversations) StreamGroups(ctx context.Context) (<-chan messaging.Group, error) {
	c := cs.client()
	if c.closed() {
		return nil, messaging.ErrClosed
	}
	n := c.net
	n.mu.Lock()
	if err := n.faultLocked(OpStream, ""); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	ib := n.inboxes[c.inboxID]
	id, raw := ib.groupSubs.add()
	n.mu.Unlock()
	c.watch(ctx, func() { ib.groupSubs.remove(id) })
	return forward(ctx, raw, func(conv *conversation) messaging.Group { return c.group(conv) }), nil
}

type convView struct {
	c    *Client
	conv *conversation
}

type dmView struct{ *convView }

type groupView struct{ *convView }

func (c *Client) view(conv *conversation) messaging.Conversation {
	if conv.group {
		return c.group(conv)
	}
	return c.dm(conv)
}

func (c *Client) dm(conv *conversation) messaging.Dm {
	return dmView{&convView{c: c, conv: conv}}
}

func (c *Client) group(conv *conversation) messaging.Group {
	return groupView{&convView{c: c, conv: conv}}
}

func (v *convView) ID() string         { return v.conv.id }
func (v *convView) CreatedAtNs() int64 { return v.conv.createdAt }

func (v *convView) decode(m storedMessage) messaging.Message {
	return messaging.Message{
		ID:             m.id,
		ConversationID: v.conv.id,
		SenderInboxID:  m.sender,
		SentAtNs:       m.sentAtNs,
		ContentType:    m.enc.Type,
		Content:        v.c.codecs.Decode(m.enc),
	}
}

// Messages returns history oldest first. A limit keeps the newest entries.
func (v *convView) Messages(_ context.Context, opts messaging.ListOptions) ([]messaging.Message, error) {
	if v.c.closed() {
		return nil, messaging.ErrClosed
	}
	n := v.c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.faultLocked(OpMessages, v.conv.id); err != nil {
		return nil, err
	}
	stored := v.conv.messages
	if opts.Limit > 0 && len(stored) > opts.Limit {
		stored = stored[len(stored)-opts.Limit:]
	}
	out := make([]messaging.Message, 0, len(stored))
	for _, m := range stored {
		out = append(out, v.decode(m))
	}
	return out, nil
}

func (v *convView) Send(_ context.Context, content messaging.Content) (string, error) {
	if v.c.closed() {
		return "", messaging.ErrClosed
	}
	enc, err := v.c.codecs.Encode(content)
	if err != nil {
		return "", err
	}
	n := v.c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.faultLocked(OpSend, v.conv.id); err != nil {
		return "", err
	}
	if !v.c.registeredLocked() {
		return "", messaging.ErrNotRegistered
	}
	msg := storedMessage{id: uuid.NewString(), sender: v.c.inboxID, sentAtNs: n.now().UnixNano(), enc: enc}
	v.conv.messages = append(v.conv.messages, msg)
	v.conv.subs.publish(msg)
	return msg.id, nil
}

func (v *convView) Stream(ctx context.Context) (<-chan messaging.Message, error) {
	if v.c.closed() {
		return nil, messaging.ErrClosed
	}
	n := v.c.net
	n.mu.Lock()
	if err := n.faultLocked(OpStream, v.conv.id); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	id, raw := v.conv.subs.add()
	n.mu.Unlock()
	v.c.watch(ctx, func() { v.conv.subs.remove(id) })
	return forward(ctx, raw, v.decode), nil
}

func (d dmView) PeerInboxID(context.Context) (string, error) {
	for _, m := range d.conv.members {
		if m != d.c.inboxID {
			return m, nil
		}
	}
	return d.c.inboxID, nil
}

func (g groupView) Name() string { return g.conv.name }

func (g groupView) MemberInboxIDs(context.Context) ([]string, error) {
	n := g.c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.faultLocked(OpMembers, g.conv.id); err != nil {
		return nil, err
	}
	return append([]string(nil), g.conv.members...), nil
}
