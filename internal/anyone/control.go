package anyone

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrControlClosed = errors.New("anyone control connection closed")
	ErrMalformed     = errors.New("malformed control reply")
)

// ReplyLine is one line of a control reply. Data holds the dot-encoded
// payload that follows a "NNN+" line.
type ReplyLine struct {
	Text string
	Data []string
}

type Reply struct {
	Code  int
	Lines []ReplyLine
}

func (r Reply) OK() bool { return r.Code/100 == 2 }

func (r Reply) Text() string {
	if len(r.Lines) == 0 {
		return ""
	}
	return r.Lines[0].Text
}

type replyError struct {
	cmd   string
	reply Reply
}

func (e *replyError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.cmd, e.reply.Code, e.reply.Text())
}

// Event is an asynchronous 650 notification, e.g. "CIRC 5 BUILT ...".
type Event struct {
	Type   string
	Fields []string
	Raw    string
}

// Control speaks the line-oriented control protocol of the anon daemon.
// Commands are serialized; a single reader routes replies and events.
type Control struct {
	conn net.Conn
	w    *textproto.Writer

	cmdMu   sync.Mutex
	replies chan Reply
	done    chan struct{}
	closing chan struct{}

	mu        sync.Mutex
	readErr   error
	subs      map[int]chan Event
	nextSub   int
	closeOnce sync.Once
}

// DialControl opens a control connection to addr.
func DialControl(ctx context.Context, addr string) (*Control, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial control port %s: %w", addr, err)
	}
	return NewControl(conn), nil
}

func NewControl(conn net.Conn) *Control {
	c := &Control{
		conn:    conn,
		w:       textproto.NewWriter(bufio.NewWriter(conn)),
		replies: make(chan Reply, 1),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		subs:    make(map[int]chan Event),
	}
	go c.readLoop(textproto.NewReader(bufio.NewReader(conn)))
	return c
}

func (c *Control) readLoop(r *textproto.Reader) {
	defer close(c.done)
	for {
		rep, err := readReply(r)
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		if rep.Code/100 == 6 {
			c.dispatch(rep)
			continue
		}
		select {
		case c.replies <- rep:
		case <-c.closing:
			return
		}
	}
}

func (c *Control) dispatch(rep Reply) {
	raw := rep.Text()
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return
	}
	ev := Event{Type: fields[0], Fields: fields[1:], Raw: raw}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Control) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func readReply(r *textproto.Reader) (Reply, error) {
	var rep Reply
	for {
		line, err := r.ReadLine()
		if err != nil {
			return Reply{}, err
		}
		if len(line) < 4 {
			return Reply{}, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return Reply{}, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		rl := ReplyLine{Text: line[4:]}
		switch line[3] {
		case ' ':
			rep.Code = code
			rep.Lines = append(rep.Lines, rl)
			return rep, nil
		case '-':
		case '+':
			if rl.Data, err = r.ReadDotLines(); err != nil {
				return Reply{}, err
			}
		default:
			return Reply{}, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		rep.Lines = append(rep.Lines, rl)
	}
}

// Do sends one command and waits for its final reply. A non-2xx reply is
// returned as an error. If ctx ends first the connection is closed, since
// the pending reply can no longer be paired with its command.
func (c *Control) Do(ctx context.Context, format string, args ...any) (Reply, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	select {
	case <-c.done:
		return Reply{}, c.closedErr()
	default:
	}
	if err := c.w.PrintfLine(format, args...); err != nil {
		return Reply{}, fmt.Errorf("write control command: %w", err)
	}
	cmd := strings.Fields(format)[0]
	select {
	case rep := <-c.replies:
		if !rep.OK() {
			return rep, &replyError{cmd: cmd, reply: rep}
		}
		return rep, nil
	case <-c.done:
		return Reply{}, c.closedErr()
	case <-ctx.Done():
		c.conn.Close()
		return Reply{}, ctx.Err()
	}
}

func (c *Control) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return fmt.Errorf("%w: %v", ErrControlClosed, c.readErr)
	}
	return ErrControlClosed
}

func (c *Control) Authenticate(ctx context.Context, password string) error {
	_, err := c.Do(ctx, "AUTHENTICATE %s", quote(password))
	return err
}

func (c *Control) SetEvents(ctx context.Context, events ...string) error {
	_, err := c.Do(ctx, "SETEVENTS %s", strings.Join(events, " "))
	return err
}

// ExtendCircuit asks for a new circuit and, when awaitBuild is set, blocks
// until the daemon reports it BUILT. CIRC events must be enabled first.
func (c *Control) ExtendCircuit(ctx context.Context, awaitBuild bool) (string, error) {
	events, unsubscribe := c.subscribe()
	defer unsubscribe()

	rep, err := c.Do(ctx, "EXTENDCIRCUIT 0")
	if err != nil {
		return "", err
	}
	fields := strings.Fields(rep.Text())
	if len(fields) < 2 || fields[0] != "EXTENDED" {
		return "", fmt.Errorf("%w: %q", ErrMalformed, rep.Text())
	}
	id := fields[1]
	if !awaitBuild {
		return id, nil
	}
	for {
		select {
		case ev := <-events:
			if ev.Type != "CIRC" || len(ev.Fields) < 2 || ev.Fields[0] != id {
				continue
			}
			switch ev.Fields[1] {
			case "BUILT":
				return id, nil
			case "FAILED", "CLOSED":
				return "", fmt.Errorf("circuit %s %s", id, strings.ToLower(ev.Fields[1]))
			}
		case <-c.done:
			return "", c.closedErr()
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

type Relay struct {
	Nickname    string
	Fingerprint string
	Address     string
	Flags       []string
	// Bandwidth in bytes per second.
	Bandwidth int64
}

// Relays lists the router status entries known to the daemon.
func (c *Control) Relays(ctx context.Context) ([]Relay, error) {
	rep, err := c.Do(ctx, "GETINFO ns/all")
	if err != nil {
		return nil, err
	}
	var data []string
	for _, l := range rep.Lines {
		if strings.HasPrefix(l.Text, "ns/all=") {
			data = l.Data
			break
		}
	}
	return parseRelays(data), nil
}

// parseRelays reads "r", "s" and "w" lines of a network status document.
// "w Bandwidth=" is given in kilobytes per second.
func parseRelays(lines []string) []Relay {
	var out []Relay
	var cur *Relay
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "r":
			out = append(out, Relay{})
			cur = &out[len(out)-1]
			if len(fields) > 1 {
				cur.Nickname = fields[1]
			}
			if len(fields) > 2 {
				cur.Fingerprint = fields[2]
			}
			if len(fields) > 6 {
				cur.Address = fields[6]
			}
		case "s":
			if cur != nil {
				cur.Flags = append([]string(nil), fields[1:]...)
			}
		case "w":
			if cur == nil {
				continue
			}
			for _, f := range fields[1:] {
				if v, ok := strings.CutPrefix(f, "Bandwidth="); ok {
					if kb, err := strconv.ParseInt(v, 10, 64); err == nil {
						cur.Bandwidth = kb * 1000
					}
				}
			}
		}
	}
	return out
}

// Close sends QUIT and closes the connection. It is safe to call twice.
func (c *Control) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// QUIT is skipped when a command is still in flight.
		if c.cmdMu.TryLock() {
			_ = c.w.PrintfLine("QUIT")
			c.cmdMu.Unlock()
		}
		close(c.closing)
		err = c.conn.Close()
		<-c.done
	})
	return err
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
