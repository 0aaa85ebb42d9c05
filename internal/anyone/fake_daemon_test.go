package anyone

import (
	"net"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDaemon answers the subset of the control protocol the manager uses.
type fakeDaemon struct {
	t        *testing.T
	ln       net.Listener
	password string
	circuit  string
	// release, when set, holds the BUILT event until closed.
	release  chan struct{}
	failCirc atomic.Bool
	nsAll    []string

	extends  atomic.Int32
	accepted atomic.Int32
	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    []net.Conn
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	d := &fakeDaemon{
		t:        t,
		ln:       ln,
		password: "password",
		circuit:  "7",
		nsAll: []string{
			"r relay1 AAAA BBBB 2026-01-01 00:00:00 10.0.0.1 9001 0",
			"s Fast Running Valid",
			"w Bandwidth=1048576",
			"r relay2 CCCC DDDD 2026-01-01 00:00:00 10.0.0.2 9001 0",
			"s Running",
			"w Bandwidth=0",
		},
	}
	t.Cleanup(d.close)
	return d
}

// start must be called after the test has finished configuring d.
func (d *fakeDaemon) start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			conn, err := d.ln.Accept()
			if err != nil {
				return
			}
			d.accepted.Add(1)
			d.mu.Lock()
			d.conns = append(d.conns, conn)
			d.mu.Unlock()
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.serve(conn)
			}()
		}
	}()
}

func (d *fakeDaemon) addr() string { return d.ln.Addr().String() }

func (d *fakeDaemon) close() {
	_ = d.ln.Close()
	d.mu.Lock()
	for _, c := range d.conns {
		_ = c.Close()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *fakeDaemon) serve(conn net.Conn) {
	defer conn.Close()
	tc := textproto.NewConn(conn)
	var wmu sync.Mutex
	write := func(lines ...string) {
		wmu.Lock()
		defer wmu.Unlock()
		for _, l := range lines {
			_ = tc.PrintfLine("%s", l)
		}
	}
	for {
		line, err := tc.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "AUTHENTICATE":
			if arg == `"`+d.password+`"` {
				write("250 OK")
			} else {
				write("515 Authentication failed: Password did not match")
			}
		case "SETEVENTS":
			write("250 OK")
		case "EXTENDCIRCUIT":
			d.extends.Add(1)
			write("250 EXTENDED " + d.circuit)
			status := "BUILT"
			if d.failCirc.Load() {
				status = "FAILED"
			}
			event := "650 CIRC " + d.circuit + " " + status + " $AAAA~relay1 PURPOSE=GENERAL"
			if d.release == nil {
				write("650 CIRC 99 LAUNCHED", event)
				continue
			}
			go func() {
				<-d.release
				write(event)
			}()
		case "GETINFO":
			lines := []string{"250+ns/all="}
			lines = append(lines, d.nsAll...)
			lines = append(lines, ".", "250 OK")
			write(lines...)
		case "QUIT":
			write("250 closing connection")
			return
		default:
			write("510 Unrecognized command")
		}
	}
}
