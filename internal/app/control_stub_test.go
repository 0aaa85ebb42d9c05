package app

import (
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// controlStub is a minimal Anyone control port that authenticates any
// password, builds circuit 5 and lists two relays.
type controlStub struct {
	ln net.Listener
	wg sync.WaitGroup
}

func startControlStub(t *testing.T) *controlStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &controlStub{ln: ln}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serve(conn)
			}()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *controlStub) port() string {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	return port
}

func (s *controlStub) serve(conn net.Conn) {
	defer conn.Close()
	tc := textproto.NewConn(conn)
	for {
		line, err := tc.ReadLine()
		if err != nil {
			return
		}
		cmd, _, _ := strings.Cut(line, " ")
		var reply []string
		switch cmd {
		case "AUTHENTICATE", "SETEVENTS":
			reply = []string{"250 OK"}
		case "EXTENDCIRCUIT":
			reply = []string{"250 EXTENDED 5", "650 CIRC 5 BUILT $AAAA~relay1"}
		case "GETINFO":
			reply = []string{
				"250+ns/all=",
				"r relay1 AAAA BBBB 2026-01-01 00:00:00 10.0.0.1 9001 0",
				"w Bandwidth=2048",
				"r relay2 CCCC DDDD 2026-01-01 00:00:00 10.0.0.2 9001 0",
				"w Bandwidth=2048",
				"r relay3 EEEE FFFF 2026-01-01 00:00:00 10.0.0.3 9001 0",
				"w Bandwidth=2048",
				".",
				"250 OK",
			}
		case "QUIT":
			_ = tc.PrintfLine("250 closing connection")
			return
		default:
			reply = []string{"510 Unrecognized command"}
		}
		for _, l := range reply {
			if err := tc.PrintfLine("%s", l); err != nil {
				return
			}
		}
	}
}
