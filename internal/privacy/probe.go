package privacy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"phenix-chat/go-backend/internal/messaging"
)

// Prober measures the two networks. Errors mean degraded, not offline.
type Prober interface {
	ProbeMessaging(ctx context.Context) error
	ProbeAnyone(ctx context.Context) error
}

// NetworkProber lists one conversation on the messaging client and dials a
// target through the anonymizing network's SOCKS port.
type NetworkProber struct {
	Client      func() messaging.Client
	SOCKSAddr   string
	ProbeTarget string
	Timeout     time.Duration
}

var errNoClient = errors.New("no messaging client")

func (p NetworkProber) ProbeMessaging(ctx context.Context) error {
	if p.Client == nil {
		return errNoClient
	}
	client := p.Client()
	if client == nil {
		return errNoClient
	}
	_, err := client.Conversations().List(ctx, messaging.ListOptions{Limit: 1})
	return err
}

func (p NetworkProber) ProbeAnyone(ctx context.Context) error {
	if p.SOCKSAddr == "" || p.ProbeTarget == "" {
		return errors.New("anyone probe not configured")
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer, err := proxy.SOCKS5("tcp", p.SOCKSAddr, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("socks dialer: %w", err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return errors.New("socks dialer lacks context support")
	}
	conn, err := cd.DialContext(ctx, "tcp", p.ProbeTarget)
	if err != nil {
		return fmt.Errorf("dial through socks: %w", err)
	}
	return conn.Close()
}
