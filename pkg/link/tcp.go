// Package link provides transfer.Channel implementations for links that
// are not BLE: a TCP stream to a simulated dispenser and an in-process
// loopback pair for tests.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

var ErrChannelClosed = errors.New("channel is closed")

const readBufferSize = 4096

// TCPChannel adapts a net.Conn to the transfer.Channel contract. A
// background loop reads the connection and fans inbound bytes out to
// subscribers; a read error of any kind counts as a disconnect.
type TCPChannel struct {
	conn net.Conn

	mu           sync.Mutex
	connected    bool
	inbound      map[int]func(data []byte)
	disconnected map[int]func()
	nextToken    int
}

// Dial connects to a dispenser listening at addr and wraps the
// connection.
func Dial(ctx context.Context, addr string) (*TCPChannel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing dispenser at %s: %w", addr, err)
	}
	return NewTCPChannel(conn), nil
}

// NewTCPChannel wraps an established connection and starts its read
// loop. The channel owns the connection from here on.
func NewTCPChannel(conn net.Conn) *TCPChannel {
	c := &TCPChannel{
		conn:         conn,
		connected:    true,
		inbound:      make(map[int]func(data []byte)),
		disconnected: make(map[int]func()),
	}
	go c.readLoop()
	return c
}

func (c *TCPChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *TCPChannel) Write(p []byte) error {
	if !c.IsConnected() {
		return ErrChannelClosed
	}
	if _, err := c.conn.Write(p); err != nil {
		return fmt.Errorf("tcp write: %w", err)
	}
	return nil
}

func (c *TCPChannel) SubscribeInbound(fn func(data []byte)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.nextToken
	c.nextToken++
	c.inbound[token] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.inbound, token)
	}
}

func (c *TCPChannel) OnDisconnected(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.nextToken
	c.nextToken++
	c.disconnected[token] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.disconnected, token)
	}
}

// Close tears the connection down and fires disconnect callbacks if they
// have not fired already.
func (c *TCPChannel) Close() error {
	err := c.conn.Close()
	c.markDisconnected()
	return err
}

// RemoteAddr exposes the peer address for logging.
func (c *TCPChannel) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *TCPChannel) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			for _, fn := range c.inboundSnapshot() {
				fn(data)
			}
		}
		if err != nil {
			slog.Debug("Tcp read loop ending", "remote", c.conn.RemoteAddr(), "err", err)
			c.markDisconnected()
			return
		}
	}
}

func (c *TCPChannel) inboundSnapshot() []func(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := make([]func(data []byte), 0, len(c.inbound))
	for _, fn := range c.inbound {
		subs = append(subs, fn)
	}
	return subs
}

// markDisconnected flips the connected flag and notifies subscribers
// exactly once.
func (c *TCPChannel) markDisconnected() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	subs := make([]func(), 0, len(c.disconnected))
	for _, fn := range c.disconnected {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
