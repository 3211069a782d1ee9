package link

import (
	"sync"
)

const loopbackQueueSize = 256

// Loopback is one end of an in-memory channel pair. Whatever one end
// writes, the other end's inbound subscribers receive, delivered on the
// receiving side's own goroutine so the caller never runs subscriber
// code inline.
type Loopback struct {
	peer *Loopback

	queue chan []byte
	quit  chan struct{}

	mu           sync.Mutex
	connected    bool
	inbound      map[int]func(data []byte)
	disconnected map[int]func()
	nextToken    int
}

// NewLoopbackPair returns two connected ends. Closing either end
// disconnects both, like a real link going down.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := newLoopback()
	b := newLoopback()
	a.peer = b
	b.peer = a
	go a.deliverLoop()
	go b.deliverLoop()
	return a, b
}

func newLoopback() *Loopback {
	return &Loopback{
		queue:        make(chan []byte, loopbackQueueSize),
		quit:         make(chan struct{}),
		connected:    true,
		inbound:      make(map[int]func(data []byte)),
		disconnected: make(map[int]func()),
	}
}

func (l *Loopback) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Loopback) Write(p []byte) error {
	if !l.IsConnected() {
		return ErrChannelClosed
	}
	data := make([]byte, len(p))
	copy(data, p)

	select {
	case l.peer.queue <- data:
		return nil
	case <-l.peer.quit:
		return ErrChannelClosed
	}
}

func (l *Loopback) SubscribeInbound(fn func(data []byte)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	token := l.nextToken
	l.nextToken++
	l.inbound[token] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.inbound, token)
	}
}

func (l *Loopback) OnDisconnected(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	token := l.nextToken
	l.nextToken++
	l.disconnected[token] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.disconnected, token)
	}
}

// Close drops both ends of the pair.
func (l *Loopback) Close() error {
	l.drop()
	l.peer.drop()
	return nil
}

func (l *Loopback) deliverLoop() {
	for {
		select {
		case data := <-l.queue:
			l.mu.Lock()
			subs := make([]func(data []byte), 0, len(l.inbound))
			for _, fn := range l.inbound {
				subs = append(subs, fn)
			}
			l.mu.Unlock()

			for _, fn := range subs {
				fn(data)
			}
		case <-l.quit:
			return
		}
	}
}

func (l *Loopback) drop() {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return
	}
	l.connected = false
	close(l.quit)
	subs := make([]func(), 0, len(l.disconnected))
	for _, fn := range l.disconnected {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
