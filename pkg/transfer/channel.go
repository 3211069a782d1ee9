package transfer

// Channel abstracts an established, bidirectional link to one peripheral.
// Implementations (GATT pipe, TCP socket, in-process loopback) may run
// their I/O on separate goroutines; callbacks they fire must be cheap,
// because the engine re-posts every callback onto its own event queue.
type Channel interface {
	// IsConnected reports whether the link can currently accept writes.
	IsConnected() bool

	// Write sends p over the link without waiting for a peripheral
	// acknowledgment. It returns an error only when the link itself
	// rejects the write.
	Write(p []byte) error

	// SubscribeInbound registers fn for data arriving from the
	// peripheral. The returned function removes the subscription.
	SubscribeInbound(fn func(data []byte)) (unsubscribe func())

	// OnDisconnected registers fn to run once when the link is lost.
	// The returned function removes the subscription.
	OnDisconnected(fn func()) (unsubscribe func())
}
