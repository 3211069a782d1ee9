package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

var ErrDisconnected = errors.New("dispenser link is down")

const signalBufferSize = 32

// Channel is a GATT pipe to one connected dispenser: frames go out as
// write-without-response on the RX characteristic, status notifications
// come back on TX. It satisfies the transfer engine's channel contract.
type Channel struct {
	conn   *dbus.Conn
	device dbus.ObjectPath
	rxChar dbus.ObjectPath
	txChar dbus.ObjectPath

	signals    chan *dbus.Signal
	quit       chan struct{}
	matchRules []string
	closeOnce  sync.Once

	mu           sync.Mutex
	connected    bool
	inbound      map[int]func(data []byte)
	disconnected map[int]func()
	nextToken    int
}

func newChannel(conn *dbus.Conn, device, rxChar, txChar dbus.ObjectPath) (*Channel, error) {
	ch := &Channel{
		conn:         conn,
		device:       device,
		rxChar:       rxChar,
		txChar:       txChar,
		signals:      make(chan *dbus.Signal, signalBufferSize),
		quit:         make(chan struct{}),
		connected:    true,
		inbound:      make(map[int]func(data []byte)),
		disconnected: make(map[int]func()),
	}

	charObj := conn.Object(bluezBusName, txChar)
	if err := charObj.Call(bluezGattCharInterface+".StartNotify", 0).Err; err != nil {
		return nil, fmt.Errorf("enabling status notifications: %w", err)
	}

	// One rule for status notifications, one for the device's Connected
	// property so a dropped link surfaces as a disconnect callback.
	ch.matchRules = []string{
		propertiesMatchRule(txChar),
		propertiesMatchRule(device),
	}
	for _, rule := range ch.matchRules {
		if err := conn.BusObject().Call(addMatchMethod, 0, rule).Err; err != nil {
			return nil, fmt.Errorf("adding signal match: %w", err)
		}
	}

	conn.Signal(ch.signals)
	go ch.signalLoop()
	return ch, nil
}

func propertiesMatchRule(path dbus.ObjectPath) string {
	return fmt.Sprintf("type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path='%s'", path)
}

func (ch *Channel) IsConnected() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.connected
}

// Write sends one frame as a write-without-response command.
func (ch *Channel) Write(p []byte) error {
	if !ch.IsConnected() {
		return ErrDisconnected
	}
	obj := ch.conn.Object(bluezBusName, ch.rxChar)
	options := map[string]interface{}{"type": "command"}
	if err := obj.Call(bluezGattCharInterface+".WriteValue", 0, p, options).Err; err != nil {
		return fmt.Errorf("gatt write: %w", err)
	}
	return nil
}

func (ch *Channel) SubscribeInbound(fn func(data []byte)) func() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	token := ch.nextToken
	ch.nextToken++
	ch.inbound[token] = fn
	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		delete(ch.inbound, token)
	}
}

func (ch *Channel) OnDisconnected(fn func()) func() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	token := ch.nextToken
	ch.nextToken++
	ch.disconnected[token] = fn
	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		delete(ch.disconnected, token)
	}
}

// Close tears the GATT session down: signal matches removed, status
// notifications stopped, device disconnected.
func (ch *Channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.quit)
		ch.conn.RemoveSignal(ch.signals)
		for _, rule := range ch.matchRules {
			ch.conn.BusObject().Call(removeMatchMethod, 0, rule)
		}

		charObj := ch.conn.Object(bluezBusName, ch.txChar)
		if stopErr := charObj.Call(bluezGattCharInterface+".StopNotify", 0).Err; stopErr != nil {
			slog.Debug("Stopping notifications failed", "err", stopErr)
		}

		deviceObj := ch.conn.Object(bluezBusName, ch.device)
		err = deviceObj.Call(bluezDeviceInterface+".Disconnect", 0).Err

		ch.markDisconnected()
	})
	return err
}

func (ch *Channel) signalLoop() {
	for {
		select {
		case <-ch.quit:
			return
		case sig := <-ch.signals:
			if sig == nil {
				continue
			}
			ev, ok := interpretSignal(sig, ch.txChar, ch.device)
			if !ok {
				continue
			}
			if ev.dropped {
				slog.Info("Dispenser dropped the connection", "device", ch.device)
				ch.markDisconnected()
				continue
			}
			for _, fn := range ch.inboundSnapshot() {
				fn(ev.data)
			}
		}
	}
}

// signalEvent is the channel-relevant meaning of one PropertiesChanged
// signal: either inbound notification bytes or a link drop.
type signalEvent struct {
	data    []byte
	dropped bool
}

// interpretSignal filters a bus signal down to the events the channel
// cares about. Everything else on the shared signal stream is ignored.
func interpretSignal(sig *dbus.Signal, txChar, device dbus.ObjectPath) (signalEvent, bool) {
	if sig.Name != propertiesChangedMember || len(sig.Body) < 2 {
		return signalEvent{}, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return signalEvent{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return signalEvent{}, false
	}

	switch {
	case sig.Path == txChar && iface == bluezGattCharInterface:
		variant, ok := changed["Value"]
		if !ok {
			return signalEvent{}, false
		}
		value, ok := variant.Value().([]byte)
		if !ok {
			return signalEvent{}, false
		}
		data := make([]byte, len(value))
		copy(data, value)
		return signalEvent{data: data}, true

	case sig.Path == device && iface == bluezDeviceInterface:
		variant, ok := changed["Connected"]
		if !ok {
			return signalEvent{}, false
		}
		if connected, ok := variant.Value().(bool); ok && !connected {
			return signalEvent{dropped: true}, true
		}
	}
	return signalEvent{}, false
}

func (ch *Channel) inboundSnapshot() []func(data []byte) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	subs := make([]func(data []byte), 0, len(ch.inbound))
	for _, fn := range ch.inbound {
		subs = append(subs, fn)
	}
	return subs
}

func (ch *Channel) markDisconnected() {
	ch.mu.Lock()
	if !ch.connected {
		ch.mu.Unlock()
		return
	}
	ch.connected = false
	subs := make([]func(), 0, len(ch.disconnected))
	for _, fn := range ch.disconnected {
		subs = append(subs, fn)
	}
	ch.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
