package radio

import "sync"

// LoopbackLink is an in-process pair: anything sent on one end is
// delivered to the other end's callback. It is used by tests that
// exercise a node<->coordinator exchange without a network; the
// simulator (cmd/lss-node) always uses a ZMQLink.
type LoopbackLink struct {
	mu    sync.Mutex
	peer  *LoopbackLink
	onRx  func(payload []byte)
	alive bool
}

// NewLoopbackPair returns two ends of a loopback link, each other's peer.
func NewLoopbackPair() (a, b *LoopbackLink) {
	a = &LoopbackLink{}
	b = &LoopbackLink{}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *LoopbackLink) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alive = true
	return nil
}

func (l *LoopbackLink) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alive = false
	return nil
}

func (l *LoopbackLink) SetReceiveCallback(cb func(payload []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRx = cb
}

// Send hands payload directly to the peer's callback, synchronously.
func (l *LoopbackLink) Send(payload []byte) error {
	l.mu.Lock()
	peer := l.peer
	l.mu.Unlock()

	peer.mu.Lock()
	cb := peer.onRx
	alive := peer.alive
	peer.mu.Unlock()

	if !alive || cb == nil {
		return nil
	}
	cp := append([]byte(nil), payload...)
	cb(cp)
	return nil
}
