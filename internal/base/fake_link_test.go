package base

import "sync"

// fakeLink is a radio.Link test double that records every transmitted
// frame and lets tests inject inbound frames via deliver.
type fakeLink struct {
	mu      sync.Mutex
	sent    [][]byte
	onRx    func([]byte)
	running bool
}

func newFakeLink() *fakeLink { return &fakeLink{} }

func (f *fakeLink) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeLink) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeLink) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeLink) SetReceiveCallback(cb func([]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRx = cb
}

func (f *fakeLink) deliver(payload []byte) {
	f.mu.Lock()
	cb := f.onRx
	f.mu.Unlock()
	if cb != nil {
		cb(payload)
	}
}

func (f *fakeLink) drain() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}
