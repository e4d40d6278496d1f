package radio

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// RadioHeadHeaderSize is the length of the four-byte header the base
// station's radio driver prepends ahead of the protocol frame on some
// deployments (to, from, id, flags). The client runtime tolerates its
// presence by retrying frame detection at offset 4; this link leaves the
// decision of whether to prepend it to the caller via
// PrependRadioHeadHeader.
const RadioHeadHeaderSize = 4

// ZMQConfig configures a ZMQLink.
type ZMQConfig struct {
	// EventURL is the SUB socket address events (uplinks) arrive on.
	EventURL string
	// CommandURL is the REQ socket address downlink commands are sent on.
	CommandURL string
	// PrependRadioHeadHeader, when true, prepends a zeroed 4-byte
	// RadioHead header ahead of every transmitted frame.
	PrependRadioHeadHeader bool
}

// ZMQLink bridges the node/coordinator wire protocol to a Concentratord-
// style LoRa gateway daemon over ZeroMQ: a SUB socket for inbound radio
// events and a REQ socket for outbound transmit commands.
type ZMQLink struct {
	cfg ZMQConfig

	ctx    context.Context
	cancel context.CancelFunc

	eventSock zmq4.Socket
	cmdSock   zmq4.Socket

	mu      sync.Mutex
	running bool
	onRx    func(payload []byte)

	wg sync.WaitGroup
}

// NewZMQLink constructs a ZMQLink. Call Start to connect.
func NewZMQLink(cfg ZMQConfig) *ZMQLink {
	ctx, cancel := context.WithCancel(context.Background())
	return &ZMQLink{cfg: cfg, ctx: ctx, cancel: cancel}
}

func (l *ZMQLink) SetReceiveCallback(cb func(payload []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRx = cb
}

// Start connects both sockets and begins the receive loop.
func (l *ZMQLink) Start() error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("radio: zmq link already running")
	}
	l.running = true
	l.mu.Unlock()

	l.eventSock = zmq4.NewSub(l.ctx)
	if err := l.eventSock.Dial(l.cfg.EventURL); err != nil {
		return fmt.Errorf("radio: dial event socket: %w", err)
	}
	if err := l.eventSock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fmt.Errorf("radio: subscribe: %w", err)
	}

	l.cmdSock = zmq4.NewReq(l.ctx)
	if err := l.cmdSock.Dial(l.cfg.CommandURL); err != nil {
		l.eventSock.Close()
		return fmt.Errorf("radio: dial command socket: %w", err)
	}

	l.wg.Add(1)
	go l.receiveLoop()

	log.Printf("radio: zmq link started event=%s cmd=%s", l.cfg.EventURL, l.cfg.CommandURL)
	return nil
}

// Stop tears down the receive loop and both sockets.
func (l *ZMQLink) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()

	if l.eventSock != nil {
		l.eventSock.Close()
	}
	if l.cmdSock != nil {
		l.cmdSock.Close()
	}
	return nil
}

// Send transmits payload as a downlink frame, optionally prefixed with a
// zeroed RadioHead header.
func (l *ZMQLink) Send(payload []byte) error {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if !running {
		return fmt.Errorf("radio: zmq link not running")
	}

	frame := payload
	if l.cfg.PrependRadioHeadHeader {
		frame = make([]byte, RadioHeadHeaderSize+len(payload))
		copy(frame[RadioHeadHeaderSize:], payload)
	}

	msg := zmq4.NewMsgFrom([]byte("down"), frame)
	l.mu.Lock()
	err := l.cmdSock.Send(msg)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("radio: send downlink: %w", err)
	}

	l.mu.Lock()
	_, err = l.cmdSock.Recv()
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("radio: recv tx ack: %w", err)
	}
	return nil
}

func (l *ZMQLink) receiveLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		msg, err := l.eventSock.Recv()
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			continue
		}
		if len(msg.Frames) < 2 {
			continue
		}
		if string(msg.Frames[0]) != "up" {
			continue
		}

		l.mu.Lock()
		cb := l.onRx
		l.mu.Unlock()
		if cb != nil {
			cb(msg.Frames[1])
		}
	}
}

// StripRadioHeadHeader removes the first four bytes if buf is longer
// than a RadioHead header, returning the stripped buffer and whether
// bytes were removed. It does not check whether a header is actually
// present, and it never fails.
func StripRadioHeadHeader(buf []byte) ([]byte, bool) {
	if len(buf) <= RadioHeadHeaderSize {
		return buf, false
	}
	return buf[RadioHeadHeaderSize:], true
}
