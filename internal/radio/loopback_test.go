package radio

import "testing"

func TestLoopbackDeliversToPeer(t *testing.T) {
	a, b := NewLoopbackPair()
	a.Start()
	b.Start()

	received := make(chan []byte, 1)
	b.SetReceiveCallback(func(payload []byte) { received <- payload })

	if err := a.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hello" {
			t.Errorf("got %q, want hello", got)
		}
	default:
		t.Fatal("peer did not receive synchronously")
	}
}

func TestLoopbackSendBeforeStartIsNoop(t *testing.T) {
	a, b := NewLoopbackPair()
	received := false
	b.SetReceiveCallback(func(payload []byte) { received = true })
	a.Send([]byte("x"))
	if received {
		t.Error("peer should not receive before Start")
	}
}

func TestLoopbackStopSilencesReceiver(t *testing.T) {
	a, b := NewLoopbackPair()
	a.Start()
	b.Start()
	received := false
	b.SetReceiveCallback(func(payload []byte) { received = true })
	b.Stop()
	a.Send([]byte("x"))
	if received {
		t.Error("stopped peer should not receive")
	}
}
