package base

import (
	"log"
	"time"

	"github.com/lss-net/lss-coordinator/internal/protocol"
	"github.com/lss-net/lss-coordinator/internal/radio"
)

// DispatchRetries and DispatchTimeout bound a command's delivery
// attempts: a ticker periodically resends anything still in flight past
// its deadline, up to a fixed attempt budget, then gives up.
const (
	DispatchRetries = 3
	DispatchTimeout = 12 * time.Second
	dispatchTick    = 2 * time.Second
)

// Dispatcher drives the outbound command queue: it serializes delivery
// per node (one in-flight command per node at a time, so a slow node
// cannot have two conflicting commands racing on the wire) and retries
// on a ticker.
type Dispatcher struct {
	db   *DB
	link radio.Link
	now  func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewDispatcher constructs a Dispatcher. Call Run to start its ticker loop.
func NewDispatcher(db *DB, link radio.Link, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		db:   db,
		link: link,
		now:  now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run blocks, ticking every dispatchTick to retry expired in-flight
// commands, until Stop is called. The ticker does not start pending
// commands; Kick does that.
func (d *Dispatcher) Run() {
	defer close(d.done)
	ticker := time.NewTicker(dispatchTick)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) tick() {
	d.retryExpired()
}

// retryExpired resends every in-flight command whose deadline has
// passed, decrementing its attempt budget. A command whose budget was
// already exhausted by the time it expired (its one remaining attempt
// was the transmission Kick already made) is marked failed without a
// further resend, so the total number of transmissions a command ever
// receives is exactly its starting AttemptsRemaining.
func (d *Dispatcher) retryExpired() {
	expired, err := d.db.ExpiredInFlight(d.now())
	if err != nil {
		log.Printf("base: query expired commands: %v", err)
		return
	}
	for _, e := range expired {
		if e.AttemptsRemaining <= 0 {
			if err := d.db.Complete(e.ID, StateFailed, DispositionTimeout); err != nil {
				log.Printf("base: mark exhausted command %d failed: %v", e.ID, err)
			}
			continue
		}
		if err := d.send(e); err != nil {
			log.Printf("base: resend command %d to node %d: %v", e.ID, e.TargetNodeID, err)
			continue
		}
		remaining := e.AttemptsRemaining - 1
		if err := d.db.Retry(e.ID, remaining, d.now().Add(DispatchTimeout)); err != nil {
			log.Printf("base: reschedule command %d: %v", e.ID, err)
		}
	}
}

// Kick starts the next pending command for nodeID if the node has no
// command currently in flight. Called immediately after Submit, and by
// the Station whenever an ACK or telemetry frame arrives from nodeID.
// This first transmission counts against the command's attempt budget
// the same as a retryExpired resend does, so a command enqueued with
// AttemptsRemaining N is transmitted at most N times in total.
func (d *Dispatcher) Kick(nodeID uint8) error {
	inFlight, err := d.db.InFlightForNode(nodeID)
	if err != nil {
		return err
	}
	if inFlight != nil {
		return nil
	}
	next, err := d.db.NextPendingForNode(nodeID)
	if err != nil || next == nil {
		return err
	}
	if err := d.send(next); err != nil {
		return err
	}
	return d.db.MarkInFlight(next.ID, next.SequenceNumber, next.AttemptsRemaining-1, d.now().Add(DispatchTimeout))
}

func (d *Dispatcher) send(e *CommandEntry) error {
	pkt := &protocol.CommandPacket{
		CommandType:    e.CommandType,
		TargetSensorID: e.TargetNodeID,
		SequenceNumber: e.SequenceNumber,
		Data:           e.Payload,
	}
	frame, err := pkt.Serialize()
	if err != nil {
		return err
	}
	return d.link.Send(frame)
}
