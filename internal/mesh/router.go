package mesh

import (
	"time"
)

// Outcome classifies the disposition of a received mesh frame.
type Outcome int

const (
	// Dropped means the frame must not be delivered or forwarded.
	Dropped Outcome = iota
	// Delivered means the payload should be handed to the upper layer.
	Delivered
	// Forwarded means the caller should re-transmit the frame with
	// hopCount+1, prevHop=self, and a decremented TTL.
	Forwarded
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Forwarded:
		return "forwarded"
	default:
		return "dropped"
	}
}

// Result is the outcome of Router.Receive.
type Result struct {
	Outcome Outcome
	Payload []byte // set when Outcome == Delivered
	Header  *Header
}

const BeaconInterval = 30 * time.Second

// Router implements the reduced-AODV forwarding and neighbour-discovery
// logic for a single node in a tree-shaped mesh anchored at node 0.
// Not safe for concurrent use: callers drive it only from a single-
// threaded loop.
type Router struct {
	SelfID uint8

	table      *routeTable
	seq        uint16
	now        func() time.Time
	lastBeacon time.Time
	haveBeacon bool
}

// NewRouter constructs a Router for selfID. now defaults to time.Now if nil,
// letting tests inject a controllable clock.
func NewRouter(selfID uint8, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{
		SelfID: selfID,
		table:  newRouteTable(now),
		now:    now,
	}
}

// Wrap prepends a mesh header addressed to destID. It does not consult
// any "mesh enabled" flag; the caller decides whether to wrap.
func (r *Router) Wrap(destID uint8, payload []byte) []byte {
	nextHop := destID
	if destID != NodeIDBroadcast {
		nextHop = r.NextHopFor(destID)
	}
	h := &Header{
		PacketType:     PacketData,
		SourceID:       r.SelfID,
		DestID:         destID,
		NextHop:        nextHop,
		PrevHop:        r.SelfID,
		HopCount:       0,
		TTL:            MaxHops,
		SequenceNumber: r.nextSeq(),
	}
	return WrapFrame(h, payload)
}

func (r *Router) nextSeq() uint16 {
	s := r.seq
	r.seq++
	return s
}

// Receive classifies an inbound mesh frame per the state machine:
// Received -> validate length -> hop check -> record neighbour ->
// classify type -> {Deliver, Drop, Forward}.
func (r *Router) Receive(frame []byte) Result {
	h, err := DecodeHeader(frame)
	if err != nil {
		return Result{Outcome: Dropped}
	}
	payload := frame[HeaderSize:]

	if h.HopCount >= MaxHops {
		return Result{Outcome: Dropped, Header: h}
	}

	if h.PrevHop != NodeIDCoordinator && h.PrevHop != NodeIDBroadcast {
		r.UpdateRoute(h.SourceID, h.PrevHop, h.HopCount)
	}

	if h.PacketType == PacketBeacon {
		r.UpdateRoute(h.SourceID, h.SourceID, 0)
		return Result{Outcome: Dropped, Header: h}
	}

	if h.PacketType == PacketRREQ && h.DestID == r.SelfID {
		return Result{Outcome: Delivered, Payload: payload, Header: h}
	}

	if h.DestID == r.SelfID || h.DestID == NodeIDBroadcast {
		return Result{Outcome: Delivered, Payload: payload, Header: h}
	}

	return Result{Outcome: Forwarded, Header: h}
}

// Tick is called once per client-loop iteration. It returns a beacon frame
// at most once per BeaconInterval and ok=false otherwise. It also evicts
// route entries older than RouteTimeout.
func (r *Router) Tick() (beacon []byte, ok bool) {
	now := r.now()
	r.table.Purge()

	if r.haveBeacon && now.Sub(r.lastBeacon) < BeaconInterval {
		return nil, false
	}

	h := &Header{
		PacketType:     PacketBeacon,
		SourceID:       r.SelfID,
		DestID:         NodeIDBroadcast,
		NextHop:        NodeIDBroadcast,
		PrevHop:        r.SelfID,
		HopCount:       0,
		TTL:            1,
		SequenceNumber: r.nextSeq(),
	}
	r.lastBeacon = now
	r.haveBeacon = true
	return WrapFrame(h, nil), true
}

// UpdateRoute inserts or refreshes the route to destID, last-writer-wins.
func (r *Router) UpdateRoute(destID, nextHop, hopCount uint8) {
	r.table.Update(destID, nextHop, hopCount)
}

// NextHopFor returns the stored next hop for destID, or 255 (broadcast
// fallback) if no valid route exists.
func (r *Router) NextHopFor(destID uint8) uint8 {
	e, ok := r.table.Lookup(destID)
	if !ok {
		return NodeIDBroadcast
	}
	return e.NextHop
}

// RouteCount reports the number of live entries, for tests and diagnostics.
func (r *Router) RouteCount() int {
	return r.table.Len()
}
