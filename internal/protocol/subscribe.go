package protocol

// Facility identifies the kind of entity a SUBSCRIBE_EVENT names (spec.md
// §4.7 "SUBSCRIBE | Set the per-connection mask; server posts
// SUBSCRIBE_EVENT(facility, op, index) on every matching change.").
type Facility uint32

const (
	FacilitySink Facility = iota
	FacilitySource
	FacilitySinkInput
	FacilitySourceOutput
	FacilityClient
	FacilityModule
	FacilitySample
	FacilityServer
)

// Mask selects which facilities a connection wants SUBSCRIBE_EVENTs for,
// one bit per Facility.
type Mask uint32

// Bit returns the single-facility mask bit for f.
func (f Facility) Bit() Mask { return 1 << Mask(f) }

// MaskAll subscribes to every facility.
const MaskAll Mask = Mask(1<<(FacilityServer+1)) - 1

// MaskNone subscribes to nothing, clearing a previous SUBSCRIBE.
const MaskNone Mask = 0

// EventOp distinguishes why a SUBSCRIBE_EVENT fired.
type EventOp uint32

const (
	EventNew EventOp = iota
	EventChange
	EventRemove
)

// subscribeEvent is sent at once, as a CmdSubscribeEvent packet, to every
// connection whose mask matches (spec.md §5 "Subscription events
// are posted in the same order as the state changes that produced
// them").
type subscribeEvent struct {
	facility Facility
	op       EventOp
	index    uint32
}

// publish fans out ev to every subscribed, authorized connection.
func (s *Server) publish(ev subscribeEvent) {
	s.connections.ForEach(func(_ uint32, c *Connection) bool {
		if !c.authorized {
			return true
		}
		if c.subscribeMask&ev.facility.Bit() == 0 {
			return true
		}
		c.sendSubscribeEvent(ev)
		return true
	})
}
