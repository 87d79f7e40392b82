package protocol

import (
	"net"
	"time"

	"github.com/driftsound/driftsound/internal/cookie"
	"github.com/driftsound/driftsound/internal/errors"
	"github.com/driftsound/driftsound/internal/idxset"
	"github.com/driftsound/driftsound/internal/logger"
	"github.com/driftsound/driftsound/internal/mainloop"
	"github.com/driftsound/driftsound/internal/pdispatch"
	"github.com/driftsound/driftsound/internal/proplist"
	"github.com/driftsound/driftsound/internal/pstream"
	"github.com/driftsound/driftsound/internal/tagstruct"
	"github.com/google/uuid"
)

// Connection is one accepted peer: its framing (pstream), its command
// router (pdispatch), its authorization state, and every stream it owns
// (spec.md §4.7 "Connection lifecycle").
type Connection struct {
	index  uint32
	server *Server
	conn   net.Conn
	ps     *pstream.Pstream
	disp   *pdispatch.Dispatch

	authorized bool
	authTimer  mainloop.TimerHandle
	peerUnix   bool
	peerCreds  cookie.PeerCredentials

	client    *Client
	clientIdx uint32

	subscribeMask Mask

	nextChannel uint32
	playback    map[uint32]*playbackStream
	record      map[uint32]*recordStream
	uploads     map[uint32]*uploadStream

	recordOrder []uint32 // round-robin order of record stream channels for drain-triggered pumping
	recordCur   int
}

// newConnection wraps conn, registers command handlers, and arms the
// auth timeout (spec.md §4.7 steps 1-2).
func newConnection(s *Server, conn net.Conn) *Connection {
	c := &Connection{
		server:   s,
		conn:     conn,
		playback: make(map[uint32]*playbackStream),
		record:   make(map[uint32]*recordStream),
		uploads:  make(map[uint32]*uploadStream),
	}
	c.clientIdx = idxset.Invalid

	if uconn, ok := conn.(*net.UnixConn); ok {
		c.peerUnix = true
		if creds, err := cookie.PeerCredentialsFrom(uconn); err == nil {
			c.peerCreds = creds
		}
	}

	c.disp = pdispatch.New(s.loop, 10*time.Second)
	c.registerHandlers()

	c.ps = pstream.New(s.loop, conn, pstream.Config{
		Pool:       s.pool,
		OnPacket:   c.handlePacket,
		OnMemblock: c.handleMemblock,
		OnDrain:    c.handleDrain,
		OnDie:      func(error) { c.unlink() },
	})

	handshakeTimeout := s.cfg.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = AuthTimeout
	}

	c.index = s.connections.Put(c)
	c.authTimer = s.loop.ScheduleAfter(handshakeTimeout, func() {
		if !c.authorized {
			s.cfg.Metrics.ConnectionRejected()
			c.ps.Free()
		}
	})
	return c
}

// trustedByAddr reports whether conn's remote address falls within one of
// cfg's configured trusted subnets (auth-ip-acl equivalent). Unix sockets
// are never trusted this way; they go through AuthorizedByUID instead.
func trustedByAddr(cfg Config, conn net.Conn) bool {
	if len(cfg.TrustedSubnets) == 0 {
		return false
	}
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return false
	}
	for _, subnet := range cfg.TrustedSubnets {
		if subnet.Contains(tcpAddr.IP) {
			return true
		}
	}
	return false
}

func (c *Connection) registerHandlers() {
	c.disp.Register(uint32(CmdAuth), c.wrap(false, c.handleAuth))
	c.disp.Register(uint32(CmdSetClientName), c.wrap(false, c.handleSetClientName))
	c.disp.Register(uint32(CmdUpdateClientProplist), c.wrap(true, c.handleUpdateClientProplist))
	c.disp.Register(uint32(CmdCreatePlaybackStream), c.wrap(true, c.handleCreatePlaybackStream))
	c.disp.Register(uint32(CmdDeletePlaybackStream), c.wrap(true, c.handleDeletePlaybackStream))
	c.disp.Register(uint32(CmdCreateRecordStream), c.wrap(true, c.handleCreateRecordStream))
	c.disp.Register(uint32(CmdDeleteRecordStream), c.wrap(true, c.handleDeleteRecordStream))
	c.disp.Register(uint32(CmdDrainPlaybackStream), c.wrap(true, c.handleDrainPlaybackStream))
	c.disp.Register(uint32(CmdCorkPlaybackStream), c.wrap(true, c.handleCorkPlaybackStream))
	c.disp.Register(uint32(CmdFlushPlaybackStream), c.wrap(true, c.handleFlushPlaybackStream))
	c.disp.Register(uint32(CmdTriggerPlaybackStream), c.wrap(true, c.handleTriggerPlaybackStream))
	c.disp.Register(uint32(CmdPrebufPlaybackStream), c.wrap(true, c.handlePrebufPlaybackStream))
	c.disp.Register(uint32(CmdCorkRecordStream), c.wrap(true, c.handleCorkRecordStream))
	c.disp.Register(uint32(CmdFlushRecordStream), c.wrap(true, c.handleFlushRecordStream))
	c.disp.Register(uint32(CmdSetPlaybackStreamVolume), c.wrap(true, c.handleSetPlaybackStreamVolume))
	c.disp.Register(uint32(CmdSetPlaybackStreamMute), c.wrap(true, c.handleSetPlaybackStreamMute))
	c.disp.Register(uint32(CmdLookupSink), c.wrap(true, c.handleLookupSink))
	c.disp.Register(uint32(CmdLookupSource), c.wrap(true, c.handleLookupSource))
	c.disp.Register(uint32(CmdStat), c.wrap(true, c.handleStat))
	c.disp.Register(uint32(CmdGetPlaybackLatency), c.wrap(true, c.handleGetPlaybackLatency))
	c.disp.Register(uint32(CmdGetRecordLatency), c.wrap(true, c.handleGetRecordLatency))
	c.disp.Register(uint32(CmdSubscribe), c.wrap(true, c.handleSubscribe))
	c.disp.Register(uint32(CmdSetSinkVolume), c.wrap(true, c.handleSetSinkVolume))
	c.disp.Register(uint32(CmdSetSinkMute), c.wrap(true, c.handleSetSinkMute))
	c.disp.Register(uint32(CmdMoveSinkInput), c.wrap(true, c.handleMoveSinkInput))
	c.disp.Register(uint32(CmdSuspendSink), c.wrap(true, c.handleSuspendSink))
	c.disp.Register(uint32(CmdSuspendSource), c.wrap(true, c.handleSuspendSource))
	c.disp.Register(uint32(CmdCreateUploadStream), c.wrap(true, c.handleCreateUploadStream))
	c.disp.Register(uint32(CmdFinishUploadStream), c.wrap(true, c.handleFinishUploadStream))
	c.disp.Register(uint32(CmdPlaySample), c.wrap(true, c.handlePlaySample))
	c.disp.Register(uint32(CmdRemoveSample), c.wrap(true, c.handleRemoveSample))
	c.disp.Register(uint32(CmdExit), c.wrap(true, c.handleExit))
	c.disp.Register(uint32(CmdLoadModule), c.wrap(true, c.handleLoadModule))
	c.disp.Register(uint32(CmdUnloadModule), c.wrap(true, c.handleUnloadModule))
}

// wrap enforces spec.md §4.7 step 4 ("Unauthorized connections may only
// send AUTH and SET_CLIENT_NAME; all other commands respond with
// ERR_ACCESS") before invoking fn, and turns a returned error into an
// ERROR(tag, kind) reply, or a nil return into an implicit REPLY(tag)
// with no extra arguments. DRAIN_PLAYBACK_STREAM is the exception: its
// handler sends the REPLY itself once the stream has drained.
func (c *Connection) wrap(requireAuth bool, fn func(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error)) pdispatch.Handler {
	return func(command, tag uint32, args *tagstruct.Reader) error {
		if requireAuth && !c.authorized {
			c.sendError(tag, ErrAccess)
			return nil
		}
		reply, err := fn(tag, args)
		if err != nil {
			kind := ErrUnknown
			if pe, ok := err.(*protocolError); ok {
				kind = pe.kind
			}
			c.sendError(tag, kind)
			return nil
		}
		if reply != nil || command != uint32(CmdDrainPlaybackStream) {
			c.sendReply(tag, reply)
		}
		return nil
	}
}

func (c *Connection) handlePacket(payload []byte) {
	r := tagstruct.NewReader(payload)
	command, err := r.GetU32()
	if err != nil {
		c.ps.Free()
		return
	}
	tag, err := r.GetU32()
	if err != nil {
		c.ps.Free()
		return
	}
	if err := c.disp.Dispatch(command, tag, r); err != nil {
		c.sendError(tag, ErrCommand)
	}
}

func (c *Connection) sendReply(tag uint32, body *tagstruct.Builder) {
	b := tagstruct.NewBuilder()
	b.PutU32(pdispatch.CommandReply)
	b.PutU32(tag)
	if body != nil {
		b.Append(body)
	}
	_ = c.ps.SendPacket(b.Bytes())
}

func (c *Connection) sendError(tag uint32, kind ErrKind) {
	b := tagstruct.NewBuilder()
	b.PutU32(pdispatch.CommandError)
	b.PutU32(tag)
	b.PutU32(uint32(kind))
	_ = c.ps.SendPacket(b.Bytes())
}

func (c *Connection) sendNotification(cmd Command, body *tagstruct.Builder) {
	b := tagstruct.NewBuilder()
	b.PutU32(uint32(cmd))
	b.PutU32(TagNoReply)
	b.Append(body)
	_ = c.ps.SendPacket(b.Bytes())
}

func (c *Connection) sendSubscribeEvent(ev subscribeEvent) {
	b := tagstruct.NewBuilder()
	b.PutU32(uint32(ev.facility))
	b.PutU32(uint32(ev.op))
	b.PutU32(ev.index)
	c.sendNotification(CmdSubscribeEvent, b)
}

// handleAuth validates the client's cookie or (on a local socket) its
// peer credentials against the server's uid/gid (spec.md §4.7 step 3).
func (c *Connection) handleAuth(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	protocolVersion, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "AUTH: missing protocol version")
	}
	candidate, err := args.GetArbitrary()
	if err != nil {
		return nil, newErr(ErrInvalid, "AUTH: missing cookie")
	}

	ok := c.server.cfg.AllowAnonymous || c.server.cfg.Cookie.Equal(candidate)
	if !ok && c.peerUnix {
		ok = cookie.AuthorizedByUID(c.peerCreds, c.server.cfg.ServerUID, c.server.cfg.AllowedGID, c.server.cfg.AllowedGIDSet)
	}
	if !ok && !c.peerUnix {
		ok = trustedByAddr(c.server.cfg, c.conn)
	}
	if !ok {
		aerr := errors.Newf("AUTH failed for %s", c.conn.RemoteAddr()).
			Component(Component).
			Category(errors.CategoryNetwork).
			Context("conn_idx", c.index).
			Context("peer_unix", c.peerUnix).
			Build()
		c.server.log.Warn("authorization rejected", logger.Error(aerr))
		return nil, newErr(ErrAccess, "AUTH: cookie mismatch and no peer-credential or trusted-subnet fallback")
	}

	c.authTimer.Cancel()
	c.authorized = true
	c.server.log.Info("connection authorized",
		logger.Uint64("conn_idx", uint64(c.index)),
		logger.Bool("peer_unix", c.peerUnix))

	reply := tagstruct.NewBuilder()
	reply.PutU32(minU32(protocolVersion, ProtocolVersion))
	return reply, nil
}

// ProtocolVersion is this server's native protocol version, exchanged
// during AUTH (spec.md §4.7 "Version negotiation").
const ProtocolVersion uint32 = 35

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func (c *Connection) handleSetClientName(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	name, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "SET_CLIENT_NAME: missing name")
	}

	if c.client == nil {
		c.client = &Client{name: name, correlationID: uuid.New(), props: proplist.New()}
		c.client.props.SetString(proplist.KeyClientCorrelationID, c.client.correlationID.String())
		c.clientIdx = c.server.clients.Put(c.client)
		c.server.publish(subscribeEvent{facility: FacilityClient, op: EventNew, index: c.clientIdx})
		c.server.log.Info("client registered", logger.Username(name), logger.Uint64("client_idx", uint64(c.clientIdx)))
	} else {
		c.client.name = name
		c.server.publish(subscribeEvent{facility: FacilityClient, op: EventChange, index: c.clientIdx})
		c.server.log.Debug("client renamed", logger.Username(name), logger.Uint64("client_idx", uint64(c.clientIdx)))
	}

	reply := tagstruct.NewBuilder()
	reply.PutU32(c.clientIdx)
	return reply, nil
}

func (c *Connection) handleUpdateClientProplist(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	mode, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "UPDATE_CLIENT_PROPLIST: missing mode")
	}
	p, err := args.GetPropList()
	if err != nil {
		return nil, newErr(ErrInvalid, "UPDATE_CLIENT_PROPLIST: missing proplist")
	}
	if c.client == nil {
		return nil, newErr(ErrBadState, "UPDATE_CLIENT_PROPLIST: no client registered yet")
	}
	c.client.props.Update(p, proplist.UpdateMode(mode))
	c.server.publish(subscribeEvent{facility: FacilityClient, op: EventChange, index: c.clientIdx})
	return nil, nil
}

// unlink tears down every stream the connection owns, in the order
// spec.md §5 describes ("streams first... then the client record; then
// the pstream; then the connection"), then removes it from the server's
// registry. The pstream itself is already mid-teardown when this runs
// (it is invoked from OnDie), so it is not re-freed here.
func (c *Connection) unlink() {
	c.authTimer.Cancel()

	c.server.log.Info("connection closed",
		logger.Uint64("conn_idx", uint64(c.index)),
		logger.Int("playback_streams", len(c.playback)),
		logger.Int("record_streams", len(c.record)))

	for idx := range c.playback {
		c.removePlaybackStream(idx)
	}
	for idx := range c.record {
		c.removeRecordStream(idx)
	}
	for idx := range c.uploads {
		delete(c.uploads, idx)
	}

	if c.client != nil {
		c.server.clients.Remove(c.clientIdx)
		c.server.publish(subscribeEvent{facility: FacilityClient, op: EventRemove, index: c.clientIdx})
	}

	c.server.connections.Remove(c.index)
}
