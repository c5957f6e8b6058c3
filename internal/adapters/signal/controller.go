// Package signal is the WebSocket front of the signaling protocol: one
// persistent connection per client, JSON envelopes with request/reply
// correlation, events of a single connection handled strictly in order.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/velored/meetmedia/internal/app"
	"github.com/velored/meetmedia/internal/core"
	"github.com/velored/meetmedia/internal/domain"
	"github.com/velored/meetmedia/internal/media"
	"github.com/velored/meetmedia/internal/telemetry"
)

var ErrBackpressure = errors.New("backpressure")

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// wsSignalConn implements core.SignalConnection over a buffered send
// channel; the write pump is the only goroutine touching the socket's
// write side.
type wsSignalConn struct {
	conn WSConn
	send chan core.Frame
	once sync.Once
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsSignalConn) Close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Orch       *app.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "adapters.signal").Err(err).Msg("ws upgrade failed")
		return
	}
	ctl.Serve(ctx, ws)
}

// Serve runs the connection until the socket or ctx dies. Split from
// HandleSignal so tests can drive a fake WSConn.
func (ctl *Controller) Serve(ctx context.Context, ws WSConn) {
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}
	conn := &wsSignalConn{conn: ws, send: make(chan core.Frame, 64)}
	sess := &session{
		ctl:  ctl,
		peer: domain.PeerID(uuid.NewString()),
		conn: conn,
	}
	log.Info().Str("module", "adapters.signal").Str("peer", string(sess.peer)).Msg("new signaling connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	sess.readPump(ctx, cancel)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsSignalConn) {
	ping := time.NewTicker(ctl.pingPeriod())
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) pingPeriod() time.Duration {
	if ctl.PingPeriod > 0 {
		return ctl.PingPeriod
	}
	return 54 * time.Second
}

// session is the per-connection signaling state: the connection's peer id
// and, after a successful join, its room. Only the read pump touches it, so
// events of one connection can never interleave with themselves.
type session struct {
	ctl    *Controller
	peer   domain.PeerID
	conn   *wsSignalConn
	room   domain.RoomCode
	joined bool
}

func (s *session) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		// Socket gone is the cancellation signal for this participant.
		if s.joined {
			s.ctl.Orch.Leave(context.Background(), s.room, s.peer)
		}
		s.conn.Close()
		cancel()
		log.Info().Str("module", "adapters.signal").Str("peer", string(s.peer)).Msg("signaling connection closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := s.conn.conn.ReadMessage()
			if err != nil {
				return
			}
			s.handle(ctx, data)
		}
	}
}

func (s *session) handle(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Str("module", "adapters.signal").Str("peer", string(s.peer)).Err(err).Msg("bad envelope")
		return
	}
	telemetry.SignalRequests.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case "join-room":
		s.handleJoin(ctx, env)
	case "create-transport":
		s.handleCreateTransport(ctx, env)
	case "connect-transport":
		s.handleConnectTransport(ctx, env)
	case "produce":
		s.handleProduce(ctx, env)
	case "consume":
		s.handleConsume(ctx, env)
	case "resume-consumer":
		s.handleResumeConsumer(env)
	case "list-producers":
		s.handleListProducers(env)
	case "leave-room":
		s.handleLeave(ctx, env)
	default:
		s.replyErr(env, errors.New("unknown message type"))
	}
}

func (s *session) handleJoin(ctx context.Context, env envelope) {
	var p joinRoomPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomCode == "" {
		s.replyErr(env, errors.New("bad payload"))
		return
	}
	if s.joined {
		s.replyErr(env, domain.ErrAlreadyJoined)
		return
	}
	caps, err := s.ctl.Orch.Join(ctx, domain.RoomCode(p.RoomCode), s.peer, p.DisplayName, s.conn)
	if err != nil {
		s.replyErr(env, err)
		return
	}
	s.room = domain.RoomCode(p.RoomCode)
	s.joined = true
	s.reply(env, joinRoomReply{RTPCapabilities: caps})
}

func (s *session) handleCreateTransport(ctx context.Context, env envelope) {
	var p createTransportPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		s.replyErr(env, errors.New("bad payload"))
		return
	}
	dir := media.Direction(p.Direction)
	if dir != media.DirectionSend && dir != media.DirectionRecv {
		s.replyErr(env, errors.New("bad payload"))
		return
	}
	info, err := s.ctl.Orch.CreateTransport(ctx, s.room, s.peer, dir)
	if err != nil {
		s.replyErr(env, err)
		return
	}
	s.reply(env, info)
}

func (s *session) handleConnectTransport(ctx context.Context, env envelope) {
	var p connectTransportPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		s.replyErr(env, errors.New("bad payload"))
		return
	}
	if err := s.ctl.Orch.ConnectTransport(ctx, s.room, s.peer, p.TransportID, p.DTLSParameters); err != nil {
		s.replyErr(env, err)
		return
	}
	s.reply(env, successReply{Success: true})
}

func (s *session) handleProduce(ctx context.Context, env envelope) {
	var p producePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		s.replyErr(env, errors.New("bad payload"))
		return
	}
	kind := media.Kind(p.Kind)
	if kind != media.KindAudio && kind != media.KindVideo {
		s.replyErr(env, errors.New("bad payload"))
		return
	}
	id, err := s.ctl.Orch.Produce(ctx, s.room, s.peer, p.TransportID, kind, p.RTPParameters)
	if err != nil {
		s.replyErr(env, err)
		return
	}
	s.reply(env, produceReply{ID: id})
}

func (s *session) handleConsume(ctx context.Context, env envelope) {
	var p consumePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		s.replyErr(env, errors.New("bad payload"))
		return
	}
	info, err := s.ctl.Orch.Consume(ctx, s.room, s.peer, p.TransportID, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		s.replyErr(env, err)
		return
	}
	s.reply(env, info)
}

func (s *session) handleResumeConsumer(env envelope) {
	var p resumeConsumerPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		s.replyErr(env, errors.New("bad payload"))
		return
	}
	if err := s.ctl.Orch.ResumeConsumer(s.room, s.peer, p.ConsumerID); err != nil {
		s.replyErr(env, err)
		return
	}
	s.reply(env, successReply{Success: true})
}

func (s *session) handleListProducers(env envelope) {
	producers, err := s.ctl.Orch.ListProducers(s.room, s.peer)
	if err != nil {
		s.replyErr(env, err)
		return
	}
	s.reply(env, listProducersReply{Producers: producers})
}

// handleLeave always succeeds: leaving twice, or leaving before joining,
// is a no-op for the caller.
func (s *session) handleLeave(ctx context.Context, env envelope) {
	if s.joined {
		s.ctl.Orch.Leave(ctx, s.room, s.peer)
		s.joined = false
		s.room = ""
	}
	s.reply(env, successReply{Success: true})
}

func (s *session) reply(env envelope, data any) {
	s.push(response{Type: "response", ReqID: env.ReqID, Data: data})
}

func (s *session) replyErr(env envelope, err error) {
	telemetry.SignalErrors.WithLabelValues(env.Type).Inc()
	log.Debug().Str("module", "adapters.signal").Str("peer", string(s.peer)).
		Str("type", env.Type).Err(err).Msg("request failed")
	s.push(response{Type: "response", ReqID: env.ReqID, Error: userError(err)})
}

func (s *session) push(r response) {
	b, err := json.Marshal(r)
	if err != nil {
		log.Error().Str("module", "adapters.signal").Err(err).Msg("marshal response")
		return
	}
	if err := s.conn.TrySend(b); err != nil {
		log.Debug().Str("module", "adapters.signal").Str("peer", string(s.peer)).Err(err).Msg("reply dropped")
	}
}

// wireErrors are reported to the client verbatim; everything else collapses
// into "internal error" so engine internals never leak onto the wire.
var wireErrors = []error{
	domain.ErrRoomNotFound,
	domain.ErrAlreadyJoined,
	domain.ErrNotInRoom,
	domain.ErrTransportExists,
	domain.ErrTransportNotFound,
	domain.ErrSendTransportNotFound,
	domain.ErrRecvTransportNotFound,
	domain.ErrConsumerNotFound,
	domain.ErrCannotConsume,
}

func userError(err error) string {
	for _, known := range wireErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	if err.Error() == "bad payload" || err.Error() == "unknown message type" {
		return err.Error()
	}
	return "internal error"
}
