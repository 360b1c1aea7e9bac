// Package ws is the client-facing transport: one WebSocket per player,
// HELLO/WELCOME handshake, command envelopes in, results and versioned world
// updates out. Deltas arrive over the bus subscription, not directly from the
// store, so every consumer sees the same published stream.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"dreamfield.world/internal/admin"
	"dreamfield.world/internal/bus"
	"dreamfield.world/internal/protocol"
	"dreamfield.world/internal/sim/aoi"
	"dreamfield.world/internal/sim/command"
	"dreamfield.world/internal/sim/state"
	"dreamfield.world/internal/sim/templates"
)

// Spawn is where first-time players appear.
type Spawn struct {
	Location string
	Area     string
}

type Server struct {
	store     *state.Store
	templates *templates.Store
	builder   *aoi.Builder
	proc      *command.Processor
	tracker   *state.VersionTracker
	resolver  *admin.Resolver // nil disables the admin surface
	sub       bus.Subscriber  // nil disables delta forwarding (degraded)
	prefix    string
	spawn     Spawn
	log       *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(store *state.Store, tpl *templates.Store, builder *aoi.Builder,
	proc *command.Processor, tracker *state.VersionTracker, spawn Spawn, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		store:     store,
		templates: tpl,
		builder:   builder,
		proc:      proc,
		tracker:   tracker,
		prefix:    "world",
		spawn:     spawn,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// SetBus wires the delta subscription. Without it clients still get command
// results and snapshots, just no live updates.
func (s *Server) SetBus(sub bus.Subscriber, prefix string) {
	s.sub = sub
	if prefix != "" {
		s.prefix = prefix
	}
}

// SetResolver enables the admin mini-language on admin connections.
func (s *Server) SetResolver(r *admin.Resolver) { s.resolver = r }

type session struct {
	userID string
	admin  bool
	out    chan []byte

	// Highest full-snapshot version enqueued for this client. Forwarded
	// deltas at or below it are already covered by the snapshot and are
	// dropped instead of delivered out of order.
	snapshotVersion atomic.Uint64
}

// snapshotMsg wraps a full AOI view for the wire.
type snapshotMsg struct {
	Type string `json:"type"`
	aoi.View
}

type resultMsg struct {
	Type string `json:"type"`
	protocol.CommandResult
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		defer s.tracker.Forget(sess.userID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Subscribe before the initial snapshot is built. Deltas committed
		// while the snapshot is being assembled then land on the out channel
		// instead of vanishing; anything the snapshot already covers is
		// filtered by its version.
		unsubscribe := s.subscribe(sess)
		defer unsubscribe()

		if !s.sendSnapshot(sess) {
			return
		}

		s.readLoop(ctx, conn, sess)
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return nil
	}
	if hello.UserID == "" {
		closePolicy(conn, "missing user_id")
		return nil
	}
	if hello.Experience != s.store.Experience() {
		closePolicy(conn, "unknown experience")
		return nil
	}

	// First-time users spawn at the configured entry point; returning users
	// keep their position.
	_, err = s.store.Mutate(func(tx *state.Tx) error {
		_, perr := tx.EnsurePlayer(hello.UserID, s.spawn.Location, s.spawn.Area)
		return perr
	})
	if err != nil {
		s.log.Printf("[ws] spawn user=%s: %v", hello.UserID, err)
		closePolicy(conn, "cannot join")
		return nil
	}

	digest := ""
	if s.templates != nil {
		digest = s.templates.Current().Digest
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		UserID:          hello.UserID,
		Experience:      hello.Experience,
		SnapshotVersion: s.store.Version(),
		TemplatesDigest: digest,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}

	return &session{userID: hello.UserID, admin: hello.Admin, out: make(chan []byte, 64)}
}

// sendSnapshot enqueues a full AOI view. The first one seeds the client's
// base_version right after WELCOME; later ones serve resync requests. It
// rides the out channel so all post-handshake writes go through the single
// writer goroutine.
func (s *Server) sendSnapshot(sess *session) bool {
	view, err := s.builder.Build(sess.userID, sess.admin)
	if err != nil {
		s.log.Printf("[ws] snapshot user=%s: %v", sess.userID, err)
		return false
	}
	b, err := json.Marshal(snapshotMsg{Type: protocol.TypeSnapshot, View: view})
	if err != nil {
		return false
	}
	for {
		cur := sess.snapshotVersion.Load()
		if view.Version <= cur || sess.snapshotVersion.CompareAndSwap(cur, view.Version) {
			break
		}
	}
	select {
	case sess.out <- b:
		s.tracker.MarkDelivered(sess.userID, view.Version)
		return true
	default:
		s.log.Printf("[ws] user=%s slow, dropping snapshot v=%d", sess.userID, view.Version)
		return false
	}
}

// subscribe forwards this user's deltas (direct and broadcast) from the bus
// into the connection's out channel. Sends never block; a slow client drops
// deltas and recovers through the resync path.
func (s *Server) subscribe(sess *session) func() {
	if s.sub == nil {
		return func() {}
	}
	forward := func(data []byte) {
		var ev protocol.WorldUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.SnapshotVersion <= sess.snapshotVersion.Load() {
			return // already covered by an enqueued snapshot
		}
		select {
		case sess.out <- data:
			s.tracker.MarkDelivered(sess.userID, ev.SnapshotVersion)
		default:
			s.log.Printf("[ws] user=%s slow, dropping v=%d", sess.userID, ev.SnapshotVersion)
		}
	}

	exp := s.store.Experience()
	var unsubs []func() error
	for _, subj := range []string{
		bus.Subject(s.prefix, exp, sess.userID),
		bus.Subject(s.prefix, exp, protocol.BroadcastScope),
	} {
		un, err := s.sub.Subscribe(subj, forward)
		if err != nil {
			s.log.Printf("[ws] subscribe %s: %v", subj, err)
			continue
		}
		unsubs = append(unsubs, un)
	}
	return func() {
		for _, un := range unsubs {
			_ = un()
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}

		switch base.Type {
		case protocol.TypeAction:
			var env protocol.CommandEnvelope
			if err := json.Unmarshal(msg, &env); err != nil {
				s.send(sess, resultMsg{Type: protocol.TypeResult,
					CommandResult: protocol.Failure(protocol.ErrProtoBadRequest, "malformed command")})
				continue
			}
			res := s.proc.Process(ctx, sess.userID, env)
			s.send(sess, resultMsg{Type: protocol.TypeResult, CommandResult: res})

		case protocol.TypeResync:
			var rq protocol.ResyncMsg
			if err := json.Unmarshal(msg, &rq); err != nil {
				continue
			}
			if s.tracker.NeedsResync(sess.userID, rq.BaseVersion) {
				s.sendSnapshot(sess)
			}

		case protocol.TypeAdmin:
			s.send(sess, s.handleAdmin(sess, msg))
		}
	}
}

func (s *Server) handleAdmin(sess *session, msg []byte) protocol.AdminResultMsg {
	if !sess.admin || s.resolver == nil {
		return protocol.AdminResultMsg{Type: protocol.TypeAdminResult,
			ErrorCode: protocol.ErrNotSupported}
	}
	var am protocol.AdminMsg
	if err := json.Unmarshal(msg, &am); err != nil {
		return protocol.AdminResultMsg{Type: protocol.TypeAdminResult,
			ErrorCode: protocol.ErrProtoBadRequest}
	}
	out, err := s.resolver.Execute(am.Line)
	if err != nil {
		return protocol.AdminResultMsg{Type: protocol.TypeAdminResult,
			Output: err.Error(), ErrorCode: protocol.ErrBadRequest}
	}
	return protocol.AdminResultMsg{Type: protocol.TypeAdminResult, Success: true, Output: out}
}

// send enqueues without blocking; results ride the same channel as deltas.
func (s *Server) send(sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	default:
		s.log.Printf("[ws] user=%s slow, dropping %T", sess.userID, v)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}
