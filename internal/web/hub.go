package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/meshd/meshd/internal/events"
	"github.com/meshd/meshd/internal/model"
	"github.com/meshd/meshd/internal/store"
)

const (
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	readLimit    = 1024
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dashboard is same-origin by default; operators fronting the
	// gateway with a reverse proxy on another origin can widen this.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// conn holds one /updates WebSocket connection's outbound buffer.
// Unlike the drop-and-log policy of a fire-and-forget telemetry push,
// §4.7 requires a slow reader past its bound to be disconnected
// outright, since a stale dashboard is worse than a dropped one.
type conn struct {
	ws   *ws.Conn
	send chan any

	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// hub fans every bus CoreEvent out to all connected /updates clients
// as a JSON frame, and owns the bounded-buffer-then-disconnect policy
// (§4.7), grounded on the per-connection buffered-send-channel pattern
// of an adapted WebSocket hub, generalized here to disconnect instead
// of silently dropping once a client falls behind.
type hub struct {
	bus        *events.Bus
	store      *store.Store
	localPeer  model.PeerID
	sendBuffer int
	logger     *slog.Logger

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func newHub(bus *events.Bus, st *store.Store, localPeer model.PeerID, sendBuffer int, logger *slog.Logger) *hub {
	return &hub{
		bus:        bus,
		store:      st,
		localPeer:  localPeer,
		sendBuffer: sendBuffer,
		logger:     logger,
		conns:      make(map[*conn]struct{}),
	}
}

// run subscribes to the event bus and fans out frames until ctx is
// cancelled. Intended to be launched in its own goroutine by Server.Start.
func (h *hub) run(ctx context.Context) {
	sub := h.bus.Subscribe(256)
	defer h.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if f, ok := h.eventToFrame(evt); ok {
				h.broadcast(f)
			}
		}
	}
}

// eventToFrame translates a CoreEvent into its §4.7 wire frame. Not
// every CoreEvent kind has a corresponding pushed frame (KindLagged,
// the bus's own bookkeeping marker, and KindLocalActuation have no
// frame in the gateway's wire format).
func (h *hub) eventToFrame(evt events.CoreEvent) (frame, bool) {
	switch evt.Kind {
	case events.KindLocalSensor:
		return frame{Event: "sensor_data", Data: sensorDataDTO{
			Node:       peerIDString(h.localPeer),
			Device:     evt.Reading.DeviceName,
			SensorName: evt.Reading.SensorName,
			Value:      evt.Reading.Value,
		}}, true
	case events.KindRemoteSensor:
		return frame{Event: "sensor_data", Data: sensorDataDTO{
			Node:       peerIDString(evt.Peer),
			Device:     evt.Reading.DeviceName,
			SensorName: evt.Reading.SensorName,
			Value:      evt.Reading.Value,
		}}, true
	case events.KindPeerIdentity:
		return frame{Event: "peer_identity", Data: identityToDTO(evt.Identity)}, true
	case events.KindPeerLost:
		return frame{Event: "peer_lost", Data: peerLostDTO{PeerID: peerIDString(evt.Peer)}}, true
	default:
		return frame{}, false
	}
}

// broadcast pushes f to every connected client, disconnecting any
// client whose send buffer is already full (§4.7).
func (h *hub) broadcast(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- f:
		default:
			h.logger.Warn("web: client send buffer exceeded, disconnecting")
			delete(h.conns, c)
			c.close()
		}
	}
}

func (h *hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		c.close()
	}
}

// closeAll disconnects every connected client, used during gateway shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// serveWS upgrades the request to a WebSocket, sends the initial
// snapshot frame, and runs the connection's write/read pumps (§4.7).
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("web: websocket upgrade failed", "error", err)
		return
	}

	c := &conn{ws: wsConn, send: make(chan any, h.sendBuffer)}
	h.register(c)

	select {
	case c.send <- snapshotFrame{Peers: snapshotToDTO(h.store.Snapshot())}:
	default:
		// A brand new connection's buffer cannot already be full; this
		// branch exists only so the send never blocks the accept path.
	}

	go c.writePump(h.logger)
	c.readPump(h, h.logger)
}

// writePump drains c.send to the wire, interleaving periodic pings so
// a silent-but-alive client doesn't trip the read deadline.
func (c *conn) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.ws.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				logger.Debug("web: write failed, closing connection", "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection's read deadline alive via pong
// receipt and discards any client-sent payload: the gateway is a
// push-only feed, so an incoming message has nothing to act on beyond
// proving liveness. Returns (and triggers unregister) once the
// connection errors or closes.
func (c *conn) readPump(h *hub, logger *slog.Logger) {
	defer h.unregister(c)

	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseAbnormalClosure, ws.CloseNormalClosure) {
				logger.Debug("web: unexpected close", "error", err)
			}
			return
		}
	}
}
