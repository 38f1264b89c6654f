// Package notify pushes mission status changes to connected dashboards over
// socket.io.
package notify

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"

	"github.com/aerie/mission-core/logging"
	"github.com/aerie/mission-core/mission"
)

const namespace = "/"

// Event names emitted to clients.
const (
	EventMissionStatus   = "missionStatus"
	EventMissionsUpdated = "missionsUpdated"
	EventMissionError    = "missionError"
)

// StatusLookup resolves the current status of a mission by id.
type StatusLookup func(id string) (mission.Status, error)

// Hub owns the socket.io server. Clients join a mission room with
// "watchMission" and receive every status change of that mission as
// missionStatus; every client also receives missionsUpdated.
type Hub struct {
	server  *socketio.Server
	lookup  StatusLookup
	logger  *slog.Logger
	clients atomic.Int64
}

var allowOriginFunc = func(r *http.Request) bool {
	return true
}

// NewHub builds the socket.io server and registers its handlers. lookup may
// be nil, in which case watchMission only joins the room.
func NewHub(lookup StatusLookup) *Hub {
	h := &Hub{
		lookup: lookup,
		logger: logging.GetLogger().With("component", "notify"),
	}

	h.server = socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	h.server.OnConnect(namespace, func(socket socketio.Conn) error {
		socket.SetContext("")
		h.clients.Add(1)
		h.logger.Info("client connected", "socket_id", socket.ID(), "remote_addr", socket.RemoteAddr().String())
		return nil
	})

	h.server.OnEvent(namespace, "watchMission", func(socket socketio.Conn, missionID string) {
		socket.Join(missionID)
		socket.SetContext(missionID)
		h.logger.Debug("client watching mission", "socket_id", socket.ID(), "mission_id", missionID)
		if h.lookup == nil {
			return
		}
		status, err := h.lookup(missionID)
		if err != nil {
			socket.Emit(EventMissionError, map[string]string{"mission_id": missionID, "message": err.Error()})
			return
		}
		socket.Emit(EventMissionStatus, status)
	})

	h.server.OnEvent(namespace, "unwatchMission", func(socket socketio.Conn, missionID string) {
		socket.Leave(missionID)
		socket.SetContext("")
	})

	h.server.OnError(namespace, func(socket socketio.Conn, err error) {
		h.logger.Warn("socket error", logging.Err(err))
	})

	h.server.OnDisconnect(namespace, func(socket socketio.Conn, reason string) {
		h.clients.Add(-1)
		h.logger.Info("client disconnected", "socket_id", socket.ID(), "reason", reason)
	})

	return h
}

// Start runs the socket.io event loop in the background.
func (h *Hub) Start() {
	go func() {
		if err := h.server.Serve(); err != nil {
			h.logger.Error("socketio serve failed", logging.Err(err))
		}
	}()
}

// Close stops the socket.io server.
func (h *Hub) Close() error {
	return h.server.Close()
}

// Handler is mounted at /socket.io/.
func (h *Hub) Handler() http.Handler {
	return h.server
}

// Clients returns the number of connected sockets.
func (h *Hub) Clients() int64 {
	return h.clients.Load()
}

// NotifyStatus emits status to the watchers of the mission and to the namespace.
func (h *Hub) NotifyStatus(status mission.Status) {
	h.server.BroadcastToRoom(namespace, status.ID, EventMissionStatus, status)
	h.server.BroadcastToNamespace(namespace, EventMissionsUpdated, status)
}
