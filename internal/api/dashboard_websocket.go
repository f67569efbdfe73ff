package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/craftywatch/hibernate/internal/monitor"
	"github.com/craftywatch/hibernate/pkg/logger"
)

var dashboardUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// statusPushInterval is how often connected dashboard clients receive a
// fresh snapshot, independent of how often the monitor itself ticks.
const statusPushInterval = 2 * time.Second

// DashboardWebSocket streams the same payload GET /status exposes to any
// number of connected clients, so an operator's dashboard sees transitions
// without polling.
type DashboardWebSocket struct {
	monitor *monitor.Monitor

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	shutdown   chan struct{}
}

// NewDashboardWebSocket builds a stream backed by mon's Status snapshots.
func NewDashboardWebSocket(mon *monitor.Monitor) *DashboardWebSocket {
	return &DashboardWebSocket{
		monitor:    mon,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		shutdown:   make(chan struct{}),
	}
}

// Run drives client registration and the periodic broadcast; call it in its
// own goroutine.
func (ws *DashboardWebSocket) Run() {
	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-ws.register:
			ws.mu.Lock()
			ws.clients[client] = true
			ws.mu.Unlock()
			go ws.send(client, ws.monitor.Status())

		case client := <-ws.unregister:
			ws.mu.Lock()
			if _, ok := ws.clients[client]; ok {
				delete(ws.clients, client)
				client.Close()
			}
			ws.mu.Unlock()

		case <-ticker.C:
			ws.broadcast(ws.monitor.Status())

		case <-ws.shutdown:
			return
		}
	}
}

// HandleConnection upgrades GET /status/stream to a WebSocket.
func (ws *DashboardWebSocket) HandleConnection(c *gin.Context) {
	conn, err := dashboardUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("dashboard: upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	ws.register <- conn
	go ws.readLoop(conn)
}

func (ws *DashboardWebSocket) readLoop(conn *websocket.Conn) {
	defer func() { ws.unregister <- conn }()
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (ws *DashboardWebSocket) broadcast(status []monitor.ServerStatus) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	for client := range ws.clients {
		go ws.send(client, status)
	}
}

func (ws *DashboardWebSocket) send(conn *websocket.Conn, status []monitor.ServerStatus) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(gin.H{"servers": status}); err != nil {
		ws.unregister <- conn
	}
}

// Shutdown closes every connected client and stops Run.
func (ws *DashboardWebSocket) Shutdown() {
	close(ws.shutdown)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for client := range ws.clients {
		client.Close()
	}
}
