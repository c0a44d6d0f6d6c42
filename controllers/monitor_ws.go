package controller

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"repa/monitor"
)

// MonitorHub fans analysis status events out to the websocket connections of
// the user they belong to. It satisfies the pipeline's Notifier interface.
type MonitorHub struct {
	mu     sync.RWMutex
	conns  map[uint]map[*websocket.Conn]bool
	logger *logrus.Logger
}

func NewMonitorHub(logger *logrus.Logger) *MonitorHub {
	return &MonitorHub{
		conns:  make(map[uint]map[*websocket.Conn]bool),
		logger: logger,
	}
}

func (h *MonitorHub) register(userID uint, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]bool)
	}
	h.conns[userID][c] = true
}

func (h *MonitorHub) unregister(userID uint, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], c)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// AnalysisUpdate pushes one status event to every open connection of the
// user. A dead connection just logs; the read loop cleans it up.
func (h *MonitorHub) AnalysisUpdate(userID uint, event monitor.StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		if err := c.WriteJSON(event); err != nil {
			h.logger.WithError(err).WithField("user_id", userID).Debug("failed to push status event")
		}
	}
}

// HandleMonitorWS returns the websocket handler streaming analysis status to
// the authenticated user. The JWT middleware runs before the upgrade, so the
// user id is already in Locals.
func HandleMonitorWS(hub *MonitorHub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		userID, ok := c.Locals("userID").(uint)
		if !ok {
			return
		}

		hub.register(userID, c)
		defer hub.unregister(userID, c)

		// Drain client frames until the peer goes away; the hub only pushes.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}
}
