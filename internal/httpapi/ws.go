package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/alerts"
	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/ocpp/wire"
	"github.com/zdex/evcpms/internal/security"
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 1 << 20
	disconnectWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    wire.Subprotocols,
	// Stations are not browsers.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsTransport serializes writes to one websocket. Pings and closes go through
// control frames, which gorilla allows concurrently with writes.
type wsTransport struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	once sync.Once
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	return t.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (t *wsTransport) Close() error {
	var err error
	t.once.Do(func() { err = t.ws.Close() })
	return err
}

// ServeOCPP upgrades a station connection and runs its read loop until the
// socket closes.
func (s *Server) ServeOCPP(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	logger := log.WithField("identity", identity)

	if s.Cfg.RequireStationAuth && !s.authenticateStation(r, identity) {
		logger.Warn("ws: station authentication failed")
		w.Header().Set("WWW-Authenticate", `Basic realm="ocpp"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("ws: upgrade failed")
		return
	}
	ws.SetReadLimit(maxFrameSize)

	version := wire.VersionFromSubprotocol(ws.Subprotocol())
	t := &wsTransport{ws: ws}
	conn := s.Registry.Register(identity, t, version)
	ws.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return nil
	})
	logger = logger.WithField("version", version)
	logger.Info("ws: station connected")

	ctx := context.WithoutCancel(r.Context())
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Info("ws: read failed")
			}
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		conn.MarkAlive()
		s.Router.Handle(ctx, conn, data)
	}
	_ = t.Close()

	// A superseded connection is not a disconnect; the station is back already.
	if !s.Registry.Unregister(conn) {
		return
	}
	logger.Info("ws: station disconnected")
	if s.Alerts == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, disconnectWait)
	defer cancel()
	s.Alerts.Raise(actx, alerts.Event{
		Identity: identity,
		Type:     models.AlertDisconnection,
		Message:  "station " + identity + " disconnected",
	})
}

func (s *Server) authenticateStation(r *http.Request, identity string) bool {
	user, pass, ok := r.BasicAuth()
	if !ok || user != identity || s.Stations == nil {
		return false
	}
	st, err := s.Stations.GetByIdentity(r.Context(), identity)
	if err != nil {
		log.WithError(err).WithField("identity", identity).Error("ws: station lookup failed")
		return false
	}
	return st != nil && st.IsActive && security.VerifySecret(st.PasswordHash, pass)
}
