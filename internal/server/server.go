package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/totem-tech/messaging/internal/config"
	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/faucet"
	"github.com/totem-tech/messaging/internal/notification"
	"github.com/totem-tech/messaging/internal/records"
	"github.com/totem-tech/messaging/internal/relay"
	"github.com/totem-tech/messaging/internal/session"
	"github.com/totem-tech/messaging/internal/user"
)

// Pinger reports storage reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the domain services the event router dispatches to.
type Services struct {
	Directory   *user.Directory
	Relay       *relay.Relay
	Notifier    *notification.Center
	Faucet      *faucet.Gate
	Companies   *records.CompanyService
	Projects    *records.ProjectService
	TimeKeeping *records.TimeKeepingService
}

// Server is the websocket front end.
type Server struct {
	cfg      config.ServerConfig
	rateCfg  config.RateLimitConfig
	services Services
	sessions *session.Registry
	hub      *Hub
	handlers map[string]handlerFunc
	storage  Pinger
	logger   *zap.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// New creates the server. The hub must be the same one wired into the chat
// relay and the notification center.
func New(
	cfg config.ServerConfig,
	rateCfg config.RateLimitConfig,
	services Services,
	sessions *session.Registry,
	hub *Hub,
	storage Pinger,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cfg:      cfg,
		rateCfg:  rateCfg,
		services: services,
		sessions: sessions,
		hub:      hub,
		storage:  storage,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.handlers = s.routes()

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start runs the listener until Shutdown or a listen error.
func (s *Server) Start() error {
	s.logger.Info("server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections and drains existing ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports process liveness and storage reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.storage.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		s.logger.Warn("health check failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleWS upgrades the connection and runs its read loop to completion.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(uuid.New().String(), ws)
	s.hub.add(conn)
	s.logger.Debug("connection opened", zap.String("connId", conn.id))

	go s.writeLoop(conn)
	s.readLoop(conn)

	s.hub.remove(conn)
	s.services.Directory.Disconnect(context.Background(), conn.id)
	s.logger.Debug("connection closed", zap.String("connId", conn.id))
}

// writeLoop drains the connection's outbound queue onto the socket.
func (s *Server) writeLoop(conn *Conn) {
	for {
		select {
		case msg := <-conn.send:
			if err := conn.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.close()
				return
			}
		case <-conn.closed:
			return
		}
	}
}

// readLoop decodes and dispatches inbound requests until the socket dies.
// Each connection gets its own token bucket.
func (s *Server) readLoop(conn *Conn) {
	limiter := rate.NewLimiter(rate.Limit(s.rateCfg.EventsPerSecond), s.rateCfg.Burst)

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		var req requestEnvelope
		if err := json.Unmarshal(raw, &req); err != nil {
			s.reply(conn, 0, nil, errors.NewInvalidPayload("envelope", "malformed request"))
			continue
		}

		if !limiter.Allow() {
			s.reply(conn, req.ID, nil, errors.NewRateLimited())
			continue
		}

		handler, ok := s.handlers[req.Event]
		if !ok {
			s.reply(conn, req.ID, nil, errors.NewUnknownEvent(req.Event))
			continue
		}

		results, err := s.dispatch(handler, conn, req)
		s.reply(conn, req.ID, results, err)
	}
}

// dispatch runs one handler, converting panics into internal errors so a bad
// request cannot kill the connection goroutine.
func (s *Server) dispatch(handler handlerFunc, conn *Conn, req requestEnvelope) (results []interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in event handler",
				zap.String("event", req.Event), zap.Any("panic", r))
			results, err = nil, errors.NewInternal("request failed", nil)
		}
	}()
	return handler(context.Background(), conn, req.Args)
}

// reply sends one response envelope. Server-fault errors are logged with their
// cause; the client only ever sees the masked message.
func (s *Server) reply(conn *Conn, id uint64, results []interface{}, err error) {
	resp := responseEnvelope{ID: id, Results: results}
	if resp.Results == nil {
		resp.Results = []interface{}{}
	}
	if err != nil {
		resp.Error = string(errors.CodeOf(err))
		var coded *errors.CodedError
		if errors.As(err, &coded) {
			resp.Message = coded.ClientMessage()
		} else {
			resp.Message = "something went wrong, please try again later"
		}
		if !errors.IsClientFault(err) {
			s.logger.Error("request failed", zap.Uint64("requestId", id), zap.Error(err))
		}
	}

	msg, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		s.logger.Error("failed to encode response", zap.Error(marshalErr))
		return
	}
	if !conn.enqueue(msg) {
		s.logger.Warn("dropping reply for slow connection", zap.String("connId", conn.id))
	}
}
