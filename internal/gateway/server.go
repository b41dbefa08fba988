package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lhdbsbz/flowbridge/internal/bridge"
	"github.com/lhdbsbz/flowbridge/internal/config"
	"github.com/lhdbsbz/flowbridge/internal/cron"
	"github.com/lhdbsbz/flowbridge/internal/message"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const defaultTurnTimeout = 2 * time.Minute

// Server is the flowbridge HTTP gateway.
type Server struct {
	Bridge *bridge.Service
	Dedup  *message.Dedup
	Jobs   *cron.Scheduler // optional; enables /api/jobs
	Conns  *ConnManager

	// TurnTimeout bounds one webhook-triggered turn.
	TurnTimeout time.Duration

	httpSrv *http.Server
	startAt time.Time
	turns   sync.WaitGroup
}

// NewServer wires the bridge's events into the monitor feed.
func NewServer(svc *bridge.Service, dedup *message.Dedup, jobs *cron.Scheduler) *Server {
	s := &Server{
		Bridge:      svc,
		Dedup:       dedup,
		Jobs:        jobs,
		Conns:       NewConnManager(),
		TurnTimeout: defaultTurnTimeout,
		startAt:     time.Now(),
	}
	svc.SetEventSink(func(evt bridge.Event) {
		s.Conns.Broadcast(evt.Type, evt)
	})
	return s
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.ginHealth)
	engine.GET("/ws", s.ginWebSocket)
	s.registerWebhookRoutes(engine)
	s.registerAPIRoutes(engine)
	return engine
}

// Start listens until ctx is cancelled, then drains in-flight turns.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)

	port := config.Get().Gateway.Port
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("flowbridge gateway starting", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	s.Wait()
	return nil
}

// Wait blocks until every turn started by a webhook has finished.
func (s *Server) Wait() {
	s.turns.Wait()
}

func (s *Server) ginHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.startAt).String(),
		"sessions": s.Bridge.Store().Len(),
		"clients":  s.Conns.ClientCount(),
	})
}

func (s *Server) ginWebSocket(c *gin.Context) {
	if !s.authenticate(requestToken(c)) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := &Conn{
		ID:          fmt.Sprintf("conn_%d", time.Now().UnixNano()),
		RemoteAddr:  c.ClientIP(),
		WS:          ws,
		ConnectedAt: time.Now(),
	}
	s.Conns.Add(conn)
	defer s.Conns.Remove(conn.ID)

	slog.Info("monitor connected", "id", conn.ID, "remote", conn.RemoteAddr)
	conn.Send(EventFrame(EventHello, 0, map[string]any{
		"connId":   conn.ID,
		"protocol": 1,
	}))

	for {
		frame, err := ReadFrame(ws)
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				conn.Send(ResErr("", "INVALID_FRAME", err.Error()))
				continue
			}
			slog.Debug("monitor disconnected", "id", conn.ID, "error", err)
			return
		}
		if frame.Type != "req" {
			continue
		}

		switch frame.Method {
		case MethodPing:
			conn.Send(ResOK(frame.ID, gin.H{"pong": time.Now()}))
		case MethodSessionsList:
			conn.Send(ResOK(frame.ID, s.sessionsView()))
		default:
			conn.Send(ResErr(frame.ID, "UNKNOWN_METHOD", "use HTTP /api for management; only ping and sessions.list are supported over WebSocket"))
		}
	}
}

func requestToken(c *gin.Context) string {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}
	return token
}

func (s *Server) authenticate(token string) bool {
	expected := config.Get().Gateway.Auth.Token
	if expected == "" {
		return true // no auth configured
	}
	return token == expected
}
