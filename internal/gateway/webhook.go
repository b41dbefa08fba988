package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lhdbsbz/flowbridge/internal/config"
	"github.com/lhdbsbz/flowbridge/internal/whatsapp"
)

// Webhook paths. The /whatsapp prefix is kept for deployments registered
// against the older route.
var webhookPaths = []string{"/webhook", "/whatsapp/webhook"}

func (s *Server) registerWebhookRoutes(engine *gin.Engine) {
	for _, p := range webhookPaths {
		engine.GET(p, s.ginWebhookVerify)
		engine.POST(p, s.ginWebhookEvent)
	}
}

func (s *Server) ginWebhookVerify(c *gin.Context) {
	var q whatsapp.VerifyQuery
	_ = c.ShouldBindQuery(&q)

	res := whatsapp.Verify(q, config.Get().WhatsApp.VerifyToken)
	if !res.Verified {
		slog.Warn("webhook not verified", "mode", q.Mode)
		c.Status(http.StatusForbidden)
		return
	}
	slog.Info("webhook verified")
	c.String(http.StatusOK, res.Challenge)
}

func (s *Server) ginWebhookEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "error | unreadable body"})
		return
	}

	in, err := whatsapp.ParseWebhook(body)
	if err != nil {
		if errors.Is(err, whatsapp.ErrUnrecognizedPayload) {
			slog.Warn("unrecognized webhook payload", "error", err)
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "error | unexpected body"})
			return
		}
		slog.Error("webhook parse failed", "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "error | " + err.Error()})
		return
	}

	if in.Action != nil {
		if in.MessageID != "" && s.Dedup != nil && s.Dedup.IsDuplicate(in.MessageID) {
			slog.Debug("duplicate webhook delivery", "message", in.MessageID, "from", in.SenderID)
		} else {
			s.runTurn(*in)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// runTurn answers the webhook first and runs the turn in the background.
func (s *Server) runTurn(in whatsapp.Inbound) {
	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.TurnTimeout)
		defer cancel()
		if err := s.Bridge.Handle(ctx, in); err != nil {
			slog.Error("turn failed", "user", in.SenderID, "message", in.MessageID, "error", err)
		}
	}()
}
