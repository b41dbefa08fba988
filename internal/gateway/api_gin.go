package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lhdbsbz/flowbridge/internal/session"
)

const apiPrefix = "/api"

func (s *Server) apiAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authenticate(requestToken(c)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) registerAPIRoutes(engine *gin.Engine) {
	api := engine.Group(apiPrefix, s.apiAuthMiddleware())
	api.GET("/health", s.ginAPIHealth)
	api.GET("/sessions", s.ginAPISessions)
	api.DELETE("/sessions/:userId", s.ginAPIEndSession)
	api.GET("/jobs", s.ginAPIJobs)
	api.POST("/jobs/:id/run", s.ginAPIRunJob)
}

func (s *Server) ginAPIHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.startAt).String(),
		"sessions": s.Bridge.Store().Len(),
		"monitors": s.Conns.List(),
	})
}

// sessionView is an entry plus its timer state.
type sessionView struct {
	session.Entry
	NoReplyPending bool `json:"noReplyPending"`
}

func (s *Server) sessionsView() gin.H {
	entries := s.Bridge.Store().List()
	views := make([]sessionView, 0, len(entries))
	for _, e := range entries {
		views = append(views, sessionView{Entry: e, NoReplyPending: s.Bridge.PendingNoReply(e.UserID)})
	}
	return gin.H{"sessions": views, "count": len(views)}
}

func (s *Server) ginAPISessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionsView())
}

func (s *Server) ginAPIEndSession(c *gin.Context) {
	userID := c.Param("userId")
	found, err := s.Bridge.EndSession(c.Request.Context(), userID)
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	resp := gin.H{"ended": true, "userId": userID, "archived": err == nil}
	if err != nil {
		resp["archiveError"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ginAPIJobs(c *gin.Context) {
	if s.Jobs == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []any{}, "runs": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.Jobs.List(), "runs": s.Jobs.Runs()})
}

func (s *Server) ginAPIRunJob(c *gin.Context) {
	if s.Jobs == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no scheduler"})
		return
	}
	if err := s.Jobs.RunNow(c.Param("id")); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
