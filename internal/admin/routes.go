package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/qmuxd/internal/call"
	"github.com/danmuck/qmuxd/internal/inject"
	"github.com/danmuck/qmuxd/internal/messaging"
	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/proxy"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// CallView is one active call as served by /calls.
type CallView struct {
	ID        uint8          `json:"id"`
	State     call.State     `json:"state"`
	Direction call.Direction `json:"direction"`
	Mode      call.Mode      `json:"mode"`
	Number    string         `json:"number,omitempty"`
	Alerting  bool           `json:"alerting"`
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

type callRequest struct {
	Number string `json:"number"`
}

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/stats", s.stats)
	r.GET("/calls", s.calls)
	r.GET("/clients", s.clients)

	ctl := r.Group("/")
	if s.deps.Auth != nil {
		ctl.Use(RequireToken(s.deps.Auth))
	}
	ctl.POST("/debug/service/:id", s.enableTrace)
	ctl.DELETE("/debug/service/:id", s.disableTrace)
	ctl.DELETE("/debug/service", s.disableAllTrace)
	ctl.POST("/debug/cb/:mode", s.requestCB)
	ctl.DELETE("/debug/cb", s.stopCB)

	ctl.POST("/simulate/call", s.simulateCall)
	ctl.DELETE("/simulate/call", s.endCall)

	ctl.POST("/messages", s.queueMessage)
	ctl.POST("/messages/notify/:index", s.notifyStored)
	ctl.POST("/messages/stuck/:index", s.markStuck)

	ctl.POST("/record/next", s.recordNext)
	ctl.DELETE("/record/next", s.recordNext)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.Started).String(),
		"service":   "qmuxd",
		"version":   Version,
		"suspended": s.deps.Shared.TransceiverSuspended(),
		"simulated": s.deps.Shared.CallSimulation(),
	})
}

func (s *Server) stats(c *gin.Context) {
	out := gin.H{
		"rmnet": snapshot(s.deps.Rmnet),
		"gps":   snapshot(s.deps.Location),
	}
	if s.deps.Audio != nil {
		out["audio"] = s.deps.Audio.Stats()
	}
	if s.deps.Messages != nil {
		out["queued_messages"] = s.deps.Messages.QueueLen()
	}
	c.JSON(http.StatusOK, out)
}

func snapshot(st *proxy.Stats) proxy.StatsSnapshot {
	if st == nil {
		return proxy.StatsSnapshot{}
	}
	return st.Snapshot()
}

func (s *Server) calls(c *gin.Context) {
	if s.deps.Calls == nil {
		c.JSON(http.StatusOK, gin.H{"calls": []CallView{}})
		return
	}
	slots := s.deps.Calls.Snapshot()
	views := make([]CallView, 0, len(slots))
	for _, sl := range slots {
		views = append(views, CallView{
			ID:        sl.ID,
			State:     sl.State,
			Direction: sl.Direction,
			Mode:      sl.Mode,
			Number:    sl.PhoneNumber(),
			Alerting:  sl.Alerting,
		})
	}
	c.JSON(http.StatusOK, gin.H{"calls": views, "status": s.deps.Calls.Status()})
}

func (s *Server) clients(c *gin.Context) {
	if s.deps.Clients == nil {
		c.JSON(http.StatusOK, gin.H{"services": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": s.deps.Clients.Snapshot()})
}

func (s *Server) enableTrace(c *gin.Context) {
	svc, ok := s.traceTarget(c)
	if !ok {
		return
	}
	s.deps.Tracer.EnableTrace(svc)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "traced": traceNames(s.deps.Tracer.Traced())})
}

func (s *Server) disableTrace(c *gin.Context) {
	svc, ok := s.traceTarget(c)
	if !ok {
		return
	}
	s.deps.Tracer.DisableTrace(svc)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "traced": traceNames(s.deps.Tracer.Traced())})
}

func (s *Server) disableAllTrace(c *gin.Context) {
	if s.deps.Tracer == nil {
		unavailable(c, "tracer")
		return
	}
	s.deps.Tracer.DisableAllTrace()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "traced": []string{}})
}

func (s *Server) traceTarget(c *gin.Context) (protocol.ServiceID, bool) {
	if s.deps.Tracer == nil {
		unavailable(c, "tracer")
		return 0, false
	}
	svc, err := protocol.ParseServiceID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return svc, true
}

func traceNames(ids []protocol.ServiceID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func (s *Server) requestCB(c *gin.Context) {
	if s.deps.Injector == nil {
		unavailable(c, "injector")
		return
	}
	mode, err := inject.ParseCBMode(c.Param("mode"))
	if err != nil || mode == inject.CBOff {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be single, random or stream"})
		return
	}
	s.deps.Injector.RequestCB(mode)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "mode": mode.String()})
}

func (s *Server) stopCB(c *gin.Context) {
	if s.deps.Injector == nil {
		unavailable(c, "injector")
		return
	}
	s.deps.Injector.StopCB()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": inject.CBOff.String()})
}

func (s *Server) simulateCall(c *gin.Context) {
	if s.deps.Injector == nil {
		unavailable(c, "injector")
		return
	}
	var req callRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if len(req.Number) > call.MaxPhoneNumberLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "number too long"})
		return
	}
	if s.deps.Shared.CallSimulation() || s.deps.Injector.CallPending() {
		c.JSON(http.StatusConflict, gin.H{"error": "simulated call already in progress"})
		return
	}
	s.deps.Injector.RequestCall(req.Number)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) endCall(c *gin.Context) {
	if s.deps.Injector == nil {
		unavailable(c, "injector")
		return
	}
	s.deps.Injector.EndCall()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) queueMessage(c *gin.Context) {
	if s.deps.Messages == nil {
		unavailable(c, "messaging")
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	if err := s.deps.Messages.QueueText(req.Text); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, messaging.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		log.Warn().Err(err).Msg("admin.messages queue failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "queued": s.deps.Messages.QueueLen()})
}

func (s *Server) notifyStored(c *gin.Context) {
	index, ok := s.storageIndex(c)
	if !ok {
		return
	}
	s.deps.Messages.NotifyStored(index)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "index": index})
}

func (s *Server) markStuck(c *gin.Context) {
	index, ok := s.storageIndex(c)
	if !ok {
		return
	}
	s.deps.Messages.MarkStuck(index)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "index": index})
}

func (s *Server) storageIndex(c *gin.Context) (uint32, bool) {
	if s.deps.Messages == nil {
		unavailable(c, "messaging")
		return 0, false
	}
	n, err := strconv.ParseUint(c.Param("index"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a storage index"})
		return 0, false
	}
	return uint32(n), true
}

func (s *Server) recordNext(c *gin.Context) {
	if s.deps.Calls == nil {
		unavailable(c, "call machine")
		return
	}
	enabled := c.Request.Method == http.MethodPost
	s.deps.Calls.RecordNextCall(enabled)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "record_next": enabled})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not configured"})
}
