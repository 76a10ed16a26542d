package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"driftbottle/internal/config"
	"driftbottle/internal/scheduler"
	"driftbottle/internal/store"
)

// Server 对外只读的运维接口：健康检查、运行状态和指标
type Server struct {
	engine *gin.Engine
	st     *store.Store
	sched  *scheduler.Scheduler
}

func New(cfg *config.Config, st *store.Store, sched *scheduler.Scheduler, log zerolog.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	s := &Server{engine: r, st: st, sched: sched}
	r.GET("/healthz", s.healthz)
	r.GET("/api/status", s.status)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) status(c *gin.Context) {
	bottles, err := s.st.CountBottles(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "统计失败"})
		return
	}
	comments, err := s.st.CountAllComments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "统计失败"})
		return
	}
	state, remaining := s.sched.Status()
	c.JSON(http.StatusOK, gin.H{
		"bottles":            bottles,
		"comments":           comments,
		"broadcast_state":    state.String(),
		"next_broadcast_sec": remaining,
	})
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http 请求")
	}
}
