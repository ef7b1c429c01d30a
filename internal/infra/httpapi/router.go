package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const requestIDHeader = "X-Request-ID"

// NewRouter builds the gin engine with request id, logging and recovery.
func NewRouter(h *Handler, logger *logrus.Entry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger(logger.WithField("component", "http")))

	r.GET("/healthz", h.Health)
	r.GET("/metrics", h.Prometheus)
	if h.Audio != nil {
		r.GET("/audio/:token", h.AudioDownload)
	}

	api := r.Group("/api")
	api.Use(requireServices(h))
	{
		api.GET("/pipeline", h.PipelineStatus)
		api.POST("/pipeline/start", h.StartPipeline)
		api.POST("/pipeline/stop", h.StopPipeline)
		api.POST("/pipeline/run", h.RunPipeline)
		api.POST("/feedback/generate", h.GenerateFeedback)
		api.POST("/distribution/send", h.SendFeedback)
		api.POST("/roster/sync", h.SyncRoster)
		api.GET("/courses/:course/items", h.ListItems)
		api.GET("/discussions", h.ListDiscussions)
		api.PATCH("/discussions/:id", h.UpdateDiscussion)
		api.GET("/discussions/:id/reports", h.ListReports)
		api.PUT("/discussions/:id/speakers/:label", h.ConfirmSpeaker)
		api.PATCH("/reports/:id", h.UpdateReport)
	}
	return r
}

func requireServices(h *Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Trigger == nil || h.Pipeline == nil || h.Feedback == nil || h.Distribution == nil ||
			h.Roster == nil || h.Review == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, Envelope{Error: &APIError{Code: "unavailable", Message: "services not ready"}})
			return
		}
		c.Next()
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(logger *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
			"ip":         c.ClientIP(),
			"request_id": c.GetString("request_id"),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("http_request")
			return
		}
		entry.Info("http_request")
	}
}
