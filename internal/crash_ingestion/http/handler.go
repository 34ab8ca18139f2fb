package http

import (
	"net/http"
	"time"

	"github.com/crashstats/antenna/internal/crash_ingestion/payload"
	"github.com/crashstats/antenna/internal/crash_ingestion/service"
	"github.com/crashstats/antenna/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler accepts breakpad crash report submissions.
type Handler struct {
	extractor *payload.Extractor
	submitter *service.Submitter
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func New(extractor *payload.Extractor, submitter *service.Submitter, m *metrics.Metrics, log *zap.Logger) *Handler {
	return &Handler{
		extractor: extractor,
		submitter: submitter,
		metrics:   m,
		log:       log,
	}
}

// Register registers the submission route.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/submit", h.Submit)
}

// Submit handles POST /submit. The client always gets a text/plain answer:
// the crash id, or Discarded=1 when the crash was rejected.
func (h *Handler) Submit(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()
	defer func() {
		h.metrics.Timing(ctx, "on_post.time", time.Since(start))
	}()

	raw, dumps := h.extractor.Extract(c.Request)

	res, err := h.submitter.Submit(ctx, raw, dumps)
	if err != nil {
		h.log.Error("failed to queue crash",
			zap.String("crash_id", res.CrashID),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
		c.Data(http.StatusServiceUnavailable, "text/plain", []byte("Service Unavailable"))
		return
	}

	c.Data(http.StatusOK, "text/plain", []byte(res.Body))
}
