package bootstrap

import (
	httpapi "github.com/crashstats/antenna/internal/api/http"
	"github.com/crashstats/antenna/internal/api/http/middleware"
	breakpadhttp "github.com/crashstats/antenna/internal/crash_ingestion/http"
	"github.com/crashstats/antenna/internal/crash_ingestion/payload"
	"github.com/crashstats/antenna/internal/crash_ingestion/service"
	"github.com/crashstats/antenna/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterDeps struct {
	ServiceName string
	Version     string
	BaseDir     string
	DumpField   string
	Submitter   *service.Submitter
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware(dep.Log))

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.BaseDir, dep.Submitter, dep.Log)
	healthHandler.RegisterRoutes(r)

	breakpad := breakpadhttp.New(payload.NewExtractor(dep.DumpField, dep.Metrics, dep.Log), dep.Submitter, dep.Metrics, dep.Log)
	breakpad.Register(r)

	return r
}
