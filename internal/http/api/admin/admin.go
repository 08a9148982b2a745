package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PolicyRouter/internal/config"
	"github.com/router-for-me/PolicyRouter/internal/http/api/admin/handlers"
	"github.com/router-for-me/PolicyRouter/internal/logic"
	"github.com/router-for-me/PolicyRouter/internal/metrics"
	"github.com/router-for-me/PolicyRouter/internal/rules"
	"github.com/router-for-me/PolicyRouter/internal/settings"
	"gorm.io/gorm"
)

// Deps bundles what the admin handlers need.
type Deps struct {
	DB       *gorm.DB
	Rules    *rules.Store
	Logic    *logic.Service
	Settings *settings.Store
	Schema   *config.Schema
	Metrics  *metrics.Collector
}

// RegisterAdminRoutes registers the admin JSON API under /v0/admin.
// guard, when non-nil, runs before every admin route.
func RegisterAdminRoutes(r *gin.Engine, deps Deps, guard gin.HandlerFunc) {
	if r == nil || deps.DB == nil || deps.Rules == nil {
		return
	}

	admin := r.Group("/v0/admin")
	if guard != nil {
		admin.Use(guard)
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	admin.GET("/healthz", healthHandler.Healthz)

	versionHandler := handlers.NewVersionHandler()
	admin.GET("/version", versionHandler.GetVersion)

	ruleHandler := handlers.NewRuleHandler(deps.Rules, deps.Schema, deps.Metrics)
	admin.GET("/rules", ruleHandler.List)
	admin.POST("/rules", ruleHandler.Create)
	admin.POST("/rules/reorder", ruleHandler.Reorder)
	admin.POST("/rules/resequence", ruleHandler.Resequence)
	admin.GET("/rules/:id", ruleHandler.Get)
	admin.PUT("/rules/:id", ruleHandler.Update)
	admin.DELETE("/rules/:id", ruleHandler.Delete)

	if deps.Logic != nil {
		logicHandler := handlers.NewLogicHandler(deps.Rules, deps.Logic)
		admin.GET("/rules/:id/logic/:kind", logicHandler.Get)
		admin.PUT("/rules/:id/logic/:kind", logicHandler.Put)
		admin.POST("/rules/:id/logic/:kind/evaluate", logicHandler.Evaluate)
		admin.GET("/rules/:id/decisions", logicHandler.Decisions)
	}

	requestLogHandler := handlers.NewRequestLogHandler(deps.DB)
	admin.GET("/logs", requestLogHandler.List)

	if deps.Settings != nil {
		settingsHandler := handlers.NewSettingsHandler(deps.Settings)
		admin.GET("/settings", settingsHandler.List)
		admin.PUT("/settings/:key", settingsHandler.Put)
	}
}
