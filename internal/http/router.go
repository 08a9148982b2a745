package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PolicyRouter/internal/http/api/admin"
	"github.com/router-for-me/PolicyRouter/internal/http/api/admin/handlers"
	"github.com/router-for-me/PolicyRouter/internal/logging"
	"github.com/router-for-me/PolicyRouter/internal/metrics"
)

const policyPrefix = "/policy/v1"

// RouterOptions wires the engine.
type RouterOptions struct {
	Policy         *PolicyHandler
	Admin          admin.Deps
	Credentials    CredentialVerifier // Required when either auth flag is set.
	PolicyAuth     bool
	AdminAuth      bool
	Metrics        *metrics.Collector
	MetricsPath    string // Empty disables the metrics endpoint.
	TrustedProxies []string
}

// NewRouter builds the gin engine serving the policy endpoints, the admin API and health checks.
func NewRouter(opts RouterOptions) (*gin.Engine, error) {
	if opts.Policy == nil {
		return nil, fmt.Errorf("http: policy handler is required")
	}
	if (opts.PolicyAuth || opts.AdminAuth) && opts.Credentials == nil {
		return nil, fmt.Errorf("http: basic auth enabled without a credential store")
	}

	engine := gin.New()
	if errProxies := engine.SetTrustedProxies(opts.TrustedProxies); errProxies != nil {
		return nil, fmt.Errorf("http: trusted proxies: %w", errProxies)
	}
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery(), logging.RequestID(), logging.AccessLog())
	engine.NoMethod(methodNotAllowed)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	policy := engine.Group(policyPrefix)
	if opts.PolicyAuth {
		policy.Use(BasicAuthMiddleware(opts.Credentials, false))
	}
	policy.GET("/service/configuration", opts.Policy.ServiceConfiguration)
	policy.GET("/participant/properties", opts.Policy.ParticipantProperties)

	if opts.Admin.DB != nil {
		healthHandler := handlers.NewHealthHandler(opts.Admin.DB)
		engine.GET("/healthz", healthHandler.Healthz)
	}
	if path := strings.TrimSpace(opts.MetricsPath); path != "" && opts.Metrics != nil {
		engine.GET(path, gin.WrapH(opts.Metrics.Handler()))
	}

	var guard gin.HandlerFunc
	if opts.AdminAuth {
		guard = BasicAuthMiddleware(opts.Credentials, true)
	}
	admin.RegisterAdminRoutes(engine, opts.Admin, guard)
	return engine, nil
}

// methodNotAllowed answers 405; policy endpoints only accept GET.
func methodNotAllowed(c *gin.Context) {
	if c.Writer.Header().Get("Allow") == "" && strings.HasPrefix(c.Request.URL.Path, policyPrefix+"/") {
		c.Header("Allow", http.MethodGet)
	}
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
}
