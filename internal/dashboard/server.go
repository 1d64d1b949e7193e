package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"streamflow/config"
	"streamflow/internal/metrics"
	"streamflow/logger"
	"streamflow/models"
)

const component = "dashboard"

// StatusProvider is the read-only view of a streaming session the status
// endpoint reports on.
type StatusProvider interface {
	IsActive() bool
	GetQOS() models.QOS
	Subscriptions() []*models.Subscription
}

// Server hosts the JSON status API for a running session.
type Server struct {
	cfg           config.DashboardConfig
	log           *logger.Log
	status        StatusProvider
	started       time.Time
	metricStore   *metricStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log, status StatusProvider) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if status == nil {
		return nil, errors.New("dashboard requires a status provider")
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.MaxLogs <= 0 {
		cfg.MaxLogs = 200
	}
	if cfg.MaxMetrics <= 0 {
		cfg.MaxMetrics = 200
	}

	metricStore := newMetricStore(cfg.MaxMetrics)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.MaxLogs)
	log.AddHook(logStore)

	return &Server{
		cfg:           cfg,
		log:           log,
		status:        status,
		started:       time.Now(),
		metricStore:   metricStore,
		logStore:      logStore,
		metricHandler: handlerID,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.WithComponent(component).WithFields(logger.Fields{"address": s.cfg.Address}).Info("status dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/api/status", s.handleStatus)

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.query(metricQuery{
			Component: c.Query("component"),
			Service:   c.Query("service"),
			Name:      c.Query("name"),
		})
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"service":   m.Service,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/metrics/services", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"services": s.metricStore.serviceTotals()})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		records := s.logStore.query(c.Query("component"), c.Query("service"))
		c.JSON(http.StatusOK, gin.H{"logs": records})
	})

	return router, nil
}

func (s *Server) handleStatus(c *gin.Context) {
	subs := s.status.Subscriptions()
	counts := make(map[string]int)
	for _, sub := range subs {
		counts[sub.ServiceName()]++
	}
	services := make([]string, 0, len(counts))
	for name := range counts {
		services = append(services, name)
	}
	sort.Strings(services)

	c.JSON(http.StatusOK, gin.H{
		"active":             s.status.IsActive(),
		"qos":                s.status.GetQOS().String(),
		"subscription_count": len(subs),
		"services":           services,
		"per_service":        counts,
		"uptime_seconds":     int64(time.Since(s.started).Seconds()),
		"report":             logger.Snapshot(),
	})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:9000"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "9000"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "9000")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "9000")
	}

	return addr
}
