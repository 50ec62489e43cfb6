package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/officina-erp/officina-erp/internal/billing"
	"github.com/officina-erp/officina-erp/internal/cashbook"
	"github.com/officina-erp/officina-erp/internal/deposit"
	"github.com/officina-erp/officina-erp/internal/workorder"
)

// RouteMounter attaches a feature's routes to a router.
type RouteMounter interface {
	MountRoutes(chi.Router)
}

// RouterConfig aggregates the handlers exposed over HTTP.
type RouterConfig struct {
	Logger *slog.Logger
	Config *Config

	WorkOrders *workorder.Handler
	Billing    *billing.Handler
	Deposits   *deposit.Handler
	Cashbook   *cashbook.Handler
	Reports    RouteMounter
	Jobs       RouteMounter
}

// NewRouter assembles the HTTP routing tree.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(MiddlewareStack(MiddlewareConfig{Logger: cfg.Logger, Config: cfg.Config})...)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(httprate.LimitByIP(300, time.Minute))

		if cfg.WorkOrders != nil {
			cfg.WorkOrders.MountRoutes(api)
		}
		if cfg.Billing != nil {
			cfg.Billing.MountRoutes(api)
		}
		if cfg.Deposits != nil {
			cfg.Deposits.MountRoutes(api)
		}
		if cfg.Cashbook != nil {
			cfg.Cashbook.MountRoutes(api)
		}
		if cfg.Reports != nil {
			api.Route("/reports", func(rr chi.Router) {
				cfg.Reports.MountRoutes(rr)
			})
		}
		if cfg.Jobs != nil {
			api.Route("/jobs", func(jr chi.Router) {
				cfg.Jobs.MountRoutes(jr)
			})
		}
	})

	return r
}
