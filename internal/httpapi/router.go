package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cdr-analytics/internal/auth"
	"cdr-analytics/internal/config"
	"cdr-analytics/internal/models"
	"cdr-analytics/internal/report"
)

// Database is the part of the pgx pool the handlers touch directly.
type Database interface {
	Ping(ctx context.Context) error
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type RecordPager interface {
	Page(ctx context.Context, f models.CdrFilter) (models.PagedResult[models.CallRecord], error)
}

type ReportRunner interface {
	Execute(ctx context.Context, req report.Request) (*report.Result, error)
	FilePath(name string) (string, error)
}

type ExecutionReader interface {
	Get(ctx context.Context, id uuid.UUID) (models.ReportExecution, error)
	Recent(ctx context.Context, n int) ([]models.ReportExecution, error)
}

type AuditReader interface {
	Pending(ctx context.Context, limit int) ([]models.DeliveryAudit, error)
	Statistics(ctx context.Context, rng models.DateRange) (models.DeliveryStatistics, error)
}

type Reconciler interface {
	ReconcileEach(ctx context.Context, tokens []string) ([]models.Outcome, models.DeliveryStatistics)
}

// Server bundles the dependencies of the HTTP API.
type Server struct {
	Config     *config.Config
	DB         Database
	Verifier   auth.Verifier
	Records    RecordPager
	Stats      report.Aggregator
	Reports    ReportRunner
	Executions ExecutionReader
	Audits     AuditReader
	Deliveries Reconciler
}

func NewRouter(s Server) http.Handler {
	cfg := s.Config
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware)
	r.Use(RecoverMiddleware)

	r.Get("/health", HealthHandler(s.DB))
	r.Get("/version", VersionHandler())
	r.Method(http.MethodGet, "/metrics", MetricsHandler())

	// CDR ingest
	r.With(CDRTokenAuth(cfg.Auth.IngestToken)).Post("/ingest/cdr", CDRIngestHandler(s.DB, cfg.Location()))

	r.Route("/api", func(api chi.Router) {
		api.Use(Authenticate(s.Verifier, cfg.Auth.APIKeys))
		admin := RequireRole(cfg.Auth.AdminRole)

		api.Get("/cdr", CDRQueryHandler(s.Records))

		api.Route("/reports", func(rep chi.Router) {
			rep.Get("/answered-rate", AnsweredRateHandler(s.Stats))
			rep.Get("/location-stats", LocationStatsHandler(s.Stats))
			rep.With(admin).Post("/email", EmailReportHandler(s.Reports))

			rep.Get("/executions", ExecutionsHandler(s.Executions))
			rep.Get("/executions/{id}/file", ExecutionFileHandler(s.Executions, s.Reports))

			rep.Get("/deliveries/stats", DeliveryStatsHandler(s.Audits))
			rep.With(admin).Post("/deliveries/reconcile", ReconcileHandler(s.Audits, s.Deliveries))
		})
	})

	return r
}
