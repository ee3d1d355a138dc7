package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sidecarhq/agentctl/internal/proactive"
	"github.com/sidecarhq/agentctl/internal/store"
	"github.com/sidecarhq/agentctl/internal/toolpolicy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// storeAPI is the subset of *store.Store the control API needs. Declaring
// it here (rather than depending on the concrete type) keeps handlers
// testable against a fake (§4.2).
type storeAPI interface {
	CreateJob(req store.NewJobRequest) (*store.Job, error)
	GetJob(id string) (*store.Job, error)
	GetEvents(id string, cursor int) ([]store.JobEvent, int, int, error)
	ApproveJob(id string) (*store.Job, error)
	RequestAbort(id string) (*store.Job, error)
	ClaimNextQueuedJob(workerID string) (*store.Job, error)
	AppendWorkerEvent(id string, event store.JobEvent) error
	GetAbortRequested(id string) (bool, error)
	CompleteJob(id string, resultText string) (*store.Job, error)
	FailJob(id string, errMsg string) (*store.Job, error)
	MarkAborted(id string, reason string) (*store.Job, error)
	SetPaused(flag bool, reason string) (store.AdminState, error)
	GetAdminState() (store.AdminState, error)
	ListProactiveRuns(limit int, triggerKey string) ([]*store.Job, error)
}

// proactiveAPI is the subset of *proactive.Runtime the control API needs.
type proactiveAPI interface {
	Config() proactive.Config
	UpsertHeartbeatRule(rule proactive.HeartbeatRule) error
	DeleteHeartbeatRule(id string) error
	UpsertCronRule(rule proactive.CronRule) error
	DeleteCronRule(id string) error
	TriggerHeartbeatNow(id string) (proactive.EnqueueResult, error)
	TriggerCronNow(id string) (proactive.EnqueueResult, error)
	HandleWebhook(id, providedSecret string, payload []byte) (proactive.EnqueueResult, error)
	ListPendingDeliveries(limit int) ([]*proactive.JobDelivery, error)
	AckDelivery(jobID, receipt string) error
}

// policyBox holds the tool policy engine behind a lock. The engine is fixed
// at construction: no control API route calls set to replace it.
type policyBox struct {
	mu  sync.RWMutex
	eng *toolpolicy.Engine
}

func newPolicyBox(eng *toolpolicy.Engine) *policyBox {
	return &policyBox{eng: eng}
}

func (b *policyBox) get() *toolpolicy.Engine {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.eng
}

func (b *policyBox) set(eng *toolpolicy.Engine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eng = eng
}

// Config configures a Server.
type Config struct {
	Store         storeAPI
	Proactive     proactiveAPI
	Policy        *toolpolicy.Engine
	GatewayToken  string
	WorkerToken   string
	RequestBudget time.Duration // per-request timeout, default 60s (§4.2)
}

// Server is the Control HTTP API (C2): a single mux serving the
// gateway-token, worker-token, and unauthenticated webhook endpoint groups
// in §6.3.
type Server struct {
	store     storeAPI
	proactive proactiveAPI
	policy    *policyBox
	validator *schemaValidator
	limiter   *classLimiter
	tracer    trace.Tracer

	gatewayToken string
	workerToken  string
	budget       time.Duration

	mux *http.ServeMux
}

// NewServer builds a Server with its routes registered.
func NewServer(cfg Config) *Server {
	budget := cfg.RequestBudget
	if budget <= 0 {
		budget = 60 * time.Second
	}
	s := &Server{
		store:        cfg.Store,
		proactive:    cfg.Proactive,
		policy:       newPolicyBox(cfg.Policy),
		validator:    newSchemaValidator(),
		limiter:      newClassLimiter(20, 40),
		tracer:       otel.Tracer("agentctl/httpapi"),
		gatewayToken: cfg.GatewayToken,
		workerToken:  cfg.WorkerToken,
		budget:       budget,
	}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// wrap applies the per-request timeout and an otel span around handler,
// matching the ambient tracing called out in SPEC_FULL §B.
func (s *Server) wrap(spanName string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.budget)
		defer cancel()
		ctx, span := s.tracer.Start(ctx, spanName)
		defer span.End()
		handler(w, r.WithContext(ctx))
	}
}

func (s *Server) gateway(class, spanName string, h http.HandlerFunc) http.HandlerFunc {
	return s.limiter.middleware(class, requireBearer(s.gatewayToken, s.wrap(spanName, h)))
}

func (s *Server) worker(class, spanName string, h http.HandlerFunc) http.HandlerFunc {
	return s.limiter.middleware(class, requireBearer(s.workerToken, s.wrap(spanName, h)))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/jobs", s.gateway("jobs", "jobs.create", s.handleCreateJob))
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.gateway("jobs", "jobs.get", s.handleGetJob))
	s.mux.HandleFunc("GET /v1/jobs/{id}/events", s.gateway("jobs", "jobs.events", s.handleGetEvents))
	s.mux.HandleFunc("POST /v1/jobs/{id}/approve", s.gateway("jobs", "jobs.approve", s.handleApprove))
	s.mux.HandleFunc("POST /v1/jobs/{id}/abort", s.gateway("jobs", "jobs.abort", s.handleAbortJob))

	s.mux.HandleFunc("GET /v1/admin/state", s.limiter.middleware("admin", requireEitherBearer(s.gatewayToken, s.workerToken, s.wrap("admin.state", s.handleAdminState))))
	s.mux.HandleFunc("POST /v1/admin/pause", s.gateway("admin", "admin.pause", s.handleAdminPause))
	s.mux.HandleFunc("POST /v1/admin/resume", s.gateway("admin", "admin.resume", s.handleAdminResume))

	s.mux.HandleFunc("GET /v1/proactive/state", s.gateway("proactive", "proactive.state", s.handleProactiveState))
	s.mux.HandleFunc("GET /v1/proactive/config", s.gateway("proactive", "proactive.config", s.handleProactiveConfig))
	s.mux.HandleFunc("GET /v1/proactive/runs", s.gateway("proactive", "proactive.runs", s.handleProactiveRuns))
	s.mux.HandleFunc("POST /v1/proactive/rules/heartbeat", s.gateway("proactive", "proactive.rules.heartbeat.upsert", s.handleUpsertHeartbeat))
	s.mux.HandleFunc("DELETE /v1/proactive/rules/heartbeat/{id}", s.gateway("proactive", "proactive.rules.heartbeat.delete", s.handleDeleteHeartbeat))
	s.mux.HandleFunc("POST /v1/proactive/rules/cron", s.gateway("proactive", "proactive.rules.cron.upsert", s.handleUpsertCron))
	s.mux.HandleFunc("DELETE /v1/proactive/rules/cron/{id}", s.gateway("proactive", "proactive.rules.cron.delete", s.handleDeleteCron))
	s.mux.HandleFunc("GET /v1/proactive/deliveries/pending", s.gateway("proactive", "proactive.deliveries.pending", s.handlePendingDeliveries))
	s.mux.HandleFunc("POST /v1/proactive/deliveries/{id}/ack", s.gateway("proactive", "proactive.deliveries.ack", s.handleAckDelivery))

	s.mux.HandleFunc("GET /v1/tools", s.gateway("tools", "tools.list", s.handleToolsList))
	s.mux.HandleFunc("POST /v1/tools/invoke", s.gateway("tools", "tools.invoke", s.handleToolsInvoke))

	s.mux.HandleFunc("POST /v1/workers/claim", s.worker("workers", "workers.claim", s.handleClaim))
	s.mux.HandleFunc("POST /v1/workers/{id}/events", s.worker("workers", "workers.events", s.handlePostEvent))
	s.mux.HandleFunc("GET /v1/workers/{id}/heartbeat", s.worker("workers", "workers.heartbeat", s.handleHeartbeat))
	s.mux.HandleFunc("POST /v1/workers/{id}/complete", s.worker("workers", "workers.complete", s.handleComplete))
	s.mux.HandleFunc("POST /v1/workers/{id}/fail", s.worker("workers", "workers.fail", s.handleFail))
	s.mux.HandleFunc("POST /v1/workers/{id}/aborted", s.worker("workers", "workers.aborted", s.handleAborted))

	s.mux.HandleFunc("POST /v1/proactive/webhooks/{webhookId}", s.limiter.middleware("webhooks", s.wrap("proactive.webhook", s.handleWebhook)))
}
