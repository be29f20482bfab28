// Package http serves the finboard JSON REST API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"finboard/internal/cache"
	"finboard/internal/core"
	"finboard/internal/daily"
	"finboard/internal/extract"
	"finboard/internal/log"
	"finboard/internal/middleware/ratelimit"
	"finboard/internal/middleware/security"
	"finboard/internal/middleware/trace"
	"finboard/internal/services"
)

// Transactions is the transaction CRUD the API exposes.
type Transactions interface {
	ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) error
}

// Merger deletes a confirmed expense/reimbursement pair.
type Merger interface {
	Merge(ctx context.Context, pair daily.MergePair, confirmed bool) error
}

// DayViewer builds the day-grouped month view.
type DayViewer interface {
	Days(ctx context.Context, f core.TransactionFilter) ([]services.Day, error)
}

// Summaries computes month totals and budget usage.
type Summaries interface {
	MonthOverview(ctx context.Context, year, month int) (core.MonthOverview, error)
	BudgetUsage(ctx context.Context, budgetID int64, year, month int) (core.BudgetUsage, error)
}

// ReferenceStore holds banks, cards, budgets, categories and subscriptions.
type ReferenceStore interface {
	Ping(ctx context.Context) error

	ListBanks(ctx context.Context) ([]core.Bank, error)
	CreateBank(ctx context.Context, b core.Bank) (core.Bank, error)
	DeleteBank(ctx context.Context, id int64) error

	ListCards(ctx context.Context) ([]core.Card, error)
	CreateCard(ctx context.Context, c core.Card) (core.Card, error)
	DeleteCard(ctx context.Context, id int64) error

	ListBudgets(ctx context.Context) ([]core.Budget, error)
	CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error)
	DeleteBudget(ctx context.Context, id int64) error

	ListCategories(ctx context.Context) ([]core.Category, error)
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	ListSubscriptions(ctx context.Context) ([]core.Subscription, error)
	CreateSubscription(ctx context.Context, s core.Subscription) (core.Subscription, error)
	DeleteSubscription(ctx context.Context, id int64) error
}

// Deps are the services behind the routes. Extractor may be nil, in which
// case the extraction routes answer 503.
type Deps struct {
	Transactions Transactions
	Merger       Merger
	Days         DayViewer
	Summary      Summaries
	Reference    ReferenceStore
	Extractor    extract.Extractor
}

// Options tune the server.
type Options struct {
	Zone            daily.Zone
	CacheSize       int
	CacheTTL        time.Duration
	WritesPerMinute int
	// TrustedProxies are CIDRs whose forwarded headers are honoured.
	TrustedProxies []string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Zone:            daily.Guayaquil,
		CacheSize:       100,
		CacheTTL:        5 * time.Minute,
		WritesPerMinute: 60,
	}
}

type Server struct {
	http.Server
	deps   Deps
	zone   daily.Zone
	logger *log.Logger
	now    func() time.Time

	// Encoded month reads keyed by route and filter. Any write clears it.
	monthCache   *cache.LRUCache[[]byte]
	cacheManager *cache.Manager

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions().CacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultOptions().CacheTTL
	}
	if opts.WritesPerMinute <= 0 {
		opts.WritesPerMinute = DefaultOptions().WritesPerMinute
	}

	s := &Server{
		deps:         deps,
		zone:         opts.Zone,
		logger:       logger,
		now:          time.Now,
		monthCache:   cache.NewLRUCache[[]byte](opts.CacheSize, opts.CacheTTL),
		cacheManager: cache.NewManager(logger),
		limiter:      ratelimit.NewLimiter(ratelimit.WritesConfig(opts.WritesPerMinute)),
		detector:     security.NewDetector(),
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)
	s.cacheManager.Register(s.monthCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.detector.Middleware(logger)(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /transactions", s.handleListTransactions)
	mux.HandleFunc("GET /transactions/days", s.handleDays)
	mux.HandleFunc("POST /transactions", s.handleCreateTransaction)
	mux.HandleFunc("POST /transactions/merge", s.handleMerge)
	mux.HandleFunc("GET /transactions/{id}", s.handleGetTransaction)
	mux.HandleFunc("PUT /transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /transactions/{id}", s.handleDeleteTransaction)

	ref := s.deps.Reference
	mux.HandleFunc("GET /banks", listHandler(ref.ListBanks))
	mux.HandleFunc("POST /banks", createHandler(s, "banks", ref.CreateBank))
	mux.HandleFunc("DELETE /banks/{id}", deleteHandler(s, "banks", ref.DeleteBank))
	mux.HandleFunc("GET /cards", listHandler(ref.ListCards))
	mux.HandleFunc("POST /cards", createHandler(s, "cards", ref.CreateCard))
	mux.HandleFunc("DELETE /cards/{id}", deleteHandler(s, "cards", ref.DeleteCard))
	mux.HandleFunc("GET /budgets", listHandler(ref.ListBudgets))
	mux.HandleFunc("POST /budgets", createHandler(s, "budgets", ref.CreateBudget))
	mux.HandleFunc("DELETE /budgets/{id}", deleteHandler(s, "budgets", ref.DeleteBudget))
	mux.HandleFunc("GET /categories", listHandler(ref.ListCategories))
	mux.HandleFunc("POST /categories", createHandler(s, "categories", ref.CreateCategory))
	mux.HandleFunc("DELETE /categories/{id}", deleteHandler(s, "categories", ref.DeleteCategory))
	mux.HandleFunc("GET /subscriptions", listHandler(ref.ListSubscriptions))
	mux.HandleFunc("POST /subscriptions", createHandler(s, "subscriptions", ref.CreateSubscription))
	mux.HandleFunc("DELETE /subscriptions/{id}", deleteHandler(s, "subscriptions", ref.DeleteSubscription))

	mux.HandleFunc("GET /budgets/{id}/usage", s.handleBudgetUsage)
	mux.HandleFunc("GET /summary", s.handleSummary)

	mux.HandleFunc("POST /extract/image", s.handleExtractImage)
	mux.HandleFunc("POST /extract/email", s.handleExtractEmail)
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// cached serves the encoded result of load under key, filling the month
// cache on a miss unless a write landed while load ran.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, key string, load func(context.Context) (any, error)) {
	ctx := r.Context()
	if data, ok := s.monthCache.Get(key); ok {
		log.FromContext(ctx).DebugContext(ctx, "Month cache hit", "key", key)
		NewJSONResponse().Header("X-Cache", "hit").Raw(data).Write(w)
		return
	}

	gen := s.monthCache.Generation()
	v, err := load(ctx)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	resp := NewJSONResponse().Header("X-Cache", "miss").Body(v)
	data, err := resp.Encode()
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	if !s.monthCache.SetIfCurrent(key, data, gen) {
		log.FromContext(ctx).DebugContext(ctx, "Month cache fill skipped after write", "key", key)
	}
	resp.Raw(data).Write(w)
}

// invalidate drops every cached month read after a write.
func (s *Server) invalidate(ctx context.Context) {
	n := s.monthCache.Size()
	s.monthCache.Clear()
	if n > 0 {
		log.FromContext(ctx).DebugContext(ctx, "Month cache cleared", "entries", n)
	}
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.FromContext(ctx).WithComponent(log.ComponentRateLimit).WarnContext(ctx, "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, retry later").Write(w)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Reference.Ping(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		ErrorResponse(http.StatusServiceUnavailable, "storage unavailable").Write(w)
		return
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}
