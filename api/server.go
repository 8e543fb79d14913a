// Package api exposes the session held by a credits.Reconciler over HTTP
// JSON. It serves one installation, so it is meant to run next to the app
// (a device-side daemon or a development server), not as a shared backend.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/assets"
	"github.com/xraph/credits/auth"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/generation"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/purchase"
)

// DefaultRequestTimeout bounds each request.
const DefaultRequestTimeout = 30 * time.Second

// Server serves session state, the ledger and purchases.
type Server struct {
	r        *credits.Reconciler
	v        *credits.Verifier
	gen      *credits.Generator
	catalog  *assets.Catalog
	gatherer prometheus.Gatherer
	tokens   TokenValidator
	logger   *slog.Logger
	timeout  time.Duration
}

// TokenValidator resolves a session token to its account. *local.Provider
// implements it.
type TokenValidator interface {
	Validate(token string) (id.AccountID, error)
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithGenerator serves g on POST /generate.
func WithGenerator(g *credits.Generator) Option {
	return func(s *Server) { s.gen = g }
}

// WithCatalog serves template and upload listings from c.
func WithCatalog(c *assets.Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// WithTokenValidator requires a bearer token for the session account on
// routes that change or reveal registered account data.
func WithTokenValidator(v TokenValidator) Option {
	return func(s *Server) { s.tokens = v }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewServer creates a Server. v may be nil, in which case purchase routes
// are not mounted.
func NewServer(r *credits.Reconciler, v *credits.Verifier, opts ...Option) *Server {
	s := &Server{
		r:       r,
		v:       v,
		logger:  r.Logger(),
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", s.handleHealth)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.handleState)
		r.Post("/guest", s.handleMaterialize)
		r.Post("/sign-up", s.handleSignUp)
		r.Post("/sign-in", s.handleSignIn)
		r.Post("/sign-out", s.handleSignOut)
		r.With(s.requireToken).Put("/profile", s.handleUpdateProfile)
		r.With(s.requireToken).Delete("/", s.handleDeleteAccount)
	})

	r.Get("/balance", s.handleBalance)
	r.Get("/entitlement", s.handleEntitlement)
	r.Get("/history", s.handleHistory)

	r.Route("/purchases", func(r chi.Router) {
		r.Get("/", s.handleListPurchases)
		if s.v != nil {
			r.Get("/products", s.handleProducts)
			r.With(s.requireToken).Post("/verify", s.handleVerify)
			r.With(s.requireToken).Post("/restore", s.handleRestore)
		}
	})

	if s.gen != nil {
		r.Post("/generate", s.handleGenerate)
	}

	if s.catalog != nil {
		r.Get("/templates", s.handleTemplates)
		r.With(s.requireToken).Get("/uploads", s.handleUploads)
	}

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// ──────────────────────────────────────────────────
// Session
// ──────────────────────────────────────────────────

type stateResponse struct {
	Phase   account.Phase    `json:"phase"`
	Account *account.Account `json:"account,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	if err := s.r.Store().Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	st := s.r.Current()
	writeJSON(w, http.StatusOK, stateResponse{Phase: st.Phase, Account: st.Account, Error: st.Error()})
}

func (s *Server) handleMaterialize(w http.ResponseWriter, req *http.Request) {
	a, err := s.r.MaterializeGuestAccount(req.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type sessionResponse struct {
	Account *account.Account `json:"account"`
	Token   string           `json:"token,omitempty"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, req *http.Request) {
	var body credentialsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.writeError(w, errors.Join(credits.ErrInvalidInput, err))
		return
	}
	a, err := s.r.SignUp(req.Context(), body.Email, body.Password, account.Profile{DisplayName: body.DisplayName})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSession(w, req, http.StatusCreated, a)
}

func (s *Server) handleSignIn(w http.ResponseWriter, req *http.Request) {
	var body credentialsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.writeError(w, errors.Join(credits.ErrInvalidInput, err))
		return
	}
	a, err := s.r.SignIn(req.Context(), body.Email, body.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSession(w, req, http.StatusOK, a)
}

func (s *Server) writeSession(w http.ResponseWriter, req *http.Request, status int, a *account.Account) {
	token, err := s.r.SessionToken(req.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, status, sessionResponse{Account: a, Token: token})
}

func (s *Server) handleSignOut(w http.ResponseWriter, req *http.Request) {
	a, err := s.r.ReconcileOnSignOut(req.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, req *http.Request) {
	var p account.Profile
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		s.writeError(w, errors.Join(credits.ErrInvalidInput, err))
		return
	}
	a, err := s.r.UpdateProfile(req.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, req *http.Request) {
	if err := s.r.DeleteAccount(req.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ──────────────────────────────────────────────────
// Balance and ledger
// ──────────────────────────────────────────────────

func (s *Server) handleBalance(w http.ResponseWriter, req *http.Request) {
	n, err := s.r.Balance(req.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": n})
}

func (s *Server) handleEntitlement(w http.ResponseWriter, req *http.Request) {
	cost := credits.DefaultGenerationCost
	if raw := req.URL.Query().Get("cost"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, errors.Join(credits.ErrInvalidInput, err))
			return
		}
		cost = n
	}
	res, err := s.r.Entitled(req.Context(), cost)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit, offset, err := pagination(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	opts := ledger.ListOpts{Limit: limit, Offset: offset}
	if raw := req.URL.Query().Get("kind"); raw != "" {
		opts.Kind = ledger.Kind(raw)
		if !opts.Kind.Valid() {
			s.writeError(w, credits.ErrInvalidKind)
			return
		}
	}

	entries, err := s.r.History(req.Context(), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ──────────────────────────────────────────────────
// Purchases
// ──────────────────────────────────────────────────

func (s *Server) handleListPurchases(w http.ResponseWriter, req *http.Request) {
	limit, offset, err := pagination(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	records, err := s.r.Purchases(req.Context(), purchase.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleProducts(w http.ResponseWriter, req *http.Request) {
	packs, err := s.v.Products(req.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, packs)
}

func (s *Server) handleVerify(w http.ResponseWriter, req *http.Request) {
	var receipt purchase.Receipt
	if err := json.NewDecoder(req.Body).Decode(&receipt); err != nil {
		s.writeError(w, errors.Join(credits.ErrInvalidInput, err))
		return
	}

	packs, err := s.v.Products(req.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	pack, ok := billing.FindPack(packs, receipt.ProductID)
	if !ok {
		s.writeError(w, credits.ErrProductNotFound)
		return
	}

	rec, err := s.v.VerifyAndCredit(req.Context(), receipt, pack)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleRestore(w http.ResponseWriter, req *http.Request) {
	records, err := s.v.RestorePurchases(req.Context())
	if err != nil && len(records) == 0 {
		s.writeError(w, err)
		return
	}
	if err != nil {
		s.logger.Warn("partial purchase restore", "error", err)
	}
	writeJSON(w, http.StatusOK, records)
}

// ──────────────────────────────────────────────────
// Generation and assets
// ──────────────────────────────────────────────────

type generateRequest struct {
	TemplateID string `json:"template_id"`
	MimeType   string `json:"mime_type"`
	Prompt     string `json:"prompt,omitempty"`
	// Image is base64 in JSON.
	Image []byte `json:"image"`
}

type generateResponse struct {
	ImageURL  string `json:"image_url,omitempty"`
	Image     []byte `json:"image,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Charged   int64  `json:"charged"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, req *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.writeError(w, errors.Join(credits.ErrInvalidInput, err))
		return
	}

	res, err := s.gen.Generate(req.Context(), generation.Request{
		TemplateID: body.TemplateID,
		Image:      body.Image,
		MimeType:   body.MimeType,
		Prompt:     body.Prompt,
	})
	if err != nil && res == nil {
		s.writeError(w, err)
		return
	}

	out := generateResponse{
		ImageURL:  res.ImageURL,
		Image:     res.Image,
		ElapsedMS: res.Elapsed.Milliseconds(),
		Charged:   s.gen.Cost(),
	}
	if err != nil {
		// The image was produced but the debit failed.
		s.logger.Error("generation not charged", "error", err)
		out.Charged = 0
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTemplates(w http.ResponseWriter, req *http.Request) {
	objects, err := s.catalog.Templates(req.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, objects)
}

func (s *Server) handleUploads(w http.ResponseWriter, req *http.Request) {
	st := s.r.Current()
	if !st.IsReady() {
		s.writeError(w, credits.ErrNoSession)
		return
	}
	objects, err := s.catalog.Uploads(req.Context(), st.Account.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, objects)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// requireToken checks the bearer token names the session account. It is a
// no-op without a TokenValidator.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.tokens == nil {
			next.ServeHTTP(w, req)
			return
		}

		raw, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			s.writeError(w, credits.ErrAuthenticationRequired)
			return
		}
		accountID, err := s.tokens.Validate(raw)
		if err != nil {
			s.writeError(w, errors.Join(credits.ErrAuthenticationRequired, err))
			return
		}
		st := s.r.Current()
		if !st.IsReady() || st.Account.ID != accountID {
			s.writeError(w, credits.ErrAuthenticationRequired)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func pagination(req *http.Request) (limit, offset int, err error) {
	q := req.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return 0, 0, errors.Join(credits.ErrInvalidInput, errors.New("invalid limit"))
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, errors.Join(credits.ErrInvalidInput, errors.New("invalid offset"))
		}
	}
	return limit, offset, nil
}

// statusFor maps a credits error to an HTTP status.
func statusFor(err error) int {
	switch {
	case credits.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, credits.ErrInvalidInput),
		errors.Is(err, credits.ErrZeroDelta),
		errors.Is(err, credits.ErrInvalidKind):
		return http.StatusBadRequest
	case errors.Is(err, credits.ErrNoSession),
		errors.Is(err, credits.ErrAuthenticationRequired),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, credits.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, credits.ErrDuplicatePurchase),
		errors.Is(err, credits.ErrPurchaseLocked),
		errors.Is(err, credits.ErrConflict),
		errors.Is(err, credits.ErrAccountMerged),
		errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, credits.ErrPurchasePending):
		return http.StatusAccepted
	case errors.Is(err, credits.ErrVerificationFailed),
		errors.Is(err, credits.ErrGenerationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, credits.ErrNetwork):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message":   err.Error(),
			"retryable": credits.IsRetryable(err),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck,gosec // client disconnects are not actionable
}
