// Package admin exposes the operator surface: token minting and the
// vendor roster with live budget and performance counters.
package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"kycflow/internal/provider"
	"kycflow/internal/stats"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/httputil"
	"kycflow/pkg/requestcontext"
)

// Handler wires the admin endpoints. The providers listing must be
// mounted behind middleware.RequireAdmin; RegisterProtected keeps that
// split explicit at the router.
type Handler struct {
	tokens     *TokenService
	secretHash []byte
	registry   *provider.Registry
	stats      stats.Store
	logger     *slog.Logger
	clock      func() time.Time
}

// New constructs an admin handler. secretHash is the bcrypt hash of
// the operator shared secret, loaded from configuration.
func New(tokens *TokenService, secretHash string, registry *provider.Registry,
	statsStore stats.Store, logger *slog.Logger) *Handler {
	return &Handler{
		tokens:     tokens,
		secretHash: []byte(secretHash),
		registry:   registry,
		stats:      statsStore,
		logger:     logger,
		clock:      time.Now,
	}
}

// Register mounts the unauthenticated token exchange.
func (h *Handler) Register(r chi.Router) {
	r.Post("/kyc/admin/token", h.HandleToken)
}

// RegisterProtected mounts the endpoints that require a bearer token.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Get("/kyc/admin/providers", h.HandleListProviders)
}

// HandleToken handles POST /kyc/admin/token. The operator secret is
// verified against the configured bcrypt hash; a match mints a
// short-lived bearer token.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[TokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := bcrypt.CompareHashAndPassword(h.secretHash, []byte(req.Secret)); err != nil {
		h.logger.WarnContext(ctx, "admin token exchange refused",
			"request_id", requestID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid admin secret"))
		return
	}

	token, err := h.tokens.Issue(h.clock())
	if err != nil {
		h.logger.ErrorContext(ctx, "admin token mint failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "admin token issued", "request_id", requestID)
	httputil.WriteJSON(w, http.StatusOK, &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokens.TTL().Seconds()),
	})
}

// HandleListProviders handles GET /kyc/admin/providers.
func (h *Handler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rows, err := h.stats.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "listing vendor stats failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	byVendor := make(map[string]*stats.VendorStats, len(rows))
	for _, row := range rows {
		byVendor[row.Vendor.String()] = row
	}

	entries := h.registry.All()
	providers := make([]*ProviderResponse, 0, len(entries))
	for _, entry := range entries {
		vendor := entry.Config.Vendor
		providers = append(providers, FromEntry(entry, h.registry.HealthOf(vendor), byVendor[vendor.String()]))
	}

	httputil.WriteJSON(w, http.StatusOK, &ProvidersListResponse{
		Providers: providers,
		Total:     len(providers),
	})
}
