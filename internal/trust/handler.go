package trust

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/httputil"
)

// Handler exposes trust profiles over HTTP.
type Handler struct {
	store Store
}

// NewHandler constructs a trust handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Register mounts trust endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/kyc/trust/{subject_id}", h.HandleGet)
}

// ProfileResponse is the HTTP representation of a trust profile.
type ProfileResponse struct {
	SubjectID            string    `json:"subject_id"`
	Level                string    `json:"level"`
	Score                float64   `json:"trust_score"`
	IdentityVerified     bool      `json:"identity_verified"`
	AddressVerified      bool      `json:"address_verified"`
	BiometricVerified    bool      `json:"biometric_verified"`
	ProfessionalVerified bool      `json:"professional_verified"`
	UpdatedAt            time.Time `json:"last_updated"`
}

// HandleGet handles GET /kyc/trust/{subject_id}. Unknown subjects read
// as a BASIC profile rather than an error: every subject has a trust
// level, verified or not.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, err := domain.ParseSubjectID(chi.URLParam(r, "subject_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	profile, err := h.store.Get(ctx, subject)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			httputil.WriteJSON(w, http.StatusOK, &ProfileResponse{
				SubjectID: subject.String(),
				Level:     string(LevelBasic),
			})
			return
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &ProfileResponse{
		SubjectID:            profile.SubjectID.String(),
		Level:                string(profile.Level),
		Score:                profile.Score,
		IdentityVerified:     profile.Components.IdentityVerified,
		AddressVerified:      profile.Components.AddressVerified,
		BiometricVerified:    profile.Components.BiometricVerified,
		ProfessionalVerified: profile.Components.ProfessionalVerified,
		UpdatedAt:            profile.UpdatedAt,
	})
}
