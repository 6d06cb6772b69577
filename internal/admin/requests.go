package admin

import (
	dErrors "kycflow/pkg/domain-errors"
)

// TokenRequest exchanges the operator shared secret for a bearer
// token. The secret never appears in logs or responses.
type TokenRequest struct {
	Secret string `json:"secret"`
}

// Validate implements httputil.Validatable.
func (r *TokenRequest) Validate() error {
	if r.Secret == "" {
		return dErrors.New(dErrors.CodeBadRequest, "secret is required")
	}
	return nil
}
