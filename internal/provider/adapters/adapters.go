// Package adapters wires the concrete vendor integrations into a
// provider registry.
package adapters

import (
	"kycflow/internal/platform/config"
	"kycflow/internal/provider"
	"kycflow/internal/provider/adapters/alpha"
	"kycflow/internal/provider/adapters/beta"
	"kycflow/internal/provider/adapters/delta"
	"kycflow/internal/provider/adapters/gamma"
	"kycflow/pkg/domain"
)

// BuildRegistry constructs the four production adapters from their
// default configs and the secrets loaded from the environment.
func BuildRegistry(secrets map[domain.VendorID]config.VendorSecrets) (*provider.Registry, error) {
	configs := provider.DefaultConfigs()
	registry := provider.NewRegistry()

	register := func(cfg provider.VendorConfig, adapter provider.Adapter) error {
		return registry.Register(cfg, adapter)
	}

	alphaSecrets := secrets[domain.VendorAlpha]
	if err := register(configs[domain.VendorAlpha],
		alpha.New(configs[domain.VendorAlpha], alphaSecrets.APIKey, alphaSecrets.WebhookSecret, alphaSecrets.BaseURL)); err != nil {
		return nil, err
	}

	betaSecrets := secrets[domain.VendorBeta]
	if err := register(configs[domain.VendorBeta],
		beta.New(configs[domain.VendorBeta], betaSecrets.APIKey, betaSecrets.WebhookSecret, betaSecrets.BaseURL)); err != nil {
		return nil, err
	}

	gammaSecrets := secrets[domain.VendorGamma]
	if err := register(configs[domain.VendorGamma],
		gamma.New(configs[domain.VendorGamma], gammaSecrets.APIKey, gammaSecrets.BaseURL)); err != nil {
		return nil, err
	}

	deltaSecrets := secrets[domain.VendorDelta]
	if err := register(configs[domain.VendorDelta],
		delta.New(configs[domain.VendorDelta], deltaSecrets.APIKey, deltaSecrets.WebhookSecret, deltaSecrets.BaseURL)); err != nil {
		return nil, err
	}

	return registry, nil
}
