// Package llm defines the model provider contract and the circuit breaker
// that wraps every provider call, generalized from the teacher's
// internal/llm package (its production sources did not survive
// distillation; the API below is reconstructed from
// circuit_breaker_test.go's mocked Provider and assertions).
package llm

import (
	"context"

	"aimw.dev/aimw/internal/models"
)

// Provider is anything capable of completing a request against a backing
// model endpoint, streaming or not.
type Provider interface {
	Complete(ctx context.Context, req *models.Request) (*models.ProviderResponse, error)
	CompleteStream(ctx context.Context, req *models.Request) (<-chan *models.ProviderResponse, error)
	HealthCheck() error
	GetCapabilities() *models.Capability
	ValidateConfig(config map[string]interface{}) (bool, []string)
}
