package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/api/schemas"
	"github.com/MrDeox/Autogs/internal/config"
)

// New builds the oracle client for the configured provider. Provider
// "none" disables the oracle entirely: the returned client is nil and
// the candidate generator falls back to its template strategy on every
// cycle.
func New(cfg config.OracleConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case "openrouter":
		return NewOpenRouterClient(cfg, logger), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %q", cfg.Provider)
	}
}
