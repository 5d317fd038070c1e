package cmd

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/config"
	"github.com/MrDeox/Autogs/internal/evolution/deliberate"
	"github.com/MrDeox/Autogs/internal/evolution/engine"
	"github.com/MrDeox/Autogs/internal/evolution/evaluator"
	"github.com/MrDeox/Autogs/internal/evolution/generator"
	"github.com/MrDeox/Autogs/internal/evolution/journal"
	"github.com/MrDeox/Autogs/internal/evolution/memory"
	"github.com/MrDeox/Autogs/internal/evolution/sandbox"
	"github.com/MrDeox/Autogs/internal/evolution/screener"
	"github.com/MrDeox/Autogs/internal/evolution/store"
	"github.com/MrDeox/Autogs/internal/evolution/testsource"
	"github.com/MrDeox/Autogs/internal/llmclient"
)

// pipelineComponents holds every initialized collaborator of the cycle
// engine so commands can shut them down in one place.
type pipelineComponents struct {
	Engine  *engine.Engine
	Store   *store.Store
	Memory  memory.Store
	Journal *journal.Journal

	closers []func()
}

// Shutdown releases held resources in reverse initialization order.
func (pc *pipelineComponents) Shutdown() {
	for i := len(pc.closers) - 1; i >= 0; i-- {
		pc.closers[i]()
	}
}

// initializePipeline handles dependency injection for the evolution
// pipeline: seed loading, memory backend selection, the oracle client
// and the cycle engine itself.
func initializePipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipelineComponents, error) {
	pc := &pipelineComponents{}

	seed, err := loadSeed(cfg.Evolution.SeedPath)
	if err != nil {
		return nil, err
	}
	pc.Store = store.New(logger, seed)

	mem, err := initializeMemory(ctx, cfg.Memory, cfg.Evolution, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize episodic memory: %w", err)
	}
	pc.Memory = mem
	pc.closers = append(pc.closers, mem.Close)

	jrnl, err := journal.New(logger, cfg.Journal.Dir)
	if err != nil {
		pc.Shutdown()
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}
	pc.Journal = jrnl

	oracle, err := llmclient.New(cfg.Oracle, logger)
	if err != nil {
		pc.Shutdown()
		return nil, fmt.Errorf("failed to initialize oracle client: %w", err)
	}
	if oracle != nil {
		pc.closers = append(pc.closers, func() {
			if cerr := oracle.Close(); cerr != nil {
				logger.Warn("Error closing oracle client", zap.Error(cerr))
			}
		})
	}

	tests, err := testsource.New(logger, cfg.Evolution.RegressionDir)
	if err != nil {
		pc.Shutdown()
		return nil, fmt.Errorf("failed to initialize test source: %w", err)
	}

	pc.Engine = engine.New(logger, cfg.Evolution, engine.Deps{
		Store:       pc.Store,
		Screener:    screener.New(logger),
		Sandbox:     sandbox.New(logger, cfg.Sandbox.Timeout, cfg.Sandbox.MaxSteps, cfg.Sandbox.Parallelism),
		Tests:       tests,
		Evaluator:   evaluator.New(logger),
		Memory:      mem,
		Deliberator: deliberate.New(logger, cfg.Evolution, mem),
		Generator:   generator.New(logger, oracle),
		Journal:     jrnl,
	})
	return pc, nil
}

// loadSeed returns the organism source the revision chain starts from.
// An unset path falls back to the built-in seed.
func loadSeed(path string) (string, error) {
	if path == "" {
		return store.DefaultSeed, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read seed %s: %w", path, err)
	}
	if err := sandbox.CheckSyntax(string(raw)); err != nil {
		return "", fmt.Errorf("seed %s is not valid organism source: %w", path, err)
	}
	return string(raw), nil
}

// initializeMemory selects the configured episodic memory backend.
func initializeMemory(ctx context.Context, mc config.MemoryConfig, ec config.EvolutionConfig, logger *zap.Logger) (memory.Store, error) {
	opts := memory.Options{
		MaxEpisodes:   mc.MaxEpisodes,
		MinSampleSize: ec.MinSampleSize,
		RecencyWindow: ec.RecencyWindow,
	}
	switch mc.Backend {
	case "postgres":
		return memory.NewPostgres(ctx, logger, mc.PostgresDSN, opts)
	default:
		return memory.NewInMemory(logger, opts), nil
	}
}
