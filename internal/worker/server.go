package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowq/internal/config"
	"flowq/internal/domain"
	"flowq/internal/infra/redisq"
	"flowq/internal/saga"
	"flowq/internal/usecase"

	"github.com/rs/zerolog/log"
)

type Config struct {
	ConsumerName string
	MaxCount     int64
	BlockTimeout time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func Run(cfg Config) error {
	appCfg := config.Load()
	cli := redisq.New(appCfg.Redis)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Init(ctx); err != nil {
		return err
	}

	recovery := redisq.NewRecovery(cli, appCfg.Redis.RecoveryInterval)
	go func() {
		if err := recovery.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Ctx(ctx).Error().Err(err).Msg("recovery loop stopped with error")
		}
	}()

	orch := saga.New(cli)
	registry := saga.NewRegistry()
	registerBuiltinSteps(registry)

	consumer := usecase.Consumer{
		Q:            cli,
		ConsumerName: cfg.ConsumerName,
		MaxCount:     cfg.MaxCount,
		BlockTimeout: cfg.BlockTimeout,
		BaseBackoff:  cfg.BaseBackoff,
		MaxBackoff:   cfg.MaxBackoff,
	}

	handler := func(ctx context.Context, t domain.Task) error {
		switch t.Type {
		case "saga.run":
			return runSagaTask(ctx, orch, registry, t)
		case "demo.fail":
			return errors.New("simulated failure")
		default:
			log.Ctx(ctx).Info().Msgf("processed task %s type=%s priority=%s", t.ID, t.Type, t.Priority)
			return nil
		}
	}

	return consumer.Run(ctx, handler)
}

// runSagaTask drives a saga whose steps arrive as serializable refs in the
// task payload, resolved against the local registry.
func runSagaTask(ctx context.Context, orch *saga.Orchestrator, registry *saga.Registry, t domain.Task) error {
	rawSteps, ok := t.Payload["steps"]
	if !ok {
		return fmt.Errorf("task %s: payload has no steps", t.ID)
	}
	raw, err := json.Marshal(rawSteps)
	if err != nil {
		return fmt.Errorf("task %s: read steps: %w", t.ID, err)
	}
	var refs []saga.StepRef
	if err := json.Unmarshal(raw, &refs); err != nil {
		return fmt.Errorf("task %s: decode step refs: %w", t.ID, err)
	}
	if len(refs) == 0 {
		return fmt.Errorf("task %s: empty step list", t.ID)
	}
	steps, err := registry.Resolve(refs)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}

	initial, _ := t.Payload["context"].(map[string]any)
	exec, err := orch.Execute(ctx, t.ID, steps, initial)
	if err != nil {
		return fmt.Errorf("saga %s ended %s: %w", exec.ID, exec.State, err)
	}
	log.Ctx(ctx).Info().Str("saga_id", exec.ID).Int("steps", len(exec.StepResults)).Msg("saga completed")
	return nil
}

func registerBuiltinSteps(registry *saga.Registry) {
	_ = registry.Register("log", func(params map[string]any) (saga.Step, error) {
		msg, _ := params["message"].(string)
		step := saga.NewStep(stepName(params, "log"), func(ctx context.Context, sagaCtx map[string]any) (any, error) {
			log.Ctx(ctx).Info().Msg(msg)
			return msg, nil
		})
		return step, nil
	})
	_ = registry.Register("sleep", func(params map[string]any) (saga.Step, error) {
		seconds, _ := params["seconds"].(float64)
		step := saga.NewStep(stepName(params, "sleep"), func(ctx context.Context, sagaCtx map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(seconds * float64(time.Second))):
				return seconds, nil
			}
		})
		return step, nil
	})
}

func stepName(params map[string]any, fallback string) string {
	if name, _ := params["name"].(string); name != "" {
		return name
	}
	return fallback
}
