// Command lalia-example wires every package in this module together into a
// minimal runnable conversation: load configuration, construct the
// transport client for the configured provider, wrap it with budgeting and
// parser-repair, register one native function, and drive a single turn.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/srnnkls/lalia-go/pkg/budget"
	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/config"
	"github.com/srnnkls/lalia-go/pkg/dispatch"
	"github.com/srnnkls/lalia-go/pkg/llm"
	"github.com/srnnkls/lalia-go/pkg/logger"
	"github.com/srnnkls/lalia-go/pkg/parser"
	"github.com/srnnkls/lalia-go/pkg/registry"
	"github.com/srnnkls/lalia-go/pkg/session"
	"github.com/srnnkls/lalia-go/pkg/store"
	"github.com/srnnkls/lalia-go/pkg/telemetry"
)

// describe renders a completion's terminal message for the demo's output:
// plain text for a final assistant reply, the rendered result for a
// function message.
func describe(c chat.Completion) string {
	switch m := c.Message.(type) {
	case *chat.AssistantMessage:
		if m.Content != nil {
			return *m.Content
		}
		return fmt.Sprintf("(function call: %s)", m.FunctionCall.Name)
	case *chat.FunctionMessage:
		return fmt.Sprintf("%s -> %s", m.Name, m.Content)
	default:
		return fmt.Sprintf("(%T)", m)
	}
}

// WeatherArgs is the parameter shape for the example's one native function.
type WeatherArgs struct {
	City string `json:"city"`
}

func lookupWeather(ctx context.Context, args WeatherArgs) (any, error) {
	return fmt.Sprintf("it is mild and overcast in %s", args.City), nil
}

func buildTransport(cfg config.Config, apiKey string) (llm.Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return llm.NewAnthropicClient(apiKey, cfg.Model), nil
	case "openai":
		return llm.NewOpenAIClient(apiKey, cfg.Model, ""), nil
	default:
		return nil, fmt.Errorf("lalia-example: unsupported provider %q", cfg.Provider)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
		logger.G(ctx).WithField("error", err).Warn("lalia-example: invalid log level, keeping default")
	}
	logger.SetLogFormat(cfg.LogFormat)

	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		SamplerType:    cfg.Telemetry.SamplerType,
		SamplerRatio:   cfg.Telemetry.SamplerRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			logger.G(ctx).WithField("error", err).Warn("lalia-example: tracer shutdown failed")
		}
	}()

	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("lalia-example: environment variable %s is not set", cfg.APIKeyEnv)
	}

	transport, err := buildTransport(cfg, apiKey)
	if err != nil {
		return err
	}

	budgeter, err := budget.New(cfg.BudgetThreshold, cfg.CompletionBuffer, cfg.Model)
	if err != nil {
		return err
	}

	completer, ok := transport.(parser.Completer)
	if !ok {
		return fmt.Errorf("lalia-example: %T cannot re-query for argument repair", transport)
	}
	p, err := parser.New(cfg.MaxParserRetries, completer)
	if err != nil {
		return err
	}

	reg := registry.New()
	reg.Register(registry.Reflect[WeatherArgs]("example", "lookup_weather", "Looks up today's weather for a city", lookupWeather))

	client := llm.NewManaged(transport, budgeter, p, reg)
	backend := store.NewMemoryStore()
	sess := session.New(client, reg, dispatch.NewDefault(), backend,
		"You are a terse weather assistant.", nil, cfg.Session)

	completion, err := sess.Call(ctx, "What's the weather like in Lisbon?")
	if err != nil {
		return err
	}
	fmt.Println(describe(completion))

	return sess.Save(ctx)
}

func main() {
	if err := run(); err != nil {
		logger.G(context.Background()).WithField("error", err).Error("lalia-example: failed")
		os.Exit(1)
	}
}
