// The pipeline service accepts datasource triggers over HTTP and the event
// bus, runs each matching pipeline's transformation in the sandbox, and
// publishes one execution result event per pipeline.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/datarill/datarill/component"
	"github.com/datarill/datarill/config"
	"github.com/datarill/datarill/eventbus"
	"github.com/datarill/datarill/events"
	"github.com/datarill/datarill/httpclient"
	"github.com/datarill/datarill/logger"
	"github.com/datarill/datarill/pipeline"
	"github.com/datarill/datarill/sandbox"
	"github.com/datarill/datarill/server"
)

const serviceName = "pipeline"

// AppConfig is the full configuration of the pipeline service.
type AppConfig struct {
	config.ServiceConfig `mapstructure:",squash"`

	Server   server.Config   `mapstructure:"server"`
	EventBus eventbus.Config `mapstructure:"eventbus"`
	Sandbox  sandbox.Config  `mapstructure:"sandbox"`
}

func (c *AppConfig) applyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.EventBus.ApplyDefaults()
	c.Sandbox.ApplyDefaults()
}

func (c *AppConfig) validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.EventBus.Validate(); err != nil {
		return err
	}
	return c.Sandbox.Validate()
}

func main() {
	var cfg AppConfig
	if err := config.LoadConfig(serviceName, &cfg); err != nil {
		logger.Fatal("Configuration load failed", logger.ErrorFields("load-config", err))
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		logger.Fatal("Configuration invalid", logger.ErrorFields("validate-config", err))
	}

	logger.Init(cfg.Logging)
	log := logger.NewDefault(serviceName)
	logger.Register(serviceName, log)
	log.Info("Starting pipeline service", map[string]interface{}{
		"version":     cfg.Version,
		"environment": cfg.Environment,
	})

	ctx := context.Background()

	// The service cannot make progress without the bus; connect failure
	// after the bounded retries is fatal so the orchestrator restarts us.
	bus, err := eventbus.Connect(ctx, cfg.EventBus)
	if err != nil {
		log.Fatal("Event bus unreachable", logger.ErrorFields("connect", err))
	}
	pub, err := bus.Channel()
	if err != nil {
		log.Fatal("Event bus channel failed", logger.ErrorFields("open-channel", err))
	}
	if err := pub.DeclareTopicExchange(events.Exchange); err != nil {
		log.Fatal("Exchange declaration failed", logger.ErrorFields("declare-exchange", err))
	}

	executor := sandbox.NewExecutor(cfg.Sandbox)
	repo := pipeline.NewMemoryRepository()
	manager := pipeline.NewManager(repo, pub, executor)

	busComp := eventbus.NewComponent(cfg.EventBus, log)
	busComp.SetDialer(func(context.Context, eventbus.Config) (eventbus.Bus, error) {
		return bus, nil
	})
	busComp.AddConsumer(pipeline.NewTriggerConsumer(manager))

	var clientCfg httpclient.Config
	clientCfg.ApplyDefaults()
	clientCfg.Retry = httpclient.DefaultRetryConfig()
	fetcher, err := httpclient.New(clientCfg)
	if err != nil {
		log.Fatal("HTTP client setup failed", logger.ErrorFields("http-client", err))
	}

	srv := server.New(cfg.Server, log)
	pipeline.NewHandler(pub, fetcher).RegisterRoutes(srv.Engine())

	registry := component.NewRegistry()
	for _, c := range []component.Component{busComp, srv} {
		if err := registry.Register(c); err != nil {
			log.Fatal("Component registration failed", map[string]interface{}{
				"component": c.Name(),
				"error":     err.Error(),
			})
		}
	}
	srv.RegisterHealth(registry)

	if err := registry.StartAll(ctx); err != nil {
		log.Fatal("Startup failed", logger.ErrorFields("start", err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
		if err := registry.StopAll(ctx); err != nil {
			log.Error("Shutdown incomplete", logger.ErrorFields("stop", err))
		}
	case err := <-bus.NotifyFatal():
		// Established connection lost: fail fast, the orchestrator restarts us.
		log.Fatal("Event bus connection lost", logger.ErrorFields("eventbus", err))
	}
}
