// The notification service consumes pipeline execution results, evaluates
// subscriber conditions in the sandbox, and fans out to webhook, Slack, and
// FCM channels with per-channel failure isolation.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/datarill/datarill/component"
	"github.com/datarill/datarill/config"
	"github.com/datarill/datarill/eventbus"
	"github.com/datarill/datarill/httpclient"
	"github.com/datarill/datarill/logger"
	"github.com/datarill/datarill/notification"
	"github.com/datarill/datarill/sandbox"
	"github.com/datarill/datarill/server"
)

const serviceName = "notification"

// AppConfig is the full configuration of the notification service.
type AppConfig struct {
	config.ServiceConfig `mapstructure:",squash"`

	Server       server.Config         `mapstructure:"server"`
	EventBus     eventbus.Config       `mapstructure:"eventbus"`
	Sandbox      sandbox.Config        `mapstructure:"sandbox"`
	Notification notification.Settings `mapstructure:"notification"`
}

func (c *AppConfig) applyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.EventBus.ApplyDefaults()
	c.Sandbox.ApplyDefaults()
	c.Notification.ApplyDefaults()
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
	if err := c.Sandbox.Validate(); err != nil {
		return err
	}
	return c.Notification.Validate()
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
	log.Info("Starting notification service", map[string]interface{}{
		"version":     cfg.Version,
		"environment": cfg.Environment,
	})

	var clientCfg httpclient.Config
	clientCfg.ApplyDefaults()
	clientCfg.Retry = httpclient.DefaultRetryConfig()
	client, err := httpclient.New(clientCfg)
	if err != nil {
		log.Fatal("HTTP client setup failed", logger.ErrorFields("http-client", err))
	}

	repo := notification.NewMemoryRepository()
	executor := notification.NewExecutor(repo, sandbox.NewExecutor(cfg.Sandbox), client, cfg.Notification)

	busComp := eventbus.NewComponent(cfg.EventBus, log)
	busComp.AddConsumer(notification.NewExecutionConsumer(executor))
	busComp.AddConsumer(notification.NewConfigConsumer(repo))

	srv := server.New(cfg.Server, log)

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

	ctx := context.Background()
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
	case err := <-busComp.Bus().NotifyFatal():
		log.Fatal("Event bus connection lost", logger.ErrorFields("eventbus", err))
	}
}
