// Command atomagent serves the OAuth connect, callback, disconnect and status
// routes of the Atom Agent token broker.
//
// Configuration is read from atomagent.yaml in the working directory or a
// parent, then from ATOM__ prefixed environment variables. Pass -config to
// merge an additional file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rush86999/atomagent"
	"github.com/rush86999/atomagent/broker"
	"github.com/rush86999/atomagent/eventbus"
	"github.com/rush86999/atomagent/eventbus/membus"
	"github.com/rush86999/atomagent/logging"
	"github.com/rush86999/atomagent/oauthhttp"
	"github.com/rush86999/atomagent/server"
)

func main() {
	configFile := flag.String("config", "", "additional YAML configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	if configFile != "" {
		if err := atomagent.LoadConfigFile(configFile); err != nil {
			return err
		}
	}
	settings, err := atomagent.LoadSettings(atomagent.Config)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(settings.Logging.Mode)
	if z, ok := logger.(*logging.ZapLogger); ok {
		defer func() { _ = z.Sync() }()
	}
	ctx := logging.With(context.Background(), logger)

	if warnings := atomagent.ValidateConfig(atomagent.Config); len(warnings) > 0 {
		logging.Warnw(ctx, "atomagent: unknown configuration keys", "warnings", atomagent.FormatValidationWarnings(warnings))
	}

	bus := membus.New(ctx)
	logEvents(bus)

	b, err := broker.New(ctx, settings, broker.WithEventBus(bus))
	if err != nil {
		return err
	}
	defer b.Close()
	for _, err := range b.Validate() {
		logging.Warnw(ctx, "atomagent: configuration problem", "error", err)
	}

	handlers := oauthhttp.New(b, oauthhttp.Options{
		SettingsPath:   settings.App.SettingsPath,
		LoginPath:      settings.App.LoginPath,
		StateSecret:    []byte(settings.App.StateSecret),
		IdentitySecret: []byte(settings.App.IdentitySecret),
		EventBus:       bus,
	})

	opts := []server.ServerOption{
		server.WithHost(settings.Server.Host),
		server.WithPort(settings.Server.Port),
		server.WithLogger(logger),
		server.WithCORSOrigins(settings.Server.CORSOrigins...),
		server.WithMux(handlers.Register),
	}
	if settings.Server.TLS.CertFile != "" {
		opts = append(opts, server.WithTLS(settings.Server.TLS.CertFile, settings.Server.TLS.KeyFile))
	}

	err = server.New(opts...).Start()
	_ = bus.Shutdown(ctx)
	return err
}

// logEvents records token lifecycle events. Other components subscribe to the
// same topics to react to connects and disconnects.
func logEvents(bus eventbus.EventBus) {
	for _, topic := range []string{
		eventbus.TopicTokenSaved,
		eventbus.TopicTokenRefreshed,
		eventbus.TopicTokenRevoked,
		eventbus.TopicIntegrationDisconnected,
	} {
		bus.Subscribe(topic, func(ctx context.Context, msg *eventbus.Message) error {
			if ev, ok := msg.Data.(eventbus.TokenEvent); ok {
				logging.Infow(ctx, "atomagent: token event", "topic", msg.Topic,
					"user_id", ev.UserID, "resource", ev.Resource, "client_type", ev.ClientType)
			}
			return nil
		})
	}
}
