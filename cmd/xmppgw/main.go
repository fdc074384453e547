// Command xmppgw is the gateway's headless service entrypoint: load
// configuration, wire the backend supervisor, session manager, gateway
// core and XMPP transport together, then run until signaled to stop.
// There is no interactive UI — this process has no local operator, only
// the upstream XMPP server and the legacy backends it supervises.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nyxbridge/xmppgw/internal/backend"
	"github.com/nyxbridge/xmppgw/internal/config"
	"github.com/nyxbridge/xmppgw/internal/extension"
	"github.com/nyxbridge/xmppgw/internal/gateway"
	"github.com/nyxbridge/xmppgw/internal/logging"
	"github.com/nyxbridge/xmppgw/internal/session"
	"github.com/nyxbridge/xmppgw/internal/storage/sqlite"
	"github.com/nyxbridge/xmppgw/internal/transport"
)

func main() {
	configPath := flag.String("config", "xmppgw.toml", "path to the gateway's TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "xmppgw: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()

	if cfg.Service.DataDir != "" {
		if err := os.MkdirAll(cfg.Service.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}

	rosterDB, err := sqlite.New(cfg.Service.DataDir)
	if err != nil {
		return fmt.Errorf("open roster cache: %w", err)
	}
	defer rosterDB.Close()

	extHost := extension.NewHost(cfg.Service.PluginDir, log.WithComponent("extension"))
	extHost.OnPublishAvatar(func(buddyName, iconHash string, data []byte, mimeType string) error {
		log.Info("extension: avatar published for %s (%s, %d bytes, hash %s)", buddyName, mimeType, len(data), iconHash)
		return nil
	})

	// sup's Dispatcher is filled in once gw exists below; Supervisor.Start
	// is not called until then, so no dispatch can race the nil value.
	sup := backend.NewSupervisor(cfg.Service.Backend, configPath, cfg.Service.ListenHost, cfg.Service.ListenPort, log.WithComponent("backend"), nil)
	sessions := session.NewManager(sup, log.WithComponent("session"))

	creds := gateway.NewStaticCredentials(cfg.CredentialTable())
	settings := gateway.NewStaticSettings(cfg.UserSettings)

	// gw.Transport is filled in once t exists below; gw.Hooks() binds
	// closures over gw itself, not over gw.Transport's current value, so
	// constructing gw before t is safe.
	gw := gateway.New(sessions, nil, creds, settings, extHost, rosterDB, log.WithComponent("gateway"), cfg.Service.JIDEscaping, cfg.Features.RawXML)
	sup.Dispatcher = gw

	t, err := transport.New(transport.Config{
		JID:          cfg.Service.JID,
		Server:       cfg.Service.Server,
		Port:         cfg.Service.Port,
		ServerMode:   cfg.Service.ServerMode,
		Password:     cfg.Service.Password,
		Cert:         cfg.Service.Cert,
		CertPassword: cfg.Service.CertPassword,
	}, log.WithComponent("transport"), gw.Hooks(), cfg.Features.RawXML)
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	gw.Transport = t

	if err := sup.Start(); err != nil {
		return fmt.Errorf("start backend supervisor: %w", err)
	}
	defer sup.Stop()

	if cfg.Features.Notifications {
		if err := extHost.LoadAll(); err != nil {
			log.Warn("extension: load plugins from %s: %v", cfg.Service.PluginDir, err)
		}
	}
	defer extHost.UnloadAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("xmppgw: starting as %s against %s:%d (server_mode=%v)", cfg.Service.JID, cfg.Service.Server, cfg.Service.Port, cfg.Service.ServerMode)
	t.Run(ctx)
	log.Info("xmppgw: shutting down")
	return t.Close()
}
