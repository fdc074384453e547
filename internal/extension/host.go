package extension

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	goplugin "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"

	"github.com/nyxbridge/xmppgw/internal/logging"
)

// Handshake is the extension handshake config, with its own magic cookie
// so a mismatched plugin binary fails the handshake instead of being
// dispensed against the wrong gRPC contract.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "XMPPGW_EXTENSION",
	MagicCookieValue: "xmppgw",
}

// PluginMap is the extension's go-plugin type map.
var PluginMap = map[string]goplugin.Plugin{
	"extension": &GRPCPlugin{},
}

// loadedPlugin is one running extension process.
type loadedPlugin struct {
	Name    string
	Version string
	Plugin  Plugin
	Client  *goplugin.Client
	Running bool
}

// Host spawns, supervises, and tears down extension plugin processes. It
// owns one hostAPI shared by every loaded plugin, so plugins observe the
// same event stream regardless of load order.
type Host struct {
	mu        sync.RWMutex
	plugins   map[string]*loadedPlugin
	pluginDir string
	api       *hostAPI
	log       *logging.Logger
}

// NewHost returns a host that loads plugin binaries from pluginDir.
func NewHost(pluginDir string, log *logging.Logger) *Host {
	return &Host{
		plugins:   make(map[string]*loadedPlugin),
		pluginDir: pluginDir,
		api:       newHostAPI(),
		log:       log,
	}
}

// OnPublishAvatar wires the avatar-fetch plugin's reported images to a
// gateway-side sink (e.g. a vCard-temp publisher).
func (h *Host) OnPublishAvatar(f func(buddyName, iconHash string, data []byte, mimeType string) error) {
	h.api.onPublishAvatar = f
}

// EmitUserConnected notifies plugins that jid's legacy session came up.
func (h *Host) EmitUserConnected(jid, legacyName string) { h.api.EmitUserConnected(jid, legacyName) }

// EmitAvatarChanged notifies plugins that a buddy's icon_hash changed.
func (h *Host) EmitAvatarChanged(event AvatarChangedEvent) { h.api.EmitAvatarChanged(event) }

// LoadAll loads every executable found directly under the plugin directory.
// A missing directory is not an error: extensions are optional.
func (h *Host) LoadAll() error {
	if h.pluginDir == "" {
		return nil
	}

	entries, err := os.ReadDir(h.pluginDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("extension: read plugin dir %s: %w", h.pluginDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(h.pluginDir, entry.Name())
		if err := h.Load(path); err != nil {
			h.log.Warn("extension: load %s: %v", entry.Name(), err)
		}
	}
	return nil
}

// Load dials out to the plugin binary at path, completes the handshake, and
// starts it. GRPCPlugin.GRPCClient returns no stub, so Dispense yields no
// Plugin and Load returns a "did not return a Plugin" error after the
// handshake.
func (h *Host) Load(path string) error {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap,
		Cmd:             exec.Command(path),
		AllowedProtocols: []goplugin.Protocol{
			goplugin.ProtocolGRPC,
		},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("extension: connect to %s: %w", path, err)
	}

	raw, err := rpcClient.Dispense("extension")
	if err != nil {
		client.Kill()
		return fmt.Errorf("extension: dispense %s: %w", path, err)
	}

	p, ok := raw.(Plugin)
	if !ok {
		client.Kill()
		return fmt.Errorf("extension: %s did not return a Plugin", path)
	}

	if err := p.Init(context.Background(), h.api); err != nil {
		client.Kill()
		return fmt.Errorf("extension: init %s: %w", path, err)
	}

	if err := p.Start(); err != nil {
		client.Kill()
		return fmt.Errorf("extension: start %s: %w", path, err)
	}

	h.mu.Lock()
	h.plugins[p.Name()] = &loadedPlugin{Name: p.Name(), Version: p.Version(), Plugin: p, Client: client, Running: true}
	h.mu.Unlock()

	h.log.Info("extension: loaded %s v%s", p.Name(), p.Version())
	return nil
}

// Unload stops and kills one plugin by name.
func (h *Host) Unload(name string) {
	h.mu.Lock()
	lp := h.plugins[name]
	delete(h.plugins, name)
	h.mu.Unlock()

	if lp == nil {
		return
	}
	if lp.Running {
		_ = lp.Plugin.Stop()
	}
	lp.Client.Kill()
}

// UnloadAll stops and kills every loaded plugin, used on gateway shutdown.
func (h *Host) UnloadAll() {
	h.mu.Lock()
	plugins := make([]*loadedPlugin, 0, len(h.plugins))
	for _, lp := range h.plugins {
		plugins = append(plugins, lp)
	}
	h.plugins = make(map[string]*loadedPlugin)
	h.mu.Unlock()

	for _, lp := range plugins {
		if lp.Running {
			_ = lp.Plugin.Stop()
		}
		lp.Client.Kill()
	}
}

// GRPCPlugin adapts Plugin to go-plugin's gRPC plugin interface. The
// service registration bodies are left as the extension point a generated
// .pb.go would normally fill in; no protoc-generated code exists in this
// module (see DESIGN.md).
type GRPCPlugin struct {
	goplugin.Plugin
	Impl Plugin
}

// GRPCServer registers the plugin's gRPC server implementation.
func (p *GRPCPlugin) GRPCServer(broker *goplugin.GRPCBroker, s *grpc.Server) error {
	return nil
}

// GRPCClient returns a client-side stub for a dispensed plugin.
func (p *GRPCPlugin) GRPCClient(ctx context.Context, broker *goplugin.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return nil, nil
}
