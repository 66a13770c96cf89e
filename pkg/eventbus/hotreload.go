package eventbus

import (
	"fmt"
	"log/slog"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	plugin "github.com/hashicorp/go-plugin"
)

// Hot-reload is optional and off by default: in-process integrations (git,
// recovery, analytics, drift_validation, snapshot) need none of this. It
// exists for operators who want to add or replace an integration without
// restarting the conductor, by running it out-of-process behind go-plugin's
// net/rpc bridge rather than loading arbitrary code in-process.

// Handshake pins the plugin protocol so a mismatched binary fails fast
// instead of producing confusing RPC errors.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MISSIONCTL_INTEGRATION_PLUGIN",
	MagicCookieValue: "integration",
}

// PluginHandler is the RPC-callable surface a standalone integration plugin
// binary must implement. It mirrors Handler but collapses subscriptions and
// priority into a single Describe call, which is cheaper to make over RPC
// than repeated round-trips.
type PluginHandler interface {
	Describe() (name string, priority Priority, subs []EventType, err error)
	HandleEvent(event Event) error
	IsAvailable() (bool, error)
}

// pluginRPCClient adapts the net/rpc client to PluginHandler.
type pluginRPCClient struct{ client *rpc.Client }

func (c *pluginRPCClient) Describe() (string, Priority, []EventType, error) {
	var resp struct {
		Name     string
		Priority Priority
		Subs     []EventType
	}
	if err := c.client.Call("Plugin.Describe", struct{}{}, &resp); err != nil {
		return "", 0, nil, err
	}
	return resp.Name, resp.Priority, resp.Subs, nil
}

func (c *pluginRPCClient) HandleEvent(event Event) error {
	var unused struct{}
	return c.client.Call("Plugin.HandleEvent", event, &unused)
}

func (c *pluginRPCClient) IsAvailable() (bool, error) {
	var available bool
	err := c.client.Call("Plugin.IsAvailable", struct{}{}, &available)
	return available, err
}

// HandlerPlugin is the go-plugin Plugin implementation integration binaries
// register on their server side and the host uses on its client side.
type HandlerPlugin struct {
	Impl PluginHandler
}

func (p *HandlerPlugin) Server(*plugin.MuxBroker) (any, error) { return p.Impl, nil }

func (p *HandlerPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (any, error) {
	return &pluginRPCClient{client: c}, nil
}

// pluginHandlerAdapter wraps a connected plugin client so it satisfies
// Handler and can be registered on the Bus like any in-process integration.
type pluginHandlerAdapter struct {
	BaseHandler
	remote PluginHandler
	client *plugin.Client
}

func (a *pluginHandlerAdapter) HandleEvent(event Event) error { return a.remote.HandleEvent(event) }

func (a *pluginHandlerAdapter) IsAvailable() bool {
	ok, err := a.remote.IsAvailable()
	if err != nil {
		return false
	}
	return ok
}

// LoadIntegrationPlugin starts cmdPath as a subprocess integration plugin,
// handshakes with it, and registers it on the bus. Call Stop on the returned
// client during shutdown to terminate the subprocess cleanly.
func LoadIntegrationPlugin(bus *Bus, cmdPath string) (*plugin.Client, error) {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "integration-plugin",
		Level:  hclog.Warn,
		Output: nil,
	})

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			"integration": &HandlerPlugin{},
		},
		Cmd:    exec.Command(cmdPath),
		Logger: logger,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to integration plugin %s: %w", cmdPath, err)
	}

	raw, err := rpcClient.Dispense("integration")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense integration plugin %s: %w", cmdPath, err)
	}

	remote, ok := raw.(PluginHandler)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin %s did not implement PluginHandler", cmdPath)
	}

	name, priority, subs, err := remote.Describe()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to describe integration plugin %s: %w", cmdPath, err)
	}

	adapter := &pluginHandlerAdapter{remote: remote, client: client}
	adapter.InitBase(name, priority, subs, func() bool { return true })

	bus.Register(adapter)
	slog.Info("loaded out-of-process integration", "name", name, "cmd", cmdPath)
	return client, nil
}

var _ plugin.Plugin = (*HandlerPlugin)(nil)
