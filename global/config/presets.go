package config

import (
	"fmt"
	"sort"
)

// presets are the node layouts we deploy. A config file is overlaid on
// the chosen preset.
var presets = map[string]func() AppConfig{
	// 聊天网关节点
	"chat": Default,
	// 端到端加密握手节点
	"keyexchange": func() AppConfig {
		c := Default()
		c.NodeId = 2
		c.Server.Port = 9090
		c.Relay.Protocol = ProtocolKeyExchange
		c.Nats.IngressSubject = "relay.keyexchange.ingress"
		c.Kafka.GroupID = "chat-relay-keyexchange"
		c.Kafka.Topics = []string{"keyexchange.messages"}
		return c
	},
	// 本地开发，依赖全部跑在 localhost
	"local": func() AppConfig {
		c := Default()
		c.Log.Level = "debug"
		c.Server.GrpcPort = 50051
		c.Redis.Addr = "127.0.0.1:6379"
		c.Nats.Servers = []string{"nats://127.0.0.1:4222"}
		return c
	},
}

// Preset returns the named node layout. The empty name is "chat".
func Preset(name string) (AppConfig, error) {
	if name == "" {
		name = "chat"
	}
	f, ok := presets[name]
	if !ok {
		return AppConfig{}, fmt.Errorf("unknown preset %q, have %v", name, PresetNames())
	}
	return f(), nil
}

func PresetNames() []string {
	out := make([]string, 0, len(presets))
	for k := range presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
