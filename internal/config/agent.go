package config

import (
	"os"
	"os/user"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// agentFile is the shape of ~/.config/jit/agent.toml (spec §4.4).
type agentFile struct {
	Agent struct {
		ID string `toml:"id"`
	} `toml:"agent"`
}

// ResolveAgentID implements spec §4.4's agent identity resolution order:
// an explicit --agent-id argument (explicit, the caller's own flag
// value), the JIT_AGENT_ID environment variable, the agent.id field of
// ~/.config/jit/agent.toml, and finally "agent:<hostname>-<user>" as a
// last resort.
func ResolveAgentID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv("JIT_AGENT_ID"); v != "" {
		return v
	}
	if id, ok := agentIDFromFile(); ok {
		return id
	}
	return fallbackAgentID()
}

func agentIDFromFile() (string, bool) {
	confDir, err := os.UserConfigDir()
	if err != nil {
		return "", false
	}
	path := filepath.Join(confDir, "jit", "agent.toml")
	var f agentFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return "", false
	}
	if f.Agent.ID == "" {
		return "", false
	}
	return f.Agent.ID, true
}

func fallbackAgentID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	name := "unknown-user"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	return "agent:" + host + "-" + name
}
