package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// ServerSpec is the static configuration for one MCP server. Exactly one of
// Command or URL must be set: a launch command selects the subprocess stdio
// transport, a URL selects the SSE event-stream transport. Specs are loaded
// once at process start and are immutable afterwards.
type ServerSpec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// Validate checks that the spec selects exactly one transport.
func (s ServerSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if s.Command == "" && s.URL == "" {
		return fmt.Errorf("server %s: either command or url is required", s.Name)
	}
	if s.Command != "" && s.URL != "" {
		return fmt.Errorf("server %s: command and url are mutually exclusive", s.Name)
	}
	return nil
}

type serverConfigEntry struct {
	Command        string            `json:"command"`
	Args           []string          `json:"args"`
	Env            map[string]string `json:"env"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds float64           `json:"timeout"`
}

type serverConfigFile struct {
	MCPServers map[string]serverConfigEntry `json:"mcpServers"`
}

// LoadSpecs reads the MCP server configuration file. A missing file is not
// an error: it yields an empty spec list so the process starts with no
// remote servers. Invalid entries are reported through the returned invalid
// map, keyed by server name, and skipped. Specs are returned in name order
// so collision resolution downstream is deterministic.
func LoadSpecs(path string) ([]ServerSpec, map[string]error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file serverConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	names := make([]string, 0, len(file.MCPServers))
	for name := range file.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]ServerSpec, 0, len(names))
	invalid := make(map[string]error)
	for _, name := range names {
		entry := file.MCPServers[name]
		spec := ServerSpec{
			Name:    name,
			Command: entry.Command,
			Args:    entry.Args,
			Env:     entry.Env,
			URL:     entry.URL,
			Headers: entry.Headers,
			Timeout: time.Duration(entry.TimeoutSeconds * float64(time.Second)),
		}
		if err := spec.Validate(); err != nil {
			invalid[name] = err
			continue
		}
		specs = append(specs, spec)
	}

	if len(invalid) == 0 {
		invalid = nil
	}
	return specs, invalid, nil
}
