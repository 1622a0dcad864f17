package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegionAuto is the catch-all region. Every node is reachable through it.
const RegionAuto = "auto"

// NodeConfig is the static description of one audio node.
type NodeConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Region   string `yaml:"region"`
	Secure   bool   `yaml:"secure"`

	// Priority is the position of the node in the configuration file
	// after duplicates are dropped. Lower wins ties.
	Priority int `yaml:"-"`
}

// Addr returns host:port.
func (n NodeConfig) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

type nodesFile struct {
	Nodes []NodeConfig `yaml:"nodes"`
}

// LoadNodes reads the node list from a YAML file.
func LoadNodes(path string) ([]NodeConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open nodes file: %w", err)
	}
	defer f.Close()

	return ParseNodes(f)
}

// ParseNodes decodes a node list. Region labels are lower-cased, and
// a name that appears more than once keeps its first definition.
func ParseNodes(r io.Reader) ([]NodeConfig, error) {
	var file nodesFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("nodes file is empty")
		}
		return nil, fmt.Errorf("failed to decode nodes file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Nodes))
	nodes := make([]NodeConfig, 0, len(file.Nodes))
	for i, node := range file.Nodes {
		node.Name = strings.TrimSpace(node.Name)
		node.Region = strings.ToLower(strings.TrimSpace(node.Region))
		if err := node.validate(); err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}

		if _, dup := seen[node.Name]; dup {
			slog.Warn("ignoring duplicate node definition", "node", node.Name, "index", i)
			continue
		}
		seen[node.Name] = struct{}{}

		node.Priority = len(nodes)
		nodes = append(nodes, node)
	}

	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes configured")
	}
	return nodes, nil
}

func (n NodeConfig) validate() error {
	if n.Name == "" {
		return fmt.Errorf("name is required")
	}
	if n.Host == "" {
		return fmt.Errorf("host is required for %s", n.Name)
	}
	if n.Port <= 0 || n.Port > 65535 {
		return fmt.Errorf("port %d is out of range for %s", n.Port, n.Name)
	}
	return nil
}
