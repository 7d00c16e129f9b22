package sshutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// SSHHostEntry represents a parsed host entry from SSH config.
type SSHHostEntry struct {
	Alias          string // The Host pattern (alias)
	Hostname       string // The HostName value (actual host to connect to)
	User           string // The User value
	Port           string // The Port value
	IdentityFile   string // The IdentityFile value
	ProxyJump      string // The ProxyJump value
	KnownHostsFile string // The UserKnownHostsFile value
}

// Found reports whether the entry carries any settings.
func (h SSHHostEntry) Found() bool {
	return h.Hostname != "" || h.User != "" || h.Port != "" || h.IdentityFile != "" || h.ProxyJump != "" || h.KnownHostsFile != ""
}

// Description returns a user-friendly description of the host.
func (h SSHHostEntry) Description() string {
	parts := []string{}

	if h.Hostname != "" && h.Hostname != h.Alias {
		parts = append(parts, h.Hostname)
	}

	if h.User != "" {
		parts = append(parts, "user: "+h.User)
	}

	if h.Port != "" && h.Port != "22" {
		parts = append(parts, "port: "+h.Port)
	}

	if h.ProxyJump != "" {
		parts = append(parts, "via: "+h.ProxyJump)
	}

	if len(parts) == 0 {
		return h.Alias
	}

	return strings.Join(parts, ", ")
}

// DefaultConfigPath returns ~/.ssh/config.
func DefaultConfigPath() string {
	return filepath.Join(homeDir(), ".ssh", "config")
}

// LookupHost reads the settings for alias from the SSH config at configPath
// (~/.ssh/config when empty). A missing or unreadable file yields an empty entry.
func LookupHost(configPath, alias string) SSHHostEntry {
	entry := SSHHostEntry{Alias: alias}
	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		return entry
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return entry
	}
	return entryFor(cfg, alias)
}

func entryFor(cfg *ssh_config.Config, alias string) SSHHostEntry {
	entry := SSHHostEntry{Alias: alias}
	if hostname, _ := cfg.Get(alias, "HostName"); hostname != "" {
		entry.Hostname = hostname
	}
	if user, _ := cfg.Get(alias, "User"); user != "" {
		entry.User = user
	}
	if port, _ := cfg.Get(alias, "Port"); port != "" {
		entry.Port = port
	}
	if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
		entry.IdentityFile = expandPath(identity)
	}
	if jump, _ := cfg.Get(alias, "ProxyJump"); jump != "" && !strings.EqualFold(jump, "none") {
		entry.ProxyJump = jump
	}
	if kh, _ := cfg.Get(alias, "UserKnownHostsFile"); kh != "" {
		// Only the first of a space separated list is used.
		entry.KnownHostsFile = expandPath(strings.Fields(kh)[0])
	}
	return entry
}

// ParseSSHConfigFile parses the specified SSH config file and returns every
// concrete (non-wildcard) host alias.
func ParseSSHConfigFile(configPath string) ([]SSHHostEntry, error) {
	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	var hosts []SSHHostEntry
	seen := make(map[string]bool)

	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()

			if strings.Contains(alias, "*") || strings.Contains(alias, "?") || strings.HasPrefix(alias, "!") {
				continue
			}
			if seen[alias] {
				continue
			}
			seen[alias] = true

			hosts = append(hosts, entryFor(cfg, alias))
		}
	}

	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].Alias < hosts[j].Alias
	})

	return hosts, nil
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive,
// which the parser does not support. Also returns the 1-indexed line of that Match (0 if none).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
