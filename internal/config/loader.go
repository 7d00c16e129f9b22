package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cybershell/backy/internal/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// GlobalConfigDir is the per-user config directory, relative to $HOME.
	GlobalConfigDir = ".config/backy"
	// EnvPrefix is the prefix for environment overrides of scalar settings.
	EnvPrefix = "BACKY"
)

// ConfigFileNames are the accepted names of the main config file, in search order.
var ConfigFileNames = []string{"backy.yml", "backy.yaml"}

var (
	hostsFileNames = []string{"hosts.yml", "hosts.yaml"}
	listsFileNames = []string{"lists.yml", "lists.yaml"}
)

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. backy.yml / backy.yaml in the current directory
// 3. ~/.config/backy/backy.yml / backy.yaml
func Find(explicit string) (string, error) {
	if explicit != "" {
		explicit = ExpandTilde(explicit)
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}
	if p := firstExisting(cwd, ConfigFileNames); p != "" {
		return p, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		if p := firstExisting(filepath.Join(home, GlobalConfigDir), ConfigFileNames); p != "" {
			return p, nil
		}
	}

	return "", errors.New(errors.ErrConfig,
		"No config file found",
		"Create ./backy.yml or ~/.config/backy/backy.yml, or pass one with --config")
}

// Load reads, merges and validates the config rooted at path.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Path = path
	cfg.Dir = filepath.Dir(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Specify one with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is readable")
	}

	root, err := parseDocument(data, path)
	if err != nil {
		return nil, err
	}

	if err := loadSettings(cfg, path); err != nil {
		return nil, err
	}

	m := newMerger()
	if err := m.loadDocument(cfg, root, path); err != nil {
		return nil, err
	}
	if err := loadSiblings(cfg, m, root); err != nil {
		return nil, err
	}

	if err := loadDotEnv(cfg); err != nil {
		return nil, err
	}

	normalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSettings reads scalar settings through viper so they can be
// overridden from the environment (BACKY_LOGGING_VERBOSE=true etc).
func loadSettings(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the YAML syntax in "+path)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the logging, vault and shutdown sections in "+path)
	}

	// AutomaticEnv only applies to keys viper already knows about.
	cfg.Logging.Verbose = v.GetBool("logging.verbose")
	cfg.Logging.File = v.GetString("logging.file")
	cfg.Logging.CmdStdout = v.GetBool("logging.cmd-std-out") || os.Getenv("BACKY_CMDSTDOUT") == "enabled"
	cfg.Vault.Enabled = v.GetBool("vault.enabled")
	cfg.Vault.Address = v.GetString("vault.address")
	cfg.Vault.Token = v.GetString("vault.token")
	cfg.Shutdown.GracePeriod = v.GetDuration("shutdown.grace-period")
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.verbose", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.cmd-std-out", false)
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("shutdown.grace-period", DefaultGracePeriod.String())
}

func parseDocument(data []byte, path string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to parse "+filepath.Base(path),
			"Check the YAML syntax in "+path)
	}
	if doc.Kind == 0 {
		// Empty file.
		return &yaml.Node{Kind: yaml.MappingNode}, nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New(errors.ErrConfig,
			"Expected a mapping at the top of "+filepath.Base(path),
			"The file must contain keys like commands, hosts and cmd-lists")
	}
	return doc.Content[0], nil
}

// loadSiblings merges hosts.yml and lists.yml next to the main file, plus
// the file named by cmd-lists.file.
func loadSiblings(cfg *Config, m *merger, root *yaml.Node) error {
	if p := firstExisting(cfg.Dir, hostsFileNames); p != "" {
		if err := m.loadFile(cfg, p, "hosts"); err != nil {
			return err
		}
	}

	if p := firstExisting(cfg.Dir, listsFileNames); p != "" {
		if err := m.loadFile(cfg, p, "cmd-lists"); err != nil {
			return err
		}
	}

	if lists := findMapValue(root, "cmd-lists"); lists != nil {
		if fileNode := findMapValue(lists, listsFileKey); fileNode != nil && fileNode.Kind == yaml.ScalarNode {
			p := ResolvePath(cfg.Dir, strings.TrimSpace(fileNode.Value))
			if m.seen(p) {
				return nil
			}
			if err := m.loadFile(cfg, p, "cmd-lists"); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadDotEnv(cfg *Config) error {
	p := filepath.Join(cfg.Dir, ".env")
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	vars, err := godotenv.Read(p)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read "+p,
			"Check the .env file syntax (KEY=VALUE per line)")
	}
	cfg.DotEnv = vars
	return nil
}

// normalize fills derived fields after all files are merged.
func normalize(cfg *Config) {
	for name, cmd := range cfg.Commands {
		cmd.Name = name
		if !cmd.IsRemote() {
			cmd.Dir = ExpandTilde(cmd.Dir)
		}
		if cmd.Type == TypeScriptFile {
			cmd.Cmd = ResolvePath(cfg.Dir, cmd.Cmd)
		}
		if cmd.Env != "" {
			cmd.Env = ResolvePath(cfg.Dir, cmd.Env)
		}
		if cmd.OutputFile != "" {
			cmd.OutputFile = ResolvePath(cfg.Dir, cmd.OutputFile)
		}
	}
	for name, h := range cfg.Hosts {
		h.Name = name
		h.ConfigFilePath = ExpandTilde(h.ConfigFilePath)
		h.PrivateKeyPath = ExpandTilde(h.PrivateKeyPath)
		h.KnownHostsFile = ExpandTilde(h.KnownHostsFile)
	}
	for name, l := range cfg.Lists {
		l.Key = name
	}
	if cfg.Shutdown.GracePeriod <= 0 {
		cfg.Shutdown.GracePeriod = DefaultGracePeriod
	}
	if strings.TrimSpace(cfg.Vault.Address) == "" {
		cfg.Vault.Address = os.Getenv("VAULT_ADDR")
	}
	if strings.TrimSpace(cfg.Vault.Token) == "" {
		cfg.Vault.Token = os.Getenv("VAULT_TOKEN")
	}
}

func firstExisting(dir string, names []string) string {
	for _, n := range names {
		p := filepath.Join(dir, n)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Describe returns a one-line summary of what was loaded, for debug logs.
func (c *Config) Describe() string {
	return fmt.Sprintf("%s: %d commands, %d hosts, %d lists", c.Path, len(c.Commands), len(c.Hosts), len(c.Lists))
}
