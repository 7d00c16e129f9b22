package config

import (
	"strings"
	"time"
)

// CommandType selects how a command's cmd field is interpreted.
type CommandType string

const (
	// TypeDefault runs cmd as an executable with args.
	TypeDefault CommandType = ""
	// TypeScript treats cmd as script text fed to a shell.
	TypeScript CommandType = "script"
	// TypeScriptFile treats cmd as the path of a local script file.
	TypeScriptFile CommandType = "scriptFile"
	// TypeRemoteScript treats cmd as an http(s) URL whose body is the script.
	TypeRemoteScript CommandType = "remoteScript"
)

// Config is the fully loaded, validated configuration. It is read-only after Load returns.
type Config struct {
	// Path is the main config file that was loaded.
	Path string `yaml:"-" mapstructure:"-"`

	// Dir is the directory containing Path; relative file references resolve against it.
	Dir string `yaml:"-" mapstructure:"-"`

	Commands      map[string]*Command     `yaml:"commands" mapstructure:"-"`
	Hosts         map[string]*Host        `yaml:"hosts" mapstructure:"-"`
	Lists         map[string]*CommandList `yaml:"cmd-lists" mapstructure:"-"`
	Notifications Notifications           `yaml:"notifications" mapstructure:"-"`

	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Vault    VaultConfig    `yaml:"vault" mapstructure:"vault"`
	Shutdown ShutdownConfig `yaml:"shutdown" mapstructure:"shutdown"`

	// DotEnv holds variables read from the .env file next to the config.
	// Used for $VAR expansion in command environments.
	DotEnv map[string]string `yaml:"-" mapstructure:"-"`
}

// Command is a named unit of work.
type Command struct {
	// Name is the map key under commands.
	Name string `yaml:"-"`

	Cmd   string      `yaml:"cmd" validate:"required"`
	Args  []string    `yaml:"cmdArgs"`
	Shell string      `yaml:"shell"`
	Host  string      `yaml:"host"`
	Type  CommandType `yaml:"type" validate:"omitempty,oneof=script scriptFile remoteScript"`

	// Hosts runs the command on every listed host at once. It excludes Host.
	Hosts []string `yaml:"hosts" validate:"omitempty,unique,dive,required"`

	// Dir is the working directory for local execution. Ignored on remote hosts.
	Dir string `yaml:"dir"`

	// Env is a dotenv file whose entries are added to the command environment.
	Env string `yaml:"env"`

	// Environment holds KEY=VALUE bindings. Values may be secret references.
	Environment []string `yaml:"environment" validate:"dive,contains=="`

	// ScriptEnvFile is a remote path that a scriptFile's content is appended
	// to before being executed there.
	ScriptEnvFile string `yaml:"scriptEnvFile"`

	GetOutput   bool `yaml:"getOutput"`
	OutputToLog bool `yaml:"outputToLog"`

	// OutputFile receives every output line. It is truncated on each run.
	OutputFile string `yaml:"outputFile"`

	Hooks *Hooks `yaml:"hooks"`
}

// Hooks lists command names run after a command finishes.
type Hooks struct {
	Error   []string `yaml:"error"`
	Success []string `yaml:"success"`
	Final   []string `yaml:"final"`
}

// IsRemote reports whether the command targets a remote host.
func (c *Command) IsRemote() bool {
	return !IsLocalHost(c.Host)
}

// FansOut reports whether the command runs on several hosts.
func (c *Command) FansOut() bool {
	return len(c.Hosts) > 0
}

// HasHooks reports whether any hook list is non-empty.
func (c *Command) HasHooks() bool {
	return c.Hooks != nil && (len(c.Hooks.Error)+len(c.Hooks.Success)+len(c.Hooks.Final)) > 0
}

// IsLocalHost reports whether a host identifier means "run here".
func IsLocalHost(host string) bool {
	switch strings.TrimSpace(host) {
	case "", "localhost", "127.0.0.1":
		return true
	}
	return false
}

// Host describes how to reach a remote machine. Unset fields are looked up
// in the SSH config file when the host is resolved.
type Host struct {
	// Name is the map key under hosts.
	Name string `yaml:"-"`

	HostName           string `yaml:"hostname"`
	ConfigFilePath     string `yaml:"config-file-path"`
	User               string `yaml:"user"`
	Port               int    `yaml:"port" validate:"gte=0,lte=65535"`
	PrivateKeyPath     string `yaml:"privatekeypath"`
	PrivateKeyPassword string `yaml:"privatekeypassword"`
	Password           string `yaml:"password"`
	ProxyJump          string `yaml:"proxyjump"`
	KnownHostsFile     string `yaml:"knownhostsfile"`

	// StrictHostKeyChecking defaults to true when unset.
	StrictHostKeyChecking *bool `yaml:"strict-host-key-checking"`
}

// StrictHostKeys returns the effective host key checking mode.
func (h *Host) StrictHostKeys() bool {
	return h == nil || h.StrictHostKeyChecking == nil || *h.StrictHostKeyChecking
}

// CommandList is a named, ordered sequence of commands.
type CommandList struct {
	// Key is the map key under cmd-lists.
	Key string `yaml:"-"`

	// Name is the display name. Defaults to Key.
	Name          string   `yaml:"name"`
	Order         []string `yaml:"order" validate:"required,min=1"`
	Notifications []string `yaml:"notifications"`
	GetOutput     bool     `yaml:"getOutput"`
	Cron          string   `yaml:"cron"`
}

// DisplayName returns Name, falling back to the list key.
func (l *CommandList) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	return l.Key
}

// Notifications groups notification targets by service. Each target is
// addressed as "<service>.<id>", e.g. "mail.ops".
type Notifications struct {
	Mail   map[string]*MailTarget   `yaml:"mail"`
	Matrix map[string]*MatrixTarget `yaml:"matrix"`
	Kafka  map[string]*KafkaTarget  `yaml:"kafka"`
}

// Outcome gating for notification targets.
const (
	OnSuccess = "success"
	OnFailure = "failure"
)

// TargetOptions is shared by every notification target.
type TargetOptions struct {
	// On lists which outcomes are sent. Empty means both.
	On []string `yaml:"on" validate:"dive,oneof=success failure"`
}

// Wants reports whether a summary with the given result should be sent.
func (o TargetOptions) Wants(success bool) bool {
	if len(o.On) == 0 {
		return true
	}
	want := OnFailure
	if success {
		want = OnSuccess
	}
	for _, v := range o.On {
		if v == want {
			return true
		}
	}
	return false
}

// MailTarget sends summaries over SMTP.
type MailTarget struct {
	TargetOptions `yaml:",inline"`
	Host          string   `yaml:"host" validate:"required"`
	Port          string   `yaml:"port" validate:"required"`
	SenderAddress string   `yaml:"senderaddress" validate:"required"`
	To            []string `yaml:"to" validate:"required,min=1"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
}

// MatrixTarget posts summaries to a Matrix room.
type MatrixTarget struct {
	TargetOptions `yaml:",inline"`
	Homeserver    string `yaml:"homeserver" validate:"required"`
	RoomID        string `yaml:"room-id" validate:"required"`
	AccessToken   string `yaml:"access-token" validate:"required"`
	UserID        string `yaml:"user-id" validate:"required"`
}

// KafkaTarget publishes summaries as JSON messages to a topic.
type KafkaTarget struct {
	TargetOptions `yaml:",inline"`
	Brokers       []string `yaml:"brokers" validate:"required,min=1"`
	Topic         string   `yaml:"topic" validate:"required"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Verbose bool   `mapstructure:"verbose"`
	File    string `mapstructure:"file"`
	// CmdStdout tees command output to the process stdout.
	CmdStdout bool `mapstructure:"cmd-std-out"`
}

// VaultConfig configures the Vault secret backend.
type VaultConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	Address string     `mapstructure:"address"`
	Token   string     `mapstructure:"token"`
	Keys    []VaultKey `mapstructure:"keys"`
}

// VaultKey maps a secret reference name to a location in Vault.
type VaultKey struct {
	Name      string `mapstructure:"name"`
	Path      string `mapstructure:"path"`
	MountPath string `mapstructure:"mountpath"`
	// ValueType is KVv1 or KVv2.
	ValueType string `mapstructure:"type"`
	// Field is the key inside the secret. Defaults to Name.
	Field string `mapstructure:"field"`
}

// ShutdownConfig controls graceful shutdown.
type ShutdownConfig struct {
	GracePeriod time.Duration `mapstructure:"grace-period"`
}

// DefaultGracePeriod is how long in-flight commands get after shutdown starts.
const DefaultGracePeriod = 10 * time.Second

// DefaultConfig returns an empty Config with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Commands: make(map[string]*Command),
		Hosts:    make(map[string]*Host),
		Lists:    make(map[string]*CommandList),
		Shutdown: ShutdownConfig{GracePeriod: DefaultGracePeriod},
		DotEnv:   make(map[string]string),
	}
}

// Command looks up a command by name.
func (c *Config) Command(name string) (*Command, bool) {
	cmd, ok := c.Commands[name]
	return cmd, ok
}

// List looks up a command list by name.
func (c *Config) List(name string) (*CommandList, bool) {
	l, ok := c.Lists[name]
	return l, ok
}

// HasTarget reports whether a "<service>.<id>" notification target is declared.
func (c *Config) HasTarget(key string) bool {
	service, id, ok := strings.Cut(key, ".")
	if !ok {
		return false
	}
	switch service {
	case "mail":
		_, found := c.Notifications.Mail[id]
		return found
	case "matrix":
		_, found := c.Notifications.Matrix[id]
		return found
	case "kafka":
		_, found := c.Notifications.Kafka[id]
		return found
	}
	return false
}
