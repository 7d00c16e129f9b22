package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cybershell/backy/internal/errors"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = validator.New()

// cronParser accepts six-field expressions with a leading seconds field.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a six-field cron expression (seconds first).
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	return cronParser.Parse(expr)
}

// Validate checks field constraints and every cross-reference in the config.
// Problems are reported all at once, sorted for stable output.
func Validate(cfg *Config) error {
	var problems []string

	for _, name := range sortedKeys(cfg.Commands) {
		cmd := cfg.Commands[name]
		if err := validate.Struct(cmd); err != nil {
			problems = append(problems, fieldProblems("command", name, err)...)
		}
		problems = append(problems, validateHooks(cfg, name, cmd)...)
		if cmd.ScriptEnvFile != "" && cmd.Type != TypeScriptFile {
			problems = append(problems, fmt.Sprintf("command '%s': scriptEnvFile only applies to type scriptFile", name))
		}
		if strings.TrimSpace(cmd.Host) != "" && cmd.FansOut() {
			problems = append(problems, fmt.Sprintf("command '%s': set host or hosts, not both", name))
		}
		if cmd.Type == TypeRemoteScript {
			if err := validate.Var(cmd.Cmd, "http_url"); err != nil {
				problems = append(problems, fmt.Sprintf("command '%s': remoteScript cmd must be an http or https URL", name))
			}
		}
	}

	for _, name := range sortedKeys(cfg.Hosts) {
		if err := validate.Struct(cfg.Hosts[name]); err != nil {
			problems = append(problems, fieldProblems("host", name, err)...)
		}
	}

	for _, name := range sortedKeys(cfg.Lists) {
		list := cfg.Lists[name]
		if err := validate.Struct(list); err != nil {
			problems = append(problems, fieldProblems("command list", name, err)...)
		}
		for _, entry := range list.Order {
			if _, ok := cfg.Commands[entry]; !ok {
				problems = append(problems, fmt.Sprintf("command list '%s' references undefined command '%s'", name, entry))
			}
		}
		for _, target := range list.Notifications {
			if !cfg.HasTarget(target) {
				problems = append(problems, fmt.Sprintf("command list '%s' references undefined notification target '%s'", name, target))
			}
		}
		if strings.TrimSpace(list.Cron) != "" {
			if _, err := ParseCron(list.Cron); err != nil {
				problems = append(problems, fmt.Sprintf("command list '%s' has invalid cron '%s': %v", name, list.Cron, err))
			}
		}
	}

	problems = append(problems, validateTargets(cfg)...)

	if cfg.Vault.Enabled {
		problems = append(problems, validateVault(cfg.Vault)...)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("Invalid configuration in %s:\n    - %s", cfg.Path, strings.Join(problems, "\n    - ")),
		"Fix the entries above and try again")
}

func validateHooks(cfg *Config, name string, cmd *Command) []string {
	if cmd.Hooks == nil {
		return nil
	}
	var problems []string
	check := func(kind string, hooks []string) {
		for _, h := range hooks {
			if _, ok := cfg.Commands[h]; !ok {
				problems = append(problems, fmt.Sprintf("command '%s' %s hook references undefined command '%s'", name, kind, h))
			}
		}
	}
	check("error", cmd.Hooks.Error)
	check("success", cmd.Hooks.Success)
	check("final", cmd.Hooks.Final)
	return problems
}

func validateTargets(cfg *Config) []string {
	var problems []string
	for _, id := range sortedKeys(cfg.Notifications.Mail) {
		if err := validate.Struct(cfg.Notifications.Mail[id]); err != nil {
			problems = append(problems, fieldProblems("notification target", "mail."+id, err)...)
		}
	}
	for _, id := range sortedKeys(cfg.Notifications.Matrix) {
		if err := validate.Struct(cfg.Notifications.Matrix[id]); err != nil {
			problems = append(problems, fieldProblems("notification target", "matrix."+id, err)...)
		}
	}
	for _, id := range sortedKeys(cfg.Notifications.Kafka) {
		if err := validate.Struct(cfg.Notifications.Kafka[id]); err != nil {
			problems = append(problems, fieldProblems("notification target", "kafka."+id, err)...)
		}
	}
	return problems
}

func validateVault(v VaultConfig) []string {
	var problems []string
	if strings.TrimSpace(v.Address) == "" {
		problems = append(problems, "vault is enabled but no address is set (vault.address or VAULT_ADDR)")
	}
	if strings.TrimSpace(v.Token) == "" {
		problems = append(problems, "vault is enabled but no token is set (vault.token or VAULT_TOKEN)")
	}
	seen := make(map[string]bool)
	for _, k := range v.Keys {
		if k.Name == "" {
			problems = append(problems, "vault key without a name")
			continue
		}
		if seen[k.Name] {
			problems = append(problems, fmt.Sprintf("vault key '%s' is declared more than once", k.Name))
		}
		seen[k.Name] = true
		if k.ValueType != "KVv1" && k.ValueType != "KVv2" {
			problems = append(problems, fmt.Sprintf("vault key '%s' has type '%s'; valid types are KVv1 or KVv2", k.Name, k.ValueType))
		}
		if k.Path == "" || k.MountPath == "" {
			problems = append(problems, fmt.Sprintf("vault key '%s' needs both path and mountpath", k.Name))
		}
	}
	return problems
}

// fieldProblems renders validator errors as "<kind> '<name>': field <f> failed <tag>".
func fieldProblems(kind, name string, err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{fmt.Sprintf("%s '%s': %v", kind, name, err)}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s '%s': %s is invalid (%s", kind, name, strings.ToLower(fe.Field()), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, msg+")")
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
