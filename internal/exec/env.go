package exec

import (
	"context"
	"fmt"
	"sort"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
)

// SecretResolver turns secret references into values.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// environment builds the variables declared for cmd: the command's env
// file, then its environment bindings, then overrides. Binding values are
// expanded against the project .env before secret resolution.
func (e *Executor) environment(ctx context.Context, cmd *config.Command, override map[string]string) (map[string]string, error) {
	env := make(map[string]string)

	if cmd.Env != "" {
		vars, err := config.ReadEnvFile(cmd.Env)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrStart,
				fmt.Sprintf("Can't load env file for %s", cmd.Name),
				"Check the env path; relative paths resolve against the config directory")
		}
		for k, v := range vars {
			env[k] = v
		}
	}

	for _, binding := range cmd.Environment {
		key, value, err := config.SplitBinding(binding)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrStart,
				fmt.Sprintf("Bad environment entry on %s", cmd.Name), "Use KEY=VALUE")
		}
		value, err = config.ExpandVars(value, e.dotenv)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrStart,
				fmt.Sprintf("Can't expand %s on %s", key, cmd.Name),
				"Check the $VAR syntax")
		}
		if e.secrets != nil {
			value, err = e.secrets.Resolve(ctx, value)
			if err != nil {
				return nil, err
			}
		}
		env[key] = value
	}

	for k, v := range override {
		env[k] = v
	}
	return env, nil
}

// mergeEnviron overlays vars on a KEY=VALUE list, keeping order stable.
func mergeEnviron(base []string, vars map[string]string) []string {
	out := make([]string, 0, len(base)+len(vars))
	for _, kv := range base {
		key, _, err := config.SplitBinding(kv)
		if err != nil {
			continue
		}
		if _, overridden := vars[key]; overridden {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}
