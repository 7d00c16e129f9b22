// Package secret resolves secret references found in config values.
//
// A reference is one of:
//
//	env:NAME    value of environment variable NAME
//	file:PATH   contents of PATH (relative paths resolve against the config dir)
//	vault:KEY   value of the vault key named KEY under vault.keys
//
// The legacy %{...}% wrapper is accepted around any of them. Any other
// string is a literal and is returned unchanged. Values are fetched on every
// call and never cached.
package secret

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
)

// ErrUnavailable is the cause of every failed resolution.
var ErrUnavailable = stderrors.New("secret unavailable")

const (
	envPrefix   = "env:"
	filePrefix  = "file:"
	vaultPrefix = "vault:"
	macroStart  = "%{"
	macroEnd    = "}%"
)

// Backend fetches a single value from a secret store.
type Backend interface {
	Fetch(ctx context.Context, key config.VaultKey) (string, error)
}

// Resolver turns references into values.
type Resolver struct {
	dir     string
	keys    map[string]config.VaultKey
	backend Backend
	lookup  func(string) (string, bool)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithBackend sets the backend used for vault: references.
func WithBackend(b Backend) Option {
	return func(r *Resolver) { r.backend = b }
}

// WithLookupEnv overrides how env: references are read. It has the
// signature of os.LookupEnv.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookup = lookup }
}

// NewResolver creates a resolver for the given config. Without WithBackend,
// vault: references fail with ErrUnavailable.
func NewResolver(cfg *config.Config, opts ...Option) *Resolver {
	r := &Resolver{
		keys:   make(map[string]config.VaultKey),
		lookup: os.LookupEnv,
	}
	if cfg != nil {
		r.dir = cfg.Dir
		for _, k := range cfg.Vault.Keys {
			r.keys[k.Name] = k
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsReference reports whether s is a secret reference rather than a literal.
func IsReference(s string) bool {
	s = unwrap(s)
	return strings.HasPrefix(s, envPrefix) || strings.HasPrefix(s, filePrefix) || strings.HasPrefix(s, vaultPrefix)
}

// Resolve returns the value behind ref. Literals are returned unchanged.
// An environment variable that is set but empty resolves to "".
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if !IsReference(ref) {
		return ref, nil
	}
	s := unwrap(ref)

	if name, ok := strings.CutPrefix(s, envPrefix); ok {
		name = strings.TrimSpace(name)
		v, set := r.lookup(name)
		if !set {
			return "", unavailable(ref, fmt.Errorf("environment variable %s is not set", name))
		}
		return v, nil
	}

	if p, ok := strings.CutPrefix(s, filePrefix); ok {
		p = config.ResolvePath(r.dir, p)
		data, err := os.ReadFile(p)
		if err != nil {
			return "", unavailable(ref, err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}

	if name, ok := strings.CutPrefix(s, vaultPrefix); ok {
		name = strings.TrimSpace(name)
		key, found := r.keys[name]
		if !found {
			return "", unavailable(ref, fmt.Errorf("key %s is not declared under vault.keys", name))
		}
		if r.backend == nil {
			return "", unavailable(ref, fmt.Errorf("vault is not enabled"))
		}
		v, err := r.backend.Fetch(ctx, key)
		if err != nil {
			return "", unavailable(ref, err)
		}
		return v, nil
	}

	return ref, nil
}

func unwrap(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, macroStart) && strings.HasSuffix(s, macroEnd) {
		s = strings.TrimSuffix(strings.TrimPrefix(s, macroStart), macroEnd)
	}
	return s
}

func unavailable(ref string, cause error) error {
	return errors.WrapWithCode(fmt.Errorf("%w: %w", ErrUnavailable, cause), errors.ErrSecret,
		fmt.Sprintf("Cannot resolve secret %s", ref),
		"Check the referenced variable, file or vault key exists")
}
