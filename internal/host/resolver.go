package host

import (
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/logger"
	"github.com/cybershell/backy/pkg/sshutil"
)

// DefaultPort is used when neither the host entry nor ssh_config sets one.
const DefaultPort = 22

// Resolver turns host identifiers into connection parameters. Declared
// hosts win field by field; anything they leave unset comes from the SSH
// client config, then from defaults.
type Resolver struct {
	hosts         map[string]*config.Host
	sshConfigPath string
	currentUser   func() string
	log           logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSSHConfigPath overrides ~/.ssh/config for hosts without config-file-path.
func WithSSHConfigPath(path string) Option {
	return func(r *Resolver) { r.sshConfigPath = path }
}

// WithCurrentUser overrides the fallback login name.
func WithCurrentUser(f func() string) Option {
	return func(r *Resolver) { r.currentUser = f }
}

// WithLogger sets the logger used for resolution details.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// NewResolver creates a resolver over the declared hosts.
func NewResolver(hosts map[string]*config.Host, opts ...Option) *Resolver {
	r := &Resolver{
		hosts:         hosts,
		sshConfigPath: sshutil.DefaultConfigPath(),
		currentUser:   currentUsername,
		log:           logger.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve never fails. An identifier with no declared host is treated as an
// ssh_config alias; if that has no entry either, the identifier is used as
// the hostname.
func (r *Resolver) Resolve(hostID string) sshutil.ConnectionParams {
	return r.resolve(strings.TrimSpace(hostID), map[string]bool{})
}

func (r *Resolver) resolve(id string, seen map[string]bool) sshutil.ConnectionParams {
	seen[id] = true

	h := r.hosts[id]
	configPath := r.sshConfigPath
	if h != nil && h.ConfigFilePath != "" {
		configPath = h.ConfigFilePath
	}
	entry := sshutil.LookupHost(configPath, id)

	p := sshutil.ConnectionParams{
		Alias:          id,
		StrictHostKeys: h.StrictHostKeys(),
	}
	var declared config.Host
	if h != nil {
		declared = *h
		p.Password = h.Password
		p.PrivateKeyPassword = h.PrivateKeyPassword
	} else if !entry.Found() {
		r.log.Debug("host %s is not declared and has no ssh_config entry in %s", id, configPath)
	}

	p.HostName = firstNonEmpty(declared.HostName, entry.Hostname, id)
	p.User = firstNonEmpty(declared.User, entry.User, r.currentUser())
	p.IdentityFile = firstNonEmpty(declared.PrivateKeyPath, entry.IdentityFile)
	p.KnownHostsFile = firstNonEmpty(declared.KnownHostsFile, entry.KnownHostsFile)
	p.Port = declared.Port
	if p.Port == 0 {
		p.Port = parsePort(entry.Port)
	}

	jump := firstNonEmpty(declared.ProxyJump, entry.ProxyJump)
	if jump != "" {
		p.Jump = r.resolveJump(id, jump, seen)
	}
	return p
}

// resolveJump builds the bastion chain for a ProxyJump value. A comma list
// "a,b" means a, then b, then the target, as in OpenSSH.
func (r *Resolver) resolveJump(id, jump string, seen map[string]bool) *sshutil.ConnectionParams {
	var hops []string
	for _, hop := range strings.Split(jump, ",") {
		if hop = strings.TrimSpace(hop); hop != "" {
			hops = append(hops, hop)
		}
	}

	var chain *sshutil.ConnectionParams
	for i, hop := range hops {
		if seen[hop] {
			r.log.Warn("proxyjump loop at %s while resolving %s; ignoring the rest of the chain", hop, id)
			break
		}
		next := r.resolve(hop, seen)
		if i > 0 {
			// Within an explicit list the previous hop is the bastion.
			next.Jump = chain
		}
		chain = &next
	}
	return chain
}

// HostInfoItem describes a host for listing.
type HostInfoItem struct {
	Name     string
	Params   sshutil.ConnectionParams
	Declared bool // true when the host is in the backy config
}

// Hosts lists declared hosts and ssh_config aliases, declared first, each
// group sorted by name.
func (r *Resolver) Hosts() []HostInfoItem {
	names := make([]string, 0, len(r.hosts))
	for name := range r.hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]HostInfoItem, 0, len(names))
	for _, name := range names {
		items = append(items, HostInfoItem{Name: name, Params: r.Resolve(name), Declared: true})
	}

	entries, err := sshutil.ParseSSHConfigFile(r.sshConfigPath)
	if err != nil {
		r.log.Debug("reading %s: %v", r.sshConfigPath, err)
		return items
	}
	for _, e := range entries {
		if _, ok := r.hosts[e.Alias]; ok {
			continue
		}
		items = append(items, HostInfoItem{Name: e.Alias, Params: r.Resolve(e.Alias)})
	}
	return items
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parsePort(s string) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return DefaultPort
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
