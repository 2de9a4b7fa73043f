// Package remote runs prepared commands on registered SSH hosts, one
// goroutine per host, and aggregates the outcomes.
package remote

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultPort is used when a host does not set one.
const DefaultPort = 22

// Credential selects how to authenticate to a host. Methods are tried in
// the order key file, agent, password.
type Credential struct {
	KeyFile string `toml:"key_file"`
	// PassphraseEnv names the variable holding the key file passphrase.
	PassphraseEnv string `toml:"passphrase_env"`
	Agent         bool   `toml:"agent"`
	// PasswordEnv names the variable holding the password.
	PasswordEnv string `toml:"password_env"`
}

func (c Credential) empty() bool {
	return c.KeyFile == "" && !c.Agent && c.PasswordEnv == ""
}

// Host is a registered remote target. Hosts are read-only once loaded.
type Host struct {
	Name           string     `toml:"name"`
	Address        string     `toml:"address"`
	Port           int        `toml:"port"`
	User           string     `toml:"user"`
	Credential     Credential `toml:"credential"`
	KnownHostsFile string     `toml:"known_hosts"`
	Tags           []string   `toml:"tags"`
}

// Addr returns host:port for dialing.
func (h Host) Addr() string {
	port := h.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(port))
}

// HasTag reports whether the host carries tag.
func (h Host) HasTag(tag string) bool {
	for _, t := range h.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Registry resolves host names to connection details.
type Registry interface {
	Lookup(name string) (Host, bool)
	Hosts() []Host
}

// StaticRegistry is an immutable in-memory registry.
type StaticRegistry struct {
	hosts map[string]Host
	names []string
}

// NewStaticRegistry builds a registry from hosts. Names must be unique and
// every host needs an address.
func NewStaticRegistry(hosts ...Host) (*StaticRegistry, error) {
	r := &StaticRegistry{hosts: make(map[string]Host, len(hosts))}
	for _, h := range hosts {
		name := strings.TrimSpace(h.Name)
		if name == "" {
			return nil, fmt.Errorf("host with address %q has no name", h.Address)
		}
		if _, dup := r.hosts[name]; dup {
			return nil, fmt.Errorf("duplicate host %q", name)
		}
		if strings.TrimSpace(h.Address) == "" {
			return nil, fmt.Errorf("host %q has no address", name)
		}
		if h.Port < 0 || h.Port > 65535 {
			return nil, fmt.Errorf("host %q has invalid port %d", name, h.Port)
		}
		h.Name = name
		h.Tags = append([]string(nil), h.Tags...)
		r.hosts[name] = h
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup implements Registry.
func (r *StaticRegistry) Lookup(name string) (Host, bool) {
	h, ok := r.hosts[name]
	return h, ok
}

// Hosts implements Registry. Hosts are sorted by name.
func (r *StaticRegistry) Hosts() []Host {
	out := make([]Host, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.hosts[n])
	}
	return out
}

type registryFile struct {
	Defaults Host   `toml:"defaults"`
	Hosts    []Host `toml:"hosts"`
}

// LoadRegistry reads a TOML host file:
//
//	[defaults]
//	user = "deploy"
//	credential = { agent = true }
//
//	[[hosts]]
//	name = "web-1"
//	address = "10.0.0.11"
//	tags = ["web"]
//
// Values under [defaults] fill in fields a host leaves empty.
func LoadRegistry(path string) (*StaticRegistry, error) {
	var raw registryFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load host registry: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("load host registry: unknown keys %s", strings.Join(keys, ", "))
	}

	hosts := make([]Host, len(raw.Hosts))
	for i, h := range raw.Hosts {
		hosts[i] = applyDefaults(h, raw.Defaults)
	}

	reg, err := NewStaticRegistry(hosts...)
	if err != nil {
		return nil, fmt.Errorf("load host registry: %w", err)
	}
	return reg, nil
}

func applyDefaults(h, d Host) Host {
	if h.User == "" {
		h.User = d.User
	}
	if h.Port == 0 {
		h.Port = d.Port
	}
	if h.KnownHostsFile == "" {
		h.KnownHostsFile = d.KnownHostsFile
	}
	if h.Credential.empty() {
		h.Credential = d.Credential
	}
	return h
}

// ExpandTargets turns target expressions into host names. "@tag" selects
// every host with that tag and "all" selects every host; any other value is
// taken as a host name as-is. Duplicates are removed, first occurrence wins.
func ExpandTargets(reg Registry, targets []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	for _, t := range targets {
		t = strings.TrimSpace(t)
		switch {
		case t == "":
		case t == "all":
			for _, h := range reg.Hosts() {
				add(h.Name)
			}
		case strings.HasPrefix(t, "@"):
			for _, h := range reg.Hosts() {
				if h.HasTag(t[1:]) {
					add(h.Name)
				}
			}
		default:
			add(t)
		}
	}
	return out
}
