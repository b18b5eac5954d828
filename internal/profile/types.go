// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package profile is the typed data model for a gateway profile: basic
// settings, MitM settings, rules, policies, and policy groups. It is
// constructed once per process start (see package ini) and is immutable
// thereafter — reloading a profile means restarting the process.
package profile

import (
	"fmt"
	"strings"
)

// Builtin policy names that always exist in a profile.
const (
	Direct        = "DIRECT"
	Reject        = "REJECT"
	RejectTinyGIF = "REJECT-TINYGIF"
)

// AddressKind tags a TargetAddress's variant.
type AddressKind int

const (
	AddressDomainPort AddressKind = iota
	AddressSocket
)

// TargetAddress is the destination the inbound handshake produced: either
// a domain name plus port, or a literal socket address plus port.
type TargetAddress struct {
	Kind AddressKind

	// DomainPort fields.
	Host string
	// Socket fields. IP is nil for the DomainPort variant.
	IP []byte // 4 bytes (v4) or 16 bytes (v6); nil for DomainPort

	Port uint16
}

// NewDomainPort builds a TargetAddress for a hostname + port.
func NewDomainPort(host string, port uint16) (TargetAddress, error) {
	if host == "" {
		return TargetAddress{}, fmt.Errorf("profile: empty host")
	}
	if port == 0 {
		return TargetAddress{}, fmt.Errorf("profile: port must be in [1, 65535]")
	}
	return TargetAddress{Kind: AddressDomainPort, Host: host, Port: port}, nil
}

// NewSocketAddress builds a TargetAddress for an IP literal + port.
func NewSocketAddress(ip []byte, port uint16) (TargetAddress, error) {
	if len(ip) != 4 && len(ip) != 16 {
		return TargetAddress{}, fmt.Errorf("profile: IP must be 4 or 16 bytes, got %d", len(ip))
	}
	if port == 0 {
		return TargetAddress{}, fmt.Errorf("profile: port must be in [1, 65535]")
	}
	return TargetAddress{Kind: AddressSocket, IP: ip, Port: port}, nil
}

// IsDomainPort reports whether this address names a domain rather than a
// socket address.
func (a TargetAddress) IsDomainPort() bool { return a.Kind == AddressDomainPort }

func (a TargetAddress) String() string {
	switch a.Kind {
	case AddressDomainPort:
		return fmt.Sprintf("%s:%d", a.Host, a.Port)
	default:
		return fmt.Sprintf("%s:%d", ipString(a.IP), a.Port)
	}
}

func ipString(ip []byte) string {
	parts := make([]string, len(ip))
	if len(ip) == 4 {
		for i, b := range ip {
			parts[i] = fmt.Sprintf("%d", b)
		}
		return strings.Join(parts, ".")
	}
	// IPv6: render as colon-separated hextets, no compression needed for
	// our internal purposes.
	hextets := make([]string, 8)
	for i := 0; i < 8; i++ {
		hextets[i] = fmt.Sprintf("%x", uint16(ip[2*i])<<8|uint16(ip[2*i+1]))
	}
	return strings.Join(hextets, ":")
}

// RuleKind tags a Rule's matching variant.
type RuleKind int

const (
	RuleDomain RuleKind = iota
	RuleDomainSuffix
	RuleDomainKeyword
	RuleDomainSet
	RuleSet
	RuleGeoIP
	RuleFinal
)

func (k RuleKind) String() string {
	switch k {
	case RuleDomain:
		return "DOMAIN"
	case RuleDomainSuffix:
		return "DOMAIN-SUFFIX"
	case RuleDomainKeyword:
		return "DOMAIN-KEYWORD"
	case RuleDomainSet:
		return "DOMAIN-SET"
	case RuleSet:
		return "RULE-SET"
	case RuleGeoIP:
		return "GEOIP"
	case RuleFinal:
		return "FINAL"
	default:
		return "UNKNOWN"
	}
}

// Rule is a single ordered entry in the rule engine's rule list.
type Rule struct {
	Kind Kind

	// Expr holds the Domain/DomainSuffix/DomainKeyword literal, the
	// DomainSet/RuleSet URL, or the GeoIP ISO country code, depending on
	// Kind.
	Expr string

	Policy   string
	Disabled bool

	// SubRules is populated lazily for DomainSet/RuleSet on first use and
	// cached for the process lifetime.
	SubRules []Rule
	loaded   bool
}

// Kind is an alias retained for readability at call sites (profile.Rule
// fields read as rule.Kind, a profile.Rule "Kind" value).
type Kind = RuleKind

// MarkLoaded records that SubRules has been hydrated (even if empty),
// so the rule engine does not refetch the external resource.
func (r *Rule) MarkLoaded(subRules []Rule) {
	r.SubRules = subRules
	r.loaded = true
}

// Loaded reports whether SubRules has been hydrated.
func (r *Rule) Loaded() bool { return r.loaded }

// PolicyKind tags a Policy's variant.
type PolicyKind int

const (
	PolicyDirect PolicyKind = iota
	PolicyReject
	PolicyRejectTinyGIF
	PolicyProxy
)

// ProxyProtocol names an outbound proxy wire protocol.
type ProxyProtocol string

const (
	ProtocolHTTP  ProxyProtocol = "http"
	ProtocolSOCKS ProxyProtocol = "socks5"
	ProtocolSS    ProxyProtocol = "ss"
	ProtocolVMess ProxyProtocol = "vmess"
)

// ProxyConfig describes an outbound proxy server and how to reach it.
type ProxyConfig struct {
	ServerHost string
	ServerPort uint16
	Protocol   ProxyProtocol

	Username    string
	PasswordRef string
	Authenticate bool

	PreferHTTPTunnel bool

	OverTLS         bool
	OverWebSocket   bool
	WebSocketPath   string
	SkipCertVerify  bool
	SNI             string
	CertPin         string

	SSAlgorithm string // aes-128-gcm, aes-192-gcm, aes-256-gcm, chacha20-poly1305, xchacha20-poly1305
}

// Policy is a named outbound decision. Proxy policies additionally carry
// a ProxyConfig. At dispatch time a Policy is cloned and given a
// Destination before MakeConnection is called.
type Policy struct {
	Name        string
	Kind        PolicyKind
	Proxy       ProxyConfig
	Destination TargetAddress
}

// Clone returns a copy of the Policy with Destination set, leaving the
// original policy in the profile untouched.
func (p Policy) Clone(dest TargetAddress) Policy {
	p.Destination = dest
	return p
}

// PolicyGroup is a named, ordered set of policy names with the first
// entry as the currently-selected member.
type PolicyGroup struct {
	Name     string
	Policies []string
}

// Selected returns the currently-selected member, i.e. the first entry.
func (g PolicyGroup) Selected() string {
	if len(g.Policies) == 0 {
		return ""
	}
	return g.Policies[0]
}

// BasicSettings holds [General]-section settings.
type BasicSettings struct {
	LogLevel               string
	DNSServers             []string
	Exceptions             []string
	HTTPListenAddress      string
	HTTPListenPort         uint16
	SOCKSListenAddress     string
	SOCKSListenPort        uint16
	ExcludeSimpleHostnames bool
}

// HasHTTPListener reports whether [General] configured an HTTP listener.
func (b BasicSettings) HasHTTPListener() bool { return b.HTTPListenPort != 0 }

// HasSOCKSListener reports whether [General] configured a SOCKS5 listener.
func (b BasicSettings) HasSOCKSListener() bool { return b.SOCKSListenPort != 0 }

// MitMSettings holds [MitM]-section settings.
type MitMSettings struct {
	Enabled                   bool
	SkipCertificateVerification bool
	Hostnames                 []string
	CABundleBase64            string
	CAPassphrase              string
}

// MatchesHostname reports whether sni matches any configured MitM
// hostname, honoring "*.example.com" wildcards.
func (m MitMSettings) MatchesHostname(sni string) bool {
	for _, h := range m.Hostnames {
		if matchWildcardHost(h, sni) {
			return true
		}
	}
	return false
}

func matchWildcardHost(pattern, host string) bool {
	if !strings.HasPrefix(pattern, "*.") {
		return pattern == host
	}
	suffix := pattern[1:] // ".example.com"
	return strings.HasSuffix(host, suffix)
}

// Profile is the root of the gateway configuration.
type Profile struct {
	Version      string
	Basic        BasicSettings
	MitM         MitMSettings
	Rules        []Rule
	Policies     []Policy
	PolicyGroups []PolicyGroup
}

// FindPolicy returns the named policy, searching builtins and
// user-defined policies.
func (p *Profile) FindPolicy(name string) (Policy, bool) {
	for _, pol := range p.Policies {
		if pol.Name == name {
			return pol, true
		}
	}
	return Policy{}, false
}

// FindPolicyGroup returns the named policy group.
func (p *Profile) FindPolicyGroup(name string) (PolicyGroup, bool) {
	for _, g := range p.PolicyGroups {
		if g.Name == name {
			return g, true
		}
	}
	return PolicyGroup{}, false
}

// ResolvePolicyName resolves a rule's policy field (which may name either
// a policy or a policy group) to a concrete Policy.
func (p *Profile) ResolvePolicyName(name string) (Policy, bool) {
	if g, ok := p.FindPolicyGroup(name); ok {
		return p.FindPolicy(g.Selected())
	}
	return p.FindPolicy(name)
}

// FinalRule returns the profile's mandatory FINAL rule.
func (p *Profile) FinalRule() (Rule, bool) {
	for _, r := range p.Rules {
		if r.Kind == RuleFinal {
			return r, true
		}
	}
	return Rule{}, false
}
