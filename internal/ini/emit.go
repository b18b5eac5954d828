// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ini

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"grimm.is/relaygate/internal/profile"
)

// Emit renders p in canonical form: version banner, fixed section
// order, keys sorted lexicographically within each section. Re-parsing
// emitted output reproduces p modulo comments (spec.md §4.1, §8).
func Emit(p *profile.Profile) string {
	var b strings.Builder

	version := p.Version
	if version == "" {
		version = "1"
	}
	fmt.Fprintf(&b, "profile-tools-version: %s\n\n", version)

	emitGeneral(&b, p.Basic)
	emitMitM(&b, p.MitM)
	emitPolicies(&b, p.Policies)
	emitPolicyGroups(&b, p.PolicyGroups)
	emitRules(&b, p.Rules)

	return b.String()
}

func emitGeneral(b *strings.Builder, s profile.BasicSettings) {
	fmt.Fprintf(b, "%s\n", sectionHeaders[sectionGeneral])
	kv := map[string]string{}
	if s.LogLevel != "" {
		kv["log-level"] = s.LogLevel
	}
	if len(s.DNSServers) > 0 {
		kv["dns-servers"] = strings.Join(s.DNSServers, ",")
	}
	if len(s.Exceptions) > 0 {
		kv["exceptions"] = strings.Join(s.Exceptions, ",")
	}
	if s.HTTPListenAddress != "" {
		kv["http-listen-address"] = s.HTTPListenAddress
	}
	if s.HTTPListenPort != 0 {
		kv["http-listen-port"] = strconv.Itoa(int(s.HTTPListenPort))
	}
	if s.SOCKSListenAddress != "" {
		kv["socks-listen-address"] = s.SOCKSListenAddress
	}
	if s.SOCKSListenPort != 0 {
		kv["socks-listen-port"] = strconv.Itoa(int(s.SOCKSListenPort))
	}
	kv["exclude-simple-hostnames"] = strconv.FormatBool(s.ExcludeSimpleHostnames)
	emitSortedKV(b, kv)
	b.WriteByte('\n')
}

func emitMitM(b *strings.Builder, m profile.MitMSettings) {
	fmt.Fprintf(b, "%s\n", sectionHeaders[sectionMitM])
	kv := map[string]string{
		"enabled":                        strconv.FormatBool(m.Enabled),
		"skip-certificate-verification":  strconv.FormatBool(m.SkipCertificateVerification),
	}
	if len(m.Hostnames) > 0 {
		kv["hostnames"] = strings.Join(m.Hostnames, ",")
	}
	if m.CABundleBase64 != "" {
		kv["ca-bundle-base64"] = m.CABundleBase64
	}
	if m.CAPassphrase != "" {
		kv["ca-passphrase"] = m.CAPassphrase
	}
	emitSortedKV(b, kv)
	b.WriteByte('\n')
}

func emitSortedKV(b *strings.Builder, kv map[string]string) {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s = %s\n", k, kv[k])
	}
}

func emitPolicies(b *strings.Builder, policies []profile.Policy) {
	fmt.Fprintf(b, "%s\n", sectionHeaders[sectionPolicies])
	names := make([]string, len(policies))
	byName := make(map[string]profile.Policy, len(policies))
	for i, pol := range policies {
		names[i] = pol.Name
		byName[pol.Name] = pol
	}
	sort.Strings(names)
	for _, n := range names {
		pol := byName[n]
		fmt.Fprintf(b, "%s = %s\n", pol.Name, policyValue(pol))
	}
	b.WriteByte('\n')
}

func policyValue(pol profile.Policy) string {
	switch pol.Kind {
	case profile.PolicyDirect:
		return "direct"
	case profile.PolicyReject:
		return "reject"
	case profile.PolicyRejectTinyGIF:
		return "reject-tinygif"
	default:
		cfg := pol.Proxy
		fields := []string{string(cfg.Protocol)}
		if cfg.ServerHost != "" {
			fields = append(fields, fmt.Sprintf("server=%s", cfg.ServerHost))
		}
		if cfg.ServerPort != 0 {
			fields = append(fields, fmt.Sprintf("port=%d", cfg.ServerPort))
		}
		if cfg.Username != "" {
			fields = append(fields, fmt.Sprintf("username=%s", cfg.Username))
		}
		if cfg.OverTLS {
			fields = append(fields, "over-tls=true")
		}
		if cfg.OverWebSocket {
			fields = append(fields, "over-websocket=true")
		}
		if cfg.SSAlgorithm != "" {
			fields = append(fields, fmt.Sprintf("algorithm=%s", cfg.SSAlgorithm))
		}
		for _, kv := range [][2]string{{"password", cfg.PasswordRef}, {"websocket-path", cfg.WebSocketPath}, {"sni", cfg.SNI}, {"cert-pin", cfg.CertPin}} {
			if kv[1] != "" {
				fields = append(fields, kv[0]+"="+kv[1])
			}
		}
		if cfg.SkipCertVerify {
			fields = append(fields, "skip-cert-verify=true")
		}
		if cfg.PreferHTTPTunnel {
			fields = append(fields, "prefer-http-tunnel=true")
		}
		return strings.Join(fields, ", ")
	}
}

func emitPolicyGroups(b *strings.Builder, groups []profile.PolicyGroup) {
	fmt.Fprintf(b, "%s\n", sectionHeaders[sectionPolicyGroup])
	sorted := append([]profile.PolicyGroup(nil), groups...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, g := range sorted {
		fields := append([]string{"select"}, g.Policies...)
		fmt.Fprintf(b, "%s = %s\n", g.Name, strings.Join(fields, ", "))
	}
	b.WriteByte('\n')
}

func emitRules(b *strings.Builder, rules []profile.Rule) {
	fmt.Fprintf(b, "%s\n", sectionHeaders[sectionRule])
	for _, r := range rules {
		line := ruleLineString(r)
		if r.Disabled {
			line = "# " + line
		}
		fmt.Fprintf(b, "%s\n", line)
	}
}

func ruleLineString(r profile.Rule) string {
	if r.Kind == profile.RuleFinal {
		return fmt.Sprintf("FINAL,%s", r.Policy)
	}
	return fmt.Sprintf("%s,%s,%s", r.Kind.String(), r.Expr, r.Policy)
}
