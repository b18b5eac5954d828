// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ini

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"grimm.is/relaygate/internal/profile"
)

// unknownBlock is a section this parser doesn't recognize, collected
// verbatim while scanning. The blocks are not carried on the returned
// Profile, so Emit does not reproduce unknown sections.
type unknownBlock struct {
	header string
	lines  []string
}

// Parse reads the INI-like profile format from r and returns the typed
// Profile, per spec.md §4.1.
func Parse(r io.Reader) (*profile.Profile, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	if !scanner.Scan() {
		return nil, invalidFile(1, "empty file")
	}
	lineNo++
	banner := strings.TrimSpace(scanner.Text())
	if !strings.HasPrefix(banner, "profile-tools-version:") {
		return nil, invalidFile(1, "first line must begin with \"profile-tools-version:\"")
	}
	version := strings.TrimSpace(strings.TrimPrefix(banner, "profile-tools-version:"))

	p := &profile.Profile{Version: version}

	current := sectionUnknown
	var currentHeader string
	var ruleLines []struct {
		line int
		text string
	}
	var unknowns []unknownBlock

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(raw)

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") && current != sectionRule {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = classifySection(line)
			currentHeader = line
			if current == sectionUnknown {
				unknowns = append(unknowns, unknownBlock{header: currentHeader})
			}
			continue
		}

		switch current {
		case sectionGeneral:
			if err := parseKeyValueInto(&p.Basic, line, lineNo); err != nil {
				return nil, err
			}
		case sectionMitM:
			if err := parseMitMLine(&p.MitM, line, lineNo); err != nil {
				return nil, err
			}
		case sectionPolicies:
			pol, err := parsePolicyLine(line, lineNo)
			if err != nil {
				return nil, err
			}
			p.Policies = append(p.Policies, pol)
		case sectionPolicyGroup:
			g, err := parsePolicyGroupLine(line, lineNo)
			if err != nil {
				return nil, err
			}
			p.PolicyGroups = append(p.PolicyGroups, g)
		case sectionRule:
			ruleLines = append(ruleLines, struct {
				line int
				text string
			}{lineNo, raw})
		case sectionUnknown:
			if len(unknowns) == 0 {
				unknowns = append(unknowns, unknownBlock{header: currentHeader})
			}
			last := &unknowns[len(unknowns)-1]
			last.lines = append(last.lines, raw)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, invalidFile(lineNo, err.Error())
	}

	for _, rl := range ruleLines {
		rule, err := profile.ParseRuleLine(rl.text)
		if err != nil {
			return nil, ruleParse(rl.line, err)
		}
		p.Rules = append(p.Rules, rule)
	}

	p.EnsureBuiltins()

	if err := crossValidate(p, ruleLines); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// parseKeyValueInto fills BasicSettings fields from a "key = value"
// line in the [General] section.
func parseKeyValueInto(b *profile.BasicSettings, line string, lineNo int) error {
	key, raw, err := splitKV(line, lineNo)
	if err != nil {
		return err
	}
	v := parseScalar(key, raw)

	switch key {
	case "log-level":
		b.LogLevel = v.String()
	case "dns-servers":
		b.DNSServers = toStrings(v)
	case "exceptions":
		b.Exceptions = toStrings(v)
	case "http-listen-address":
		b.HTTPListenAddress = v.String()
	case "http-listen-port":
		port, perr := toPort(v)
		if perr != nil {
			return dataCorrupted(fmt.Sprintf("http-listen-port: %v", perr))
		}
		b.HTTPListenPort = port
	case "socks-listen-address":
		b.SOCKSListenAddress = v.String()
	case "socks-listen-port":
		port, perr := toPort(v)
		if perr != nil {
			return dataCorrupted(fmt.Sprintf("socks-listen-port: %v", perr))
		}
		b.SOCKSListenPort = port
	case "exclude-simple-hostnames":
		b.ExcludeSimpleHostnames = v.isBool && v.b
	}
	return nil
}

func parseMitMLine(m *profile.MitMSettings, line string, lineNo int) error {
	key, raw, err := splitKV(line, lineNo)
	if err != nil {
		return err
	}
	v := parseScalar(key, raw)

	switch key {
	case "enabled":
		m.Enabled = v.isBool && v.b
	case "skip-certificate-verification":
		m.SkipCertificateVerification = v.isBool && v.b
	case "hostnames":
		m.Hostnames = toStrings(v)
	case "ca-bundle-base64":
		m.CABundleBase64 = v.String()
	case "ca-passphrase":
		m.CAPassphrase = v.String()
	}
	return nil
}

// parsePolicyLine parses "name = type[, k=v, k=v...]".
func parsePolicyLine(line string, lineNo int) (profile.Policy, error) {
	name, rest, err := splitKV(line, lineNo)
	if err != nil {
		return profile.Policy{}, err
	}
	fields := splitTopLevelComma(rest)
	if len(fields) == 0 {
		return profile.Policy{}, invalidFile(lineNo, "policy line missing type")
	}
	typ := strings.ToLower(strings.TrimSpace(fields[0]))

	pol := profile.Policy{Name: name}
	switch typ {
	case "direct":
		pol.Kind = profile.PolicyDirect
	case "reject":
		pol.Kind = profile.PolicyReject
	case "reject-tinygif":
		pol.Kind = profile.PolicyRejectTinyGIF
	default:
		pol.Kind = profile.PolicyProxy
		pol.Proxy.Protocol = profile.ProxyProtocol(typ)
		if err := applyProxyFields(&pol.Proxy, fields[1:], lineNo); err != nil {
			return profile.Policy{}, err
		}
	}

	if err := profile.CheckReservedName(name, pol.Kind); err != nil {
		return profile.Policy{}, invalidFile(lineNo, err.Error())
	}
	return pol, nil
}

func applyProxyFields(cfg *profile.ProxyConfig, fields []string, lineNo int) error {
	for _, f := range fields {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		switch key {
		case "server":
			cfg.ServerHost = val
		case "port":
			port, err := strconv.ParseUint(val, 10, 16)
			if err != nil {
				return dataCorrupted(fmt.Sprintf("line %d: port: %v", lineNo, err))
			}
			cfg.ServerPort = uint16(port)
		case "username":
			cfg.Username = val
		case "password":
			cfg.PasswordRef = val
			cfg.Authenticate = true
		case "over-tls":
			cfg.OverTLS = val == "true"
		case "over-websocket":
			cfg.OverWebSocket = val == "true"
		case "websocket-path":
			cfg.WebSocketPath = val
		case "skip-cert-verify":
			cfg.SkipCertVerify = val == "true"
		case "sni":
			cfg.SNI = val
		case "cert-pin":
			cfg.CertPin = val
		case "prefer-http-tunnel":
			cfg.PreferHTTPTunnel = val == "true"
		case "algorithm":
			cfg.SSAlgorithm = val
		}
	}
	return nil
}

func parsePolicyGroupLine(line string, lineNo int) (profile.PolicyGroup, error) {
	name, rest, err := splitKV(line, lineNo)
	if err != nil {
		return profile.PolicyGroup{}, err
	}
	fields := splitTopLevelComma(rest)
	if len(fields) == 0 {
		return profile.PolicyGroup{}, invalidFile(lineNo, "policy group line missing type")
	}
	typ := strings.ToLower(strings.TrimSpace(fields[0]))
	if typ != "select" && typ != "" {
		return profile.PolicyGroup{}, invalidFile(lineNo, fmt.Sprintf("unsupported policy group type %q", typ))
	}

	g := profile.PolicyGroup{Name: name}
	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		if f == "" || strings.Contains(f, "=") {
			continue // metadata pair, not a member name
		}
		g.Policies = append(g.Policies, f)
	}
	return g, nil
}

func splitKV(line string, lineNo int) (key, value string, err error) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", invalidFile(lineNo, fmt.Sprintf("expected \"key = value\", got %q", line))
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), nil
}

// splitTopLevelComma splits a comma-separated field list, trimming
// whitespace around each field.
func splitTopLevelComma(s string) []string {
	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		out = append(out, strings.TrimSpace(r))
	}
	return out
}

func toStrings(v scalar) []string {
	if !v.isList {
		if v.str == "" {
			return nil
		}
		return []string{v.str}
	}
	out := make([]string, len(v.list))
	for i, e := range v.list {
		out[i] = e.String()
	}
	return out
}

func toPort(v scalar) (uint16, error) {
	if !v.isNum {
		return 0, fmt.Errorf("not a number")
	}
	if v.num < 0 || v.num > 65535 {
		return 0, fmt.Errorf("out of range: %v", v.num)
	}
	return uint16(v.num), nil
}

// crossValidate checks every rule's policy and every policy-group
// member resolves to a known policy or policy group, per spec.md §4.1.
// A rule failure carries the rule's original line number; a policy-group
// member failure carries line 0, since group lines are not tracked.
func crossValidate(p *profile.Profile, ruleLines []struct {
	line int
	text string
}) error {
	for i, r := range p.Rules {
		if _, ok := p.FindPolicy(r.Policy); ok {
			continue
		}
		if _, ok := p.FindPolicyGroup(r.Policy); ok {
			continue
		}
		line := 0
		if i < len(ruleLines) {
			line = ruleLines[i].line
		}
		return unknownPolicy(line, r.Policy)
	}
	for _, g := range p.PolicyGroups {
		for _, member := range g.Policies {
			if _, ok := p.FindPolicy(member); ok {
				continue
			}
			if _, ok := p.FindPolicyGroup(member); ok {
				continue
			}
			return unknownPolicy(0, member)
		}
	}
	return nil
}
