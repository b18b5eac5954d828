// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ruleengine

import (
	"net"
	"strings"

	"grimm.is/relaygate/internal/geoip"
	"grimm.is/relaygate/internal/logging"
	"grimm.is/relaygate/internal/profile"
)

// Resources resolves rule-matching dependencies that a Rule may need on
// first use: the loader for DOMAIN-SET/RULE-SET hydration and the GeoIP
// database for GEOIP rules. Either may be nil; a nil GeoDB makes GEOIP
// rules never match, and a nil Loader makes DOMAIN-SET/RULE-SET rules
// never match. A failed load is logged once per rule, not per
// evaluation.
type Resources struct {
	Loader Loader
	GeoDB  *geoip.DB
}

// Match reports whether rule matches pattern (a hostname or IP literal,
// per PatternsFor), hydrating DOMAIN-SET/RULE-SET rules lazily on first
// use via res.Loader. A disabled rule never matches.
func Match(rule *profile.Rule, pattern string, res Resources) bool {
	if rule.Disabled {
		return false
	}

	switch rule.Kind {
	case profile.RuleDomain:
		return matchDomain(rule.Expr, pattern)
	case profile.RuleDomainSuffix:
		return matchDomainSuffix(rule.Expr, pattern)
	case profile.RuleDomainKeyword:
		return strings.Contains(pattern, rule.Expr)
	case profile.RuleGeoIP:
		return matchGeoIP(rule.Expr, pattern, res.GeoDB)
	case profile.RuleDomainSet, profile.RuleSet:
		return matchExternalSet(rule, pattern, res)
	case profile.RuleFinal:
		return true
	default:
		return false
	}
}

func matchDomain(expr, pattern string) bool {
	return strings.EqualFold(expr, pattern)
}

// matchDomainSuffix matches expr "apple.com" against "apple.com" and
// "a.apple.com" but not "xapple.com": pattern equals expr exactly, or
// "."+expr is a suffix of pattern.
func matchDomainSuffix(expr, pattern string) bool {
	if strings.EqualFold(expr, pattern) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(pattern), "."+strings.ToLower(expr))
}

func matchGeoIP(expr, pattern string, db *geoip.DB) bool {
	if db == nil {
		return false
	}
	if net.ParseIP(pattern) == nil {
		return false
	}
	iso, err := db.Lookup(pattern)
	if err != nil || iso == "" {
		return false
	}
	return strings.EqualFold(iso, expr)
}

func matchExternalSet(rule *profile.Rule, pattern string, res Resources) bool {
	if !rule.Loaded() {
		hydrate(rule, res)
	}
	for i := range rule.SubRules {
		if Match(&rule.SubRules[i], pattern, res) {
			return true
		}
	}
	return false
}

// hydrate fetches and parses an external DOMAIN-SET/RULE-SET exactly
// once, tolerating per-line parse failures by skipping the offending
// line rather than discarding the whole resource.
func hydrate(rule *profile.Rule, res Resources) {
	if res.Loader == nil {
		rule.MarkLoaded(nil)
		return
	}
	raw, err := res.Loader.Load(rule.Expr)
	if err != nil {
		logging.Warn("ruleengine: failed to load external rule resource", "url", rule.Expr, "error", err)
		rule.MarkLoaded(nil)
		return
	}

	var sub []profile.Rule
	for _, line := range splitLines(raw) {
		if rule.Kind == profile.RuleDomainSet {
			sub = append(sub, profile.Rule{Kind: profile.RuleDomainSuffix, Expr: line})
			continue
		}
		r, perr := profile.ParseRuleLine(line)
		if perr != nil {
			logging.Warn("ruleengine: skipping malformed rule-set line", "url", rule.Expr, "line", line, "error", perr)
			continue
		}
		sub = append(sub, r)
	}
	rule.MarkLoaded(sub)
}
