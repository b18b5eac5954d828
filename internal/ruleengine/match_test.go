// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ruleengine

import (
	"testing"

	"grimm.is/relaygate/internal/profile"
)

func TestMatchDomainSuffix(t *testing.T) {
	cases := []struct {
		pattern string
		want    bool
	}{
		{"apple.com", true},
		{"a.apple.com", true},
		{"xapple.com", false},
		{"apple.com.evil.com", false},
	}
	for _, c := range cases {
		rule := &profile.Rule{Kind: profile.RuleDomainSuffix, Expr: "apple.com"}
		got := Match(rule, c.pattern, Resources{})
		if got != c.want {
			t.Errorf("DomainSuffix(apple.com).match(%q) = %v, want %v", c.pattern, got, c.want)
		}
	}
}

func TestMatchDomainExact(t *testing.T) {
	rule := &profile.Rule{Kind: profile.RuleDomain, Expr: "example.com"}
	if !Match(rule, "example.com", Resources{}) {
		t.Error("expected exact match")
	}
	if Match(rule, "sub.example.com", Resources{}) {
		t.Error("DOMAIN must not match subdomains")
	}
}

func TestMatchDomainKeyword(t *testing.T) {
	rule := &profile.Rule{Kind: profile.RuleDomainKeyword, Expr: "ads"}
	if !Match(rule, "adserver.example.com", Resources{}) {
		t.Error("expected substring match")
	}
	if Match(rule, "example.com", Resources{}) {
		t.Error("did not expect a match")
	}
}

func TestMatchFinalAlwaysTrue(t *testing.T) {
	rule := &profile.Rule{Kind: profile.RuleFinal}
	if !Match(rule, "anything-at-all", Resources{}) {
		t.Error("FINAL must always match")
	}
}

func TestMatchDisabledRuleNeverMatches(t *testing.T) {
	rule := &profile.Rule{Kind: profile.RuleFinal, Disabled: true}
	if Match(rule, "anything", Resources{}) {
		t.Error("disabled rule must never match, even FINAL")
	}
}

type fakeLoader struct {
	lines map[string][]byte
}

func (f *fakeLoader) Load(url string) ([]byte, error) {
	return f.lines[url], nil
}

func TestMatchDomainSetLazyHydration(t *testing.T) {
	loader := &fakeLoader{lines: map[string][]byte{
		"https://example.test/set.txt": []byte("# comment\nexample.com\n;also a comment\nfoo.example\n"),
	}}
	rule := &profile.Rule{Kind: profile.RuleDomainSet, Expr: "https://example.test/set.txt"}
	res := Resources{Loader: loader}

	if !Match(rule, "example.com", res) {
		t.Error("expected example.com to match after hydration")
	}
	if !Match(rule, "sub.foo.example", res) {
		t.Error("expected sub.foo.example to match foo.example by suffix")
	}
	if Match(rule, "unrelated.test", res) {
		t.Error("did not expect a match for an unrelated domain")
	}
	if !rule.Loaded() {
		t.Error("expected rule to be marked loaded after first match")
	}
}

func TestMatchRuleSetReparsesSubRules(t *testing.T) {
	loader := &fakeLoader{lines: map[string][]byte{
		"https://example.test/rules.txt": []byte("DOMAIN-SUFFIX,apple.com,REJECT\nFINAL,DIRECT\n"),
	}}
	rule := &profile.Rule{Kind: profile.RuleSet, Expr: "https://example.test/rules.txt", Policy: "PROXY"}
	res := Resources{Loader: loader}

	if !Match(rule, "a.apple.com", res) {
		t.Error("expected sub-rule DOMAIN-SUFFIX to match")
	}
}

func TestMatchGeoIPNonIPPatternNeverMatches(t *testing.T) {
	rule := &profile.Rule{Kind: profile.RuleGeoIP, Expr: "US"}
	if Match(rule, "example.com", Resources{}) {
		t.Error("GEOIP rule must not match a non-IP pattern")
	}
}

func TestMatchNilLoaderSkipsExternalSet(t *testing.T) {
	rule := &profile.Rule{Kind: profile.RuleDomainSet, Expr: "https://example.test/set.txt"}
	if Match(rule, "example.com", Resources{}) {
		t.Error("expected no match when the loader is nil")
	}
}
