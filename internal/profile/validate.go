// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package profile

import (
	"fmt"

	"grimm.is/relaygate/internal/errors"
)

// EnsureBuiltins synthesizes DIRECT, REJECT and REJECT-TINYGIF when the
// profile doesn't already define them.
func (p *Profile) EnsureBuiltins() {
	want := []struct {
		name string
		kind PolicyKind
	}{
		{Direct, PolicyDirect},
		{Reject, PolicyReject},
		{RejectTinyGIF, PolicyRejectTinyGIF},
	}
	for _, w := range want {
		if _, ok := p.FindPolicy(w.name); !ok {
			p.Policies = append(p.Policies, Policy{Name: w.name, Kind: w.kind})
		}
	}
}

// Validate checks the cross-referential invariants a Profile must
// satisfy before it can be dispatched against: exactly one FINAL rule,
// unique policy names, every rule/policy-group reference resolves, and
// the three builtin policies exist with their expected kind.
func (p *Profile) Validate() error {
	finals := 0
	for _, r := range p.Rules {
		if r.Kind == RuleFinal {
			finals++
		}
	}
	if finals == 0 {
		return errors.New(errors.KindConfiguration, "profile: missing FINAL rule")
	}
	if finals > 1 {
		return errors.New(errors.KindConfiguration, "profile: more than one FINAL rule")
	}

	seen := make(map[string]bool, len(p.Policies))
	for _, pol := range p.Policies {
		if seen[pol.Name] {
			return errors.Errorf(errors.KindConfiguration, "profile: duplicate policy name %q", pol.Name)
		}
		seen[pol.Name] = true
	}

	for _, want := range []struct {
		name string
		kind PolicyKind
	}{{Direct, PolicyDirect}, {Reject, PolicyReject}, {RejectTinyGIF, PolicyRejectTinyGIF}} {
		pol, ok := p.FindPolicy(want.name)
		if !ok {
			return errors.Errorf(errors.KindConfiguration, "profile: missing builtin policy %q", want.name)
		}
		if pol.Kind != want.kind {
			return errors.Errorf(errors.KindConfiguration,
				"profile: builtin policy %q has non-builtin type", want.name)
		}
	}

	for _, g := range p.PolicyGroups {
		for _, member := range g.Policies {
			if _, ok := resolveAny(p, member); !ok {
				return errors.Errorf(errors.KindConfiguration,
					"profile: policy group %q references unknown policy %q", g.Name, member)
			}
		}
	}

	for i, r := range p.Rules {
		if r.Kind == RuleFinal {
			continue
		}
		if _, ok := resolveAny(p, r.Policy); !ok {
			return errors.Errorf(errors.KindConfiguration,
				"profile: rule %d references unknown policy %q", i, r.Policy)
		}
	}

	final, _ := p.FinalRule()
	if _, ok := resolveAny(p, final.Policy); !ok {
		return errors.Errorf(errors.KindConfiguration,
			"profile: FINAL rule references unknown policy %q", final.Policy)
	}

	return nil
}

// resolveAny reports whether name resolves to either a policy or a
// policy group.
func resolveAny(p *Profile, name string) (any, bool) {
	if pol, ok := p.FindPolicy(name); ok {
		return pol, true
	}
	if g, ok := p.FindPolicyGroup(name); ok {
		return g, true
	}
	return nil, false
}

// CheckReservedName reports an error if name is one of the three
// builtin names but kind doesn't match the builtin's type. The source
// lineage's own profiles repeat builtin names with mismatched types;
// this is a user-visible error, never auto-corrected.
func CheckReservedName(name string, kind PolicyKind) error {
	reserved := map[string]PolicyKind{
		Direct:        PolicyDirect,
		Reject:        PolicyReject,
		RejectTinyGIF: PolicyRejectTinyGIF,
	}
	want, isReserved := reserved[name]
	if isReserved && want != kind {
		return fmt.Errorf("profile: %q is a reserved policy name and cannot be redefined with a different type", name)
	}
	return nil
}
