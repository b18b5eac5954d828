// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ruleengine

import (
	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/lru"
	"grimm.is/relaygate/internal/profile"
)

// DefaultCacheCapacity is the LRU cache size used when none is configured.
const DefaultCacheCapacity = 100

// Engine evaluates a profile's ordered rule list against the pattern
// lists PatternsFor produces, caching the winning rule under every
// pattern tried (spec.md §4.2).
type Engine struct {
	rules []profile.Rule
	res   Resources
	cache *lru.Cache[string, *profile.Rule]
}

// New builds an Engine over rules, with an LRU cache of the given
// capacity (DefaultCacheCapacity if capacity <= 0).
func New(rules []profile.Rule, res Resources, capacity int) *Engine {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Engine{
		rules: rules,
		res:   res,
		cache: lru.New[string, *profile.Rule](capacity),
	}
}

// Evaluate returns the first rule matching any of patterns, in pattern
// order, checking the cache before running a full scan. It always
// returns a rule when the rule list contains a FINAL entry; otherwise
// it returns errors.KindConfiguration (spec.md §4.2: "FINAL absence is
// a configuration bug, fatal at dispatch").
func (e *Engine) Evaluate(patterns []string) (*profile.Rule, error) {
	for _, p := range patterns {
		if rule, ok := e.cache.Get(p); ok {
			return rule, nil
		}
	}

	rule, err := e.scan(patterns)
	if err != nil {
		return nil, err
	}

	for _, p := range patterns {
		e.cache.Put(p, rule)
	}
	return rule, nil
}

// scan runs the full rule-list traversal, remembering but not
// short-circuiting on a FINAL rule encountered mid-scan.
func (e *Engine) scan(patterns []string) (*profile.Rule, error) {
	var final *profile.Rule

	for i := range e.rules {
		rule := &e.rules[i]
		if rule.Disabled {
			continue
		}
		if rule.Kind == profile.RuleFinal {
			if final == nil {
				final = rule
			}
			continue
		}
		for _, p := range patterns {
			if Match(rule, p, e.res) {
				return rule, nil
			}
		}
	}

	if final != nil {
		return final, nil
	}
	return nil, errors.New(errors.KindConfiguration, "ruleengine: rule list has no FINAL rule")
}
