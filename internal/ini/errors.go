// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ini parses and emits the INI-like profile text format
// described in spec.md §4.1: a `profile-tools-version:` banner line
// followed by `[General]`, `[MitM]`, `[Policies]`, `[Policy Group]` and
// `[Rule]` sections.
package ini

import (
	"grimm.is/relaygate/internal/errors"
)

// invalidFile reports a structural parse failure at line.
func invalidFile(line int, description string) error {
	err := errors.Errorf(errors.KindConfiguration, "ini: invalid file at line %d: %s", line, description)
	err = errors.Attr(err, "line", line)
	return errors.Attr(err, "description", description)
}

// unknownPolicy reports a rule or policy-group member that does not
// resolve to any known policy or policy group.
func unknownPolicy(line int, name string) error {
	err := errors.Errorf(errors.KindConfiguration, "ini: unknown policy %q referenced at line %d", name, line)
	err = errors.Attr(err, "line", line)
	return errors.Attr(err, "name", name)
}

// ruleParse wraps a profile.RuleParseError with the source line number.
func ruleParse(line int, cause error) error {
	err := errors.Wrapf(cause, errors.KindConfiguration, "ini: malformed rule at line %d", line)
	return errors.Attr(err, "line", line)
}

// dataCorrupted reports content that parsed structurally but violates
// a type expectation (e.g. a non-numeric port).
func dataCorrupted(detail string) error {
	return errors.Errorf(errors.KindConfiguration, "ini: data corrupted: %s", detail)
}
