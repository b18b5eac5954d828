// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package clock indirects time.Now so tests can freeze or advance the
// clock without sleeping, matching the indirection the DNS resolver's
// TTL cache relies on.
package clock

import "time"

// Clock is the seam tests replace.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

var current Clock = realClock{}

// Now returns the current time from the active Clock.
func Now() time.Time { return current.Now() }

// Set installs clk as the active Clock, returning a restore func.
func Set(clk Clock) (restore func()) {
	prev := current
	current = clk
	return func() { current = prev }
}

// Frozen returns a Clock that always reports t.
func Frozen(t time.Time) Clock { return frozenClock{t} }

type frozenClock struct{ t time.Time }

func (f frozenClock) Now() time.Time { return f.t }
