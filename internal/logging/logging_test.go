// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import "testing"

func TestLevelFromString(t *testing.T) {
	cases := map[string]bool{
		"debug": true,
		"warn":  true,
		"error": true,
		"info":  true,
		"":      true,
	}
	for in := range cases {
		_ = levelFromString(in) // must not panic for any input
	}
}

func TestNewDefaultLogger(t *testing.T) {
	l := New(DefaultConfig())
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	l.Info("hello", "k", "v")
}

func TestWithAttachesFields(t *testing.T) {
	l := New(DefaultConfig())
	child := l.With("component", "dispatcher")
	if child == l {
		t.Fatal("With should return a distinct logger")
	}
	child.Warn("test message")
}
