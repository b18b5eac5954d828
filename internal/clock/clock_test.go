// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package clock

import (
	"testing"
	"time"
)

func TestSetAndRestore(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	restore := Set(Frozen(frozen))
	defer restore()

	if !Now().Equal(frozen) {
		t.Fatalf("expected frozen time %v, got %v", frozen, Now())
	}
}

func TestRealClockAdvances(t *testing.T) {
	a := Now()
	time.Sleep(time.Millisecond)
	b := Now()
	if !b.After(a) {
		t.Fatal("expected real clock to advance")
	}
}
