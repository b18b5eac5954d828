// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package geoip

import "testing"

func TestLookupNonIPPatternSkipsDatabase(t *testing.T) {
	d := &DB{} // reader intentionally nil; must not be dereferenced
	iso, err := d.Lookup("example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iso != "" {
		t.Fatalf("expected empty ISO code for non-IP pattern, got %q", iso)
	}
}

func TestNilDBIsSafe(t *testing.T) {
	var d *DB
	if iso, err := d.CountryISO(nil); iso != "" || err != nil {
		t.Fatalf("expected (\"\", nil) from nil DB, got (%q, %v)", iso, err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("expected nil DB Close to be a no-op, got %v", err)
	}
}
