// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package geoip wraps a MaxMindDB-compatible country database behind the
// read-only lookup contract spec.md §6.7 describes. The core treats the
// on-disk format as opaque; only the ISO country code it returns matters
// to the rule engine's GEOIP rule variant.
package geoip

import (
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"grimm.is/relaygate/internal/errors"
)

// DB is a read-only GeoIP country database handle, safe for concurrent
// lookups once Open has returned.
type DB struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
}

// Open loads a MaxMindDB country database from path.
func Open(path string) (*DB, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "geoip: failed to open database")
	}
	return &DB{reader: r}, nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	if d == nil || d.reader == nil {
		return nil
	}
	return d.reader.Close()
}

// CountryISO returns the ISO country code for ip, or "" if the database
// has no entry for it. A nil DB always returns "".
func (d *DB) CountryISO(ip net.IP) (string, error) {
	if d == nil {
		return "", nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	record, err := d.reader.Country(ip)
	if err != nil {
		return "", errors.Wrap(err, errors.KindTransport, "geoip: lookup failed")
	}
	return record.Country.ISOCode, nil
}

// Lookup parses pattern as an IP literal and returns its ISO country
// code. Non-IP patterns (domains that failed to resolve to the GeoIP
// layer) return ("", nil): the rule simply doesn't match.
func (d *DB) Lookup(pattern string) (string, error) {
	ip := net.ParseIP(pattern)
	if ip == nil {
		return "", nil
	}
	return d.CountryISO(ip)
}
