// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package certstore implements the MitM certificate store contract of
// spec.md §6.7: load a base64 PKCS#12 CA bundle, then mint and cache a
// leaf certificate per hostname for the process lifetime. The X.509/
// PKCS#12 handling is treated as an external collaborator at the
// overall system boundary (spec.md §1); this package is the concrete
// binding to golang.org/x/crypto/pkcs12 that contract needs.
package certstore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/pkcs12"

	"grimm.is/relaygate/internal/clock"
	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/profile"
)

// leafLifetime is how long a minted leaf certificate is valid for.
const leafLifetime = 365 * 24 * time.Hour

// Store mints and caches per-hostname leaf certificates signed by a
// configured CA, per spec.md §4.8/§6.7.
type Store struct {
	caCert *x509.Certificate
	caKey  crypto.Signer

	mu        sync.Mutex
	hostnames []string
	leaves    map[string]*tls.Certificate
}

// New builds a Store directly from an in-memory CA certificate and
// signing key, for callers that already hold the decoded pair.
func New(caCert *x509.Certificate, caKey crypto.Signer) *Store {
	return &Store{caCert: caCert, caKey: caKey, leaves: make(map[string]*tls.Certificate)}
}

// Load decodes a base64-encoded PKCS#12 bundle protected by passphrase
// and returns a Store ready to mint leaves under that CA. A missing or
// malformed bundle surfaces as errors.KindConfiguration, matching
// spec.md §6.7's FailedToLoadCertificate.
func Load(bundleBase64, passphrase string) (*Store, error) {
	raw, err := base64.StdEncoding.DecodeString(bundleBase64)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "certstore: CA bundle is not valid base64")
	}

	key, cert, err := pkcs12.Decode(raw, passphrase)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "certstore: failed to decode PKCS#12 bundle")
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errors.New(errors.KindConfiguration, "certstore: CA private key does not support signing")
	}

	return &Store{
		caCert: cert,
		caKey:  signer,
		leaves: make(map[string]*tls.Certificate),
	}, nil
}

// SetMitMHostnames replaces the set of hostname patterns ("*.example.com"
// wildcards permitted) this store will mint leaves for.
func (s *Store) SetMitMHostnames(patterns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostnames = append([]string(nil), patterns...)
}

// MatchesHostname reports whether sni matches a configured MitM
// hostname pattern.
func (s *Store) MatchesHostname(sni string) bool {
	s.mu.Lock()
	patterns := s.hostnames
	s.mu.Unlock()
	return profile.MitMSettings{Hostnames: patterns}.MatchesHostname(sni)
}

// CertificateFor returns the leaf certificate for sni, minting and
// caching it under the store's lock on first use ("first-writer wins
// per hostname", spec.md §5).
func (s *Store) CertificateFor(sni string) (*tls.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if leaf, ok := s.leaves[sni]; ok {
		return leaf, nil
	}

	leaf, err := s.mint(sni)
	if err != nil {
		return nil, err
	}
	s.leaves[sni] = leaf
	return leaf, nil
}

func (s *Store) mint(sni string) (*tls.Certificate, error) {
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "certstore: failed to generate leaf key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "certstore: failed to generate serial number")
	}

	now := clock.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: sni},
		DNSNames:     []string{sni},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(leafLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, s.caCert, leafKey.Public(), s.caKey)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "certstore: failed to mint leaf certificate")
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, s.caCert.Raw},
		PrivateKey:  leafKey,
		Leaf:        template,
	}, nil
}
