// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dispatcher implements the per-connection orchestration spec.md
// §4.7 describes: accept → resolve → rule-match → policy-select →
// connect → splice, with TLS MitM and HTTP capture inserted when
// applicable (spec.md §4.8).
package dispatcher

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"grimm.is/relaygate/internal/certstore"
	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/httpcapture"
	"grimm.is/relaygate/internal/inbound"
	"grimm.is/relaygate/internal/logging"
	"grimm.is/relaygate/internal/metrics"
	"grimm.is/relaygate/internal/mitm"
	"grimm.is/relaygate/internal/policy"
	"grimm.is/relaygate/internal/profile"
	"grimm.is/relaygate/internal/resolve"
	"grimm.is/relaygate/internal/ruleengine"
	"grimm.is/relaygate/internal/tlsdetect"
)

// sniffBufferSize is large enough to hold a typical ClientHello so
// Detect never has to fall back to an unbuffered passthrough.
const sniffBufferSize = 16 * 1024

// Protocol names the inbound handshake a listener terminates.
type Protocol int

const (
	ProtocolHTTP Protocol = iota
	ProtocolSOCKS5
)

func (p Protocol) String() string {
	if p == ProtocolSOCKS5 {
		return "socks5"
	}
	return "http"
}

// OutboundMode overrides (or not) how a connection's policy is chosen,
// matching the CLI wrapper's --outbound-mode flag (spec.md §6.4).
type OutboundMode int

const (
	// ModeRule runs the full resolve→rule-match→policy-select pipeline.
	ModeRule OutboundMode = iota
	// ModeDirect forces every connection through the DIRECT policy,
	// bypassing rule evaluation entirely.
	ModeDirect
	// ModeProxy skips straight to the profile's FINAL rule's resolved
	// policy, without matching the ordered rule list first.
	ModeProxy
)

// Dispatcher holds the profile-derived state every accepted connection
// is run through.
type Dispatcher struct {
	Profile  *profile.Profile
	Resolver *resolve.Resolver
	Engine   *ruleengine.Engine
	Policy   *policy.Maker
	Metrics  *metrics.Collector
	Mode     OutboundMode

	// SOCKSAuth enables RFC 1929 username/password verification on the
	// SOCKS5 listener. Zero value means no authentication required.
	SOCKSAuth inbound.SOCKSAuth

	// Certs is non-nil only when [MitM].enabled is true.
	Certs       *certstore.Store
	CaptureSink httpcapture.Sink
}

// New builds a Dispatcher in ModeRule. metrics may be nil; certs is nil
// unless MitM is enabled.
func New(prof *profile.Profile, resolver *resolve.Resolver, engine *ruleengine.Engine, maker *policy.Maker, certs *certstore.Store, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		Profile:     prof,
		Resolver:    resolver,
		Engine:      engine,
		Policy:      maker,
		Metrics:     collector,
		Certs:       certs,
		CaptureSink: httpcapture.LoggingSink{},
	}
}

// Handle runs the full accept→resolve→rule→policy→connect→splice
// pipeline for one inbound connection. It always closes conn before
// returning. Inbound handshakes are acknowledged only after the
// outbound connect settles, and any client bytes buffered during the
// handshake remain in the read buffer for the splice to replay in
// arrival order (spec.md §5).
func (d *Dispatcher) Handle(ctx context.Context, conn net.Conn, listener Protocol) {
	defer conn.Close()

	br := bufio.NewReaderSize(conn, sniffBufferSize)
	in := newBufConn(conn, br)

	var (
		dest profile.TargetAddress
		hs   inbound.HTTPHandshake
		err  error
	)
	switch listener {
	case ProtocolHTTP:
		hs, err = inbound.NegotiateHTTP(br)
		dest = hs.Destination
	case ProtocolSOCKS5:
		dest, err = inbound.NegotiateSOCKS5(br, conn, d.SOCKSAuth)
	default:
		err = errors.Errorf(errors.KindInternal, "dispatcher: unknown listener protocol %v", listener)
	}
	if err != nil {
		logging.Debug("dispatcher: inbound handshake failed", "listener", listener, "error", err)
		return
	}

	pol, err := d.selectPolicy(ctx, dest)
	if err != nil {
		logging.Warn("dispatcher: policy selection failed", "destination", dest.String(), "error", err)
		d.refuse(conn, listener, hs)
		return
	}
	logging.Debug("dispatcher: policy selected", "destination", dest.String(), "policy", pol.Name)

	dialStart := time.Now()
	outbound, err := d.Policy.MakeConnection(ctx, pol)
	if d.Metrics != nil {
		d.Metrics.ObserveDial(dialProtocol(pol), time.Since(dialStart).Seconds())
	}
	if err != nil {
		d.handleConnectFailure(conn, listener, hs, pol, err)
		return
	}
	defer outbound.Close()

	if d.Metrics != nil {
		d.Metrics.ObserveConnection(listener.String(), pol.Name)
	}

	switch listener {
	case ProtocolHTTP:
		err = hs.AckSuccess(conn)
	case ProtocolSOCKS5:
		err = inbound.SOCKS5Succeed(conn, outboundLocalAddr(outbound))
	}
	if err != nil {
		logging.Debug("dispatcher: failed to acknowledge inbound handshake", "error", err)
		return
	}

	if len(hs.Replay) > 0 {
		if _, err := outbound.Write(hs.Replay); err != nil {
			logging.Debug("dispatcher: failed to replay buffered request", "error", err)
			return
		}
	}

	d.runConnection(in, outbound)
}

// dialProtocol labels a policy's outbound dial for metrics.
func dialProtocol(pol profile.Policy) string {
	if pol.Kind == profile.PolicyProxy {
		return string(pol.Proxy.Protocol)
	}
	return "direct"
}

// outboundLocalAddr reports the local address of the outbound socket
// for the SOCKS5 reply's bound-address field, when the stream exposes
// one (a direct TCP connection does; framed proxy transports don't).
func outboundLocalAddr(stream any) net.Addr {
	if la, ok := stream.(interface{ LocalAddr() net.Addr }); ok {
		return la.LocalAddr()
	}
	return nil
}

// selectPolicy runs spec.md §4.7 steps 2-6: resolve the destination
// (domain addresses only), build the pattern list, evaluate the rule
// engine, and resolve the winning rule's policy/policy-group name to a
// concrete, destination-attached Policy.
func (d *Dispatcher) selectPolicy(ctx context.Context, dest profile.TargetAddress) (profile.Policy, error) {
	if d.Mode == ModeDirect {
		return profile.Policy{Name: profile.Direct, Kind: profile.PolicyDirect}.Clone(dest), nil
	}
	if d.Mode == ModeProxy {
		final, ok := d.Profile.FinalRule()
		if !ok {
			return profile.Policy{}, errors.New(errors.KindConfiguration, "dispatcher: outbound-mode=proxy requires a FINAL rule")
		}
		pol, ok := d.Profile.ResolvePolicyName(final.Policy)
		if !ok {
			return profile.Policy{}, errors.Errorf(errors.KindConfiguration, "dispatcher: FINAL rule names unknown policy %q", final.Policy)
		}
		return pol.Clone(dest), nil
	}

	var ips []net.IP
	if dest.IsDomainPort() && d.Resolver != nil {
		start := time.Now()
		resolved, err := d.Resolver.Lookup(ctx, dest.Host)
		elapsed := time.Since(start)
		if d.Metrics != nil {
			d.Metrics.ObserveDNSLookup(elapsed.Seconds())
		}
		logging.Debug("dispatcher: DNS lookup finished", "host", dest.Host, "elapsed", elapsed, "addresses", len(resolved))
		if err != nil {
			logging.Debug("dispatcher: DNS lookup failed, matching on domain name only", "host", dest.Host, "error", err)
		} else {
			ips = resolved
		}
	}

	patterns := ruleengine.PatternsFor(dest, ips)
	rule, err := d.Engine.Evaluate(patterns)
	if err != nil {
		return profile.Policy{}, errors.Wrap(err, errors.KindConfiguration, "dispatcher: rule evaluation failed")
	}
	logging.Debug("dispatcher: rule matched", "rule", rule.Kind.String(), "policy", rule.Policy)

	pol, ok := d.Profile.ResolvePolicyName(rule.Policy)
	if !ok {
		return profile.Policy{}, errors.Errorf(errors.KindConfiguration, "dispatcher: rule names unknown policy %q", rule.Policy)
	}
	return pol.Clone(dest), nil
}

// refuse answers an inbound handshake whose policy selection failed,
// in whatever way the protocol allows, before the caller closes it.
func (d *Dispatcher) refuse(conn net.Conn, listener Protocol, hs inbound.HTTPHandshake) {
	switch listener {
	case ProtocolHTTP:
		hs.AckFailure(conn)
	case ProtocolSOCKS5:
		inbound.SOCKS5Fail(conn, inbound.ReplyGeneralFailure)
	}
}

// handleConnectFailure answers a REJECT/REJECT-TINYGIF policy's refusal
// (or a genuine dial failure) in whatever way the inbound protocol
// allows. REJECT-TINYGIF only has something useful to send on a
// non-tunnel HTTP request; every other case maps to the protocol's
// failure reply (502 for CONNECT, host-unreachable for SOCKS5) or a
// plain close.
func (d *Dispatcher) handleConnectFailure(conn net.Conn, listener Protocol, hs inbound.HTTPHandshake, pol profile.Policy, err error) {
	attrs := errors.GetAttributes(err)
	policyAttr, _ := attrs["policy"].(string)

	if policyAttr == profile.RejectTinyGIF && listener == ProtocolHTTP && !hs.Tunnel && len(hs.Replay) > 0 {
		if werr := writeTinyGIFResponse(conn); werr != nil {
			logging.Debug("dispatcher: failed to write tiny-gif response", "error", werr)
		}
		return
	}

	switch listener {
	case ProtocolHTTP:
		hs.AckFailure(conn)
	case ProtocolSOCKS5:
		inbound.SOCKS5Fail(conn, inbound.ReplyHostUnreachable)
	}
	logging.Debug("dispatcher: outbound connect failed", "policy", pol.Name, "error", err)
}

// runConnection inserts the MitM/HTTP-capture pipeline when applicable
// and otherwise falls back to a raw splice (spec.md §4.7 step 8, §4.8).
// The sniff only runs when MitM or capture could actually apply: it
// waits for the client's first bytes, which would stall a
// server-speaks-first protocol behind a plain tunnel.
func (d *Dispatcher) runConnection(in *bufConn, outbound io.ReadWriteCloser) {
	mitmEligible := d.Certs != nil
	captureEligible := d.Profile != nil && d.Profile.MitM.Enabled && d.CaptureSink != nil
	if !mitmEligible && !captureEligible {
		splice(in, outbound)
		return
	}

	kind, sni, err := mitm.Detect(in.br)
	if err != nil {
		logging.Debug("dispatcher: TLS/HTTP sniff failed, falling back to raw splice", "error", err)
		splice(in, outbound)
		return
	}

	switch {
	case kind == tlsdetect.KindTLS && mitmEligible && d.Certs.MatchesHostname(sni):
		if err := mitm.InterceptTLS(in, asNetConn(outbound), sni, d.Certs, d.Profile.MitM.SkipCertificateVerification, d.CaptureSink); err != nil {
			logging.Debug("dispatcher: MitM pipeline ended", "sni", sni, "error", err)
		}
	case kind == tlsdetect.KindHTTP && captureEligible:
		if err := mitm.InterceptCleartext(in, outbound, d.CaptureSink); err != nil {
			logging.Debug("dispatcher: HTTP capture pipeline ended", "error", err)
		}
	default:
		splice(in, outbound)
	}
}
