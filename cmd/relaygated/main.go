// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command relaygated is the CLI wrapper around the gateway core: flag
// parsing, profile loading, listener lifecycle, and the process exit
// codes spec.md §6.4 defines. The core packages never call os.Exit;
// only this binary does.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"grimm.is/relaygate/internal/certstore"
	"grimm.is/relaygate/internal/dispatcher"
	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/geoip"
	"grimm.is/relaygate/internal/httpcapture/capturelog"
	"grimm.is/relaygate/internal/ini"
	"grimm.is/relaygate/internal/logging"
	"grimm.is/relaygate/internal/metrics"
	"grimm.is/relaygate/internal/policy"
	"grimm.is/relaygate/internal/profile"
	"grimm.is/relaygate/internal/resolve"
	"grimm.is/relaygate/internal/ruleengine"
	"grimm.is/relaygate/internal/services"
)

// Exit codes, per spec.md §6.4.
const (
	exitNormal           = 0
	exitInvalidProfile   = 1
	exitListenerBindFail = 2
	exitInternalPanic    = 3
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("relaygated: internal panic", "panic", r)
			code = exitInternalPanic
		}
	}()

	profilePath := flag.String("profile", "", "path to the gateway profile (required)")
	outboundMode := flag.String("outbound-mode", "direct", "outbound selection mode: direct, proxy, or rule")
	geoipPath := flag.String("geoip-database", "", "path to a MaxMindDB GeoLite2-Country database (optional)")
	metricsAddr := flag.String("metrics-listen", "", "address to serve Prometheus metrics on (optional, e.g. 127.0.0.1:9090)")
	captureLogPath := flag.String("capture-log", "", "path to a SQLite database persisting captured request/response pairs (optional)")
	flag.Parse()

	if *profilePath == "" {
		fmt.Fprintln(os.Stderr, "relaygated: --profile is required")
		return exitInvalidProfile
	}

	prof, err := loadProfile(*profilePath)
	if err != nil {
		logging.Error("relaygated: failed to load profile", "path", *profilePath, "error", err)
		return exitInvalidProfile
	}
	logging.SetDefault(logging.New(logging.Config{Level: prof.Basic.LogLevel, Syslog: logging.DefaultSyslogConfig()}))

	mode, err := parseOutboundMode(*outboundMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "relaygated:", err)
		return exitInvalidProfile
	}

	var geoDB *geoip.DB
	if *geoipPath != "" {
		geoDB, err = geoip.Open(*geoipPath)
		if err != nil {
			logging.Error("relaygated: failed to open GeoIP database", "path", *geoipPath, "error", err)
			return exitInvalidProfile
		}
		defer geoDB.Close()
	}

	var certs *certstore.Store
	if prof.MitM.Enabled {
		certs, err = certstore.Load(prof.MitM.CABundleBase64, prof.MitM.CAPassphrase)
		if err != nil {
			logging.Error("relaygated: failed to load MitM CA bundle", "error", err)
			return exitInvalidProfile
		}
		certs.SetMitMHostnames(prof.MitM.Hostnames)
	}

	resolver := resolve.New(resolveServers(prof.Basic.DNSServers))
	engine := ruleengine.New(prof.Rules, ruleengine.Resources{Loader: ruleengine.NewHTTPLoader(), GeoDB: geoDB}, ruleengine.DefaultCacheCapacity)
	collector := metrics.NewCollector()

	d := dispatcher.New(prof, resolver, engine, policy.New(), certs, collector)
	d.Mode = mode

	if *captureLogPath != "" {
		captureStore, err := capturelog.Open(*captureLogPath)
		if err != nil {
			logging.Error("relaygated: failed to open capture log", "path", *captureLogPath, "error", err)
			return exitInvalidProfile
		}
		defer captureStore.Close()
		d.CaptureSink = capturelog.Sink{Store: captureStore}
	}

	listeners, err := buildListeners(prof, d)
	if err != nil {
		fmt.Fprintln(os.Stderr, "relaygated:", err)
		return exitInvalidProfile
	}
	if len(listeners) == 0 {
		fmt.Fprintln(os.Stderr, "relaygated: profile configures neither an HTTP nor a SOCKS5 listener")
		return exitInvalidProfile
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, l := range listeners {
		if err := l.Start(ctx); err != nil {
			logging.Error("relaygated: failed to start listener", "listener", l.Name(), "error", err)
			return exitListenerBindFail
		}
		logging.Info("relaygated: listener started", "listener", l.Name())
	}

	var metricsServer *metricsHTTPServer
	if *metricsAddr != "" {
		metricsServer, err = startMetrics(*metricsAddr, collector)
		if err != nil {
			logging.Error("relaygated: failed to start metrics listener", "error", err)
			return exitListenerBindFail
		}
	}

	<-ctx.Done()
	logging.Info("relaygated: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, l := range listeners {
		if err := l.Stop(shutdownCtx); err != nil {
			logging.Warn("relaygated: listener stop reported an error", "listener", l.Name(), "error", err)
		}
	}
	if metricsServer != nil {
		metricsServer.Stop(shutdownCtx)
	}

	return exitNormal
}

func loadProfile(path string) (*profile.Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "relaygated: failed to open profile")
	}
	defer f.Close()
	return ini.Parse(f)
}

func parseOutboundMode(s string) (dispatcher.OutboundMode, error) {
	switch s {
	case "direct":
		return dispatcher.ModeDirect, nil
	case "proxy":
		return dispatcher.ModeProxy, nil
	case "rule":
		return dispatcher.ModeRule, nil
	default:
		return 0, errors.Errorf(errors.KindConfiguration, "invalid --outbound-mode %q (want direct, proxy, or rule)", s)
	}
}

// resolveServers normalizes the profile's configured DNS servers to
// "host:port" form, defaulting to port 53.
func resolveServers(servers []string) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		out = append(out, s)
	}
	return out
}

func buildListeners(prof *profile.Profile, d *dispatcher.Dispatcher) ([]services.Service, error) {
	var out []services.Service

	if prof.Basic.HasHTTPListener() {
		addr := net.JoinHostPort(prof.Basic.HTTPListenAddress, strconv.Itoa(int(prof.Basic.HTTPListenPort)))
		out = append(out, &dispatcher.Listener{
			ListenerName: "http",
			Address:      addr,
			Protocol:     dispatcher.ProtocolHTTP,
			Dispatcher:   d,
		})
	}
	if prof.Basic.HasSOCKSListener() {
		addr := net.JoinHostPort(prof.Basic.SOCKSListenAddress, strconv.Itoa(int(prof.Basic.SOCKSListenPort)))
		out = append(out, &dispatcher.Listener{
			ListenerName: "socks5",
			Address:      addr,
			Protocol:     dispatcher.ProtocolSOCKS5,
			Dispatcher:   d,
		})
	}
	return out, nil
}
