/*
Copyright 2026 HoneyLink Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command honeylinkd runs the HoneyLink control-plane daemon: device
// registration and pairing, session orchestration, policy distribution,
// transport management and telemetry, all behind the REST surface in
// lib/web.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"flag"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	honeylink "github.com/honeylink/core"
	"github.com/honeylink/core/lib/adapter"
	"github.com/honeylink/core/lib/auditlog"
	"github.com/honeylink/core/lib/config"
	"github.com/honeylink/core/lib/device"
	"github.com/honeylink/core/lib/keyhierarchy"
	"github.com/honeylink/core/lib/policy"
	"github.com/honeylink/core/lib/qos"
	"github.com/honeylink/core/lib/session"
	"github.com/honeylink/core/lib/telemetry"
	"github.com/honeylink/core/lib/telemetry/storagepipe"
	"github.com/honeylink/core/lib/transport"
	"github.com/honeylink/core/lib/transport/tlsalpn"
	"github.com/honeylink/core/lib/web"
)

var (
	configPath = flag.String("config", "", "Path to the HoneyLink YAML configuration file")
	dataDir    = flag.String("data_dir", "./data", "Directory for badger-backed audit and replay stores")
	logFormat  = flag.String("log_format", "json", "Log format to use (json or text)")
)

func main() {
	flag.Parse()
	configureLogging()

	if err := run(); err != nil {
		log.Fatal(trace.Wrap(err))
	}
}

func configureLogging() {
	switch *logFormat {
	case "text":
		log.SetFormatter(&trace.TextFormatter{})
	default:
		log.SetFormatter(&trace.JSONFormatter{})
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return trace.Wrap(err, "loading configuration")
	}
	if level, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clock := clockwork.NewRealClock()
	entry := log.WithField(trace.Component, honeylink.Component("honeylinkd"))

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		return trace.Wrap(err, "creating data directory")
	}

	rootSecret := make([]byte, 64)
	if _, err := rand.Read(rootSecret); err != nil {
		return trace.Wrap(err, "generating root key material")
	}

	rootKeys := keyhierarchy.NewKeyRotationManager(clock, keyhierarchy.ScopeRoot, keyhierarchy.RootDefault(), rootSecret)
	active, err := rootKeys.GetActiveKey()
	if err != nil {
		return trace.Wrap(err, "no active root key")
	}
	deviceKeys := keyhierarchy.NewKeyRotationManager(clock, keyhierarchy.ScopeDevice, keyhierarchy.DeviceDefault(), active.Material.Bytes())

	rotationScheduler := keyhierarchy.NewScheduler(clock, func(ev keyhierarchy.RotationEvent) {
		entry.WithField("scope", ev.Scope).WithField("version", ev.Version).Info("key rotated")
	})
	rotationScheduler.Register(keyhierarchy.ScopeRoot, rootKeys)
	rotationScheduler.Register(keyhierarchy.ScopeDevice, deviceKeys)
	if err := rotationScheduler.Start(ctx); err != nil {
		return trace.Wrap(err, "starting rotation scheduler")
	}
	defer rotationScheduler.Stop()

	al, err := auditlog.Open(auditlog.Config{
		Path:       *dataDir + "/audit",
		Clock:      clock,
		RootSecret: active.Material.Bytes(),
	})
	if err != nil {
		return trace.Wrap(err, "opening audit log")
	}
	defer al.Close()

	profileStore := policy.NewInMemoryProfileStore()
	if err := policy.LoadPresets(profileStore, policy.Presets(clock.Now())); err != nil {
		return trace.Wrap(err, "loading preset profiles")
	}
	eventBus := policy.NewEventBus()
	policySigner, err := policy.NewSigner()
	if err != nil {
		return trace.Wrap(err, "generating policy signing key")
	}

	qosCfg := qos.DefaultConfig()
	qosCfg.TotalBandwidthKbps = uint64(cfg.QoS.MaxBandwidthMbps) * 1000
	qosScheduler := qos.NewScheduler(qosCfg)

	orchestrator, err := session.NewOrchestrator(session.Config{
		Clock:     clock,
		Store:     session.NewInMemoryStore(),
		Keys:      deviceKeys,
		Profiles:  profileStore,
		Bus:       eventBus,
		Scheduler: qosScheduler,
		Audit:     al,
	})
	if err != nil {
		return trace.Wrap(err, "constructing session orchestrator")
	}
	if err := orchestrator.StartTTLSweeper("@every 1m"); err != nil {
		return trace.Wrap(err, "starting ttl sweeper")
	}
	defer orchestrator.StopTTLSweeper()

	deviceStore := device.NewStore(clock)

	adapterRegistry := adapter.NewRegistry(adapter.StrategyHighestBandwidth, func(ev adapter.SwapEvent) {
		entry.WithField("from", ev.From).WithField("to", ev.To).Warn("adapter hot-swap")
	})
	adapterRegistry.StartMonitoring(ctx)
	defer adapterRegistry.Stop()

	tlsConfig, err := ephemeralServerTLSConfig()
	if err != nil {
		return trace.Wrap(err, "generating transport TLS material")
	}
	transportManager, err := transport.NewManager(transport.ManagerConfig{Strategy: transport.StrategyQuicOnly})
	if err != nil {
		return trace.Wrap(err, "constructing transport manager")
	}
	transportManager.RegisterProtocol(tlsalpn.NewProtocol(tlsConfig, clock))

	pipeline := telemetry.NewPipeline(telemetry.PipelineConfig{
		Definitions: telemetry.BuiltinDefinitions(),
		Buffer:      storagepipe.DefaultConfig(),
	}, clock)
	if err := pipeline.StartBatchWriter("@every 10s", func(batch []storagepipe.Metric) error {
		entry.WithField("count", len(batch)).Debug("flushed metric batch")
		return nil
	}); err != nil {
		return trace.Wrap(err, "starting telemetry batch writer")
	}
	defer pipeline.StopBatchWriter()

	server := web.NewServer(deviceStore, orchestrator, profileStore, eventBus, policySigner, al)
	mux := http.NewServeMux()
	mux.Handle("/", server.Routes())
	mux.Handle("/metrics", promhttp.HandlerFor(pipeline.Registry(), promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              cfg.Transport.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		entry.WithField("addr", cfg.Transport.ListenAddress).Info("starting HTTP control-plane listener")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Error("http server exited")
		}
	}()

	<-ctx.Done()
	entry.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return trace.Wrap(httpServer.Shutdown(shutdownCtx))
}

// ephemeralServerTLSConfig generates a self-signed certificate for the
// tlsalpn transport backend, valid for 24 hours. honeylinkd always uses
// this certificate; the transport config has no certificate setting.
func ephemeralServerTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "honeylinkd"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
