// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command opcua-gateway runs the OPC UA telemetry edge gateway: it loads
// the configured endpoints and nodes, supervises one OPC UA session per
// endpoint, dispatches encoded telemetry to the cloud hub, and serves the
// hub's remote method calls. Every knob is read from the environment;
// there is no CLI argument surface to parse.
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/nexus-edge/opcua-gateway/internal/diagnostics"
	"github.com/nexus-edge/opcua-gateway/internal/errors"
	"github.com/nexus-edge/opcua-gateway/internal/logging"
	"github.com/nexus-edge/opcua-gateway/internal/methods"
	"github.com/nexus-edge/opcua-gateway/internal/nodeconfig"
	"github.com/nexus-edge/opcua-gateway/internal/opcadapter"
	"github.com/nexus-edge/opcua-gateway/internal/session"
	"github.com/nexus-edge/opcua-gateway/internal/settings"
	"github.com/nexus-edge/opcua-gateway/internal/telemetry"
)

const applicationURI = "urn:nexus-edge:opcua-gateway"

var version = "dev"

func main() {
	if path := os.Getenv("OPCUA_GATEWAY_LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			logging.Get("main").WithError(err).Error("failed to open log file, continuing on stderr", "path", path)
		} else {
			defer f.Close()
			logging.SetOutput(f)
		}
	}
	log := logging.Get("main")

	cfg := settings.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	configPath := envOr("OPCUA_GATEWAY_CONFIG_FILE", "./opcua-publisher-config.json")
	certBasePath := envOr("OPCUA_GATEWAY_CERT_STORE_PATH", "./pki")

	priv, pub, err := loadOrGenerateApplicationKeyPair(certBasePath)
	if err != nil {
		log.WithError(err).Error("failed to obtain application key pair")
		os.Exit(1)
	}
	sealer := nodeconfig.NewSealer(pub)
	unsealer := nodeconfig.NewUnsealer(priv)

	store := nodeconfig.New(configPath, sealer)
	if err := store.Load(); err != nil {
		log.WithError(err).Error("failed to load node configuration")
		os.Exit(1)
	}

	queue := telemetry.NewQueue(cfg.QueueCapacity)

	sender := newHubSender(os.Getenv("OPCUA_GATEWAY_CONNECTION_STRING"))
	mask := telemetry.DefaultFieldMask()
	if v, _ := strconv.ParseBool(os.Getenv("OPCUA_GATEWAY_IOT_CENTRAL_MODE")); v {
		// IoT-Central mode reduces every record to {displayName: value}.
		mask = telemetry.FieldMask{IoTCentral: true}
	}
	pipeline := telemetry.NewPipeline(queue, sender, clock.Real, mask, cfg.SendIntervalSeconds, jsonBufferBudget(cfg))

	sv := session.NewSupervisor(store, unsealer, func() opcadapter.Adapter { return opcadapter.NewGopcuaAdapter() }, queue, clock.Real, cfg, applicationURI)

	startedAt := time.Now()
	diagSource := &statsAdapter{queue: queue, pipeline: pipeline, supervisor: sv, cfg: cfg}
	diag := diagnostics.NewCollector(100, diagSource, clock.Real)
	prometheus.MustRegister(diag.Metrics())

	ctx, cancel := context.WithCancel(context.Background())

	dispatcher := methods.New(store, sealer, sv, diag, cfg, clock.Real, version, startedAt, func(delay time.Duration) {
		time.AfterFunc(delay, cancel)
	})

	entries, _ := store.Enumerate(nil)
	for _, ep := range entries {
		sv.EnsureSession(ep.EndpointURL, ep.UseSecurity, ep.Auth)
	}
	sv.WakeAll()

	go pipeline.Run()
	if cfg.DiagnosticsIntervalSeconds > 0 {
		go diag.Run(time.Duration(cfg.DiagnosticsIntervalSeconds) * time.Second)
	}

	logging.MarkReady()
	log.Info("opcua-gateway started", "version", version, "config", configPath, "endpoints", len(entries))

	runMethodTransport(ctx, dispatcher, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("received shutdown signal")
	case <-ctx.Done():
		log.Info("exit requested via ExitApplication")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	sv.Shutdown(shutdownCtx)
	pipeline.Stop()
	diag.Stop()
	log.Info("opcua-gateway stopped")
}

// hubPropertyOverheadBytes approximates the bytes the hub charges against a
// message for its system and application properties (content type, content
// encoding, routing metadata). Subtracted from the configured message size,
// together with the 2 bytes the outer [ and ] cost, to get the usable JSON
// buffer.
const hubPropertyOverheadBytes = 256

func jsonBufferBudget(cfg settings.Settings) int {
	if cfg.IsSingleMessageMode() {
		return 0
	}
	size := cfg.HubMessageSize
	if size == 0 {
		// Size 0 with a non-zero send interval means "no size limit beyond
		// the hub's own maximum".
		size = 262144
	}
	return size - hubPropertyOverheadBytes - 2
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadOrGenerateApplicationKeyPair reads an RSA application key pair from
// certBasePath if present, otherwise generates and persists one. The
// on-disk certificate store's full lifecycle (rotation, trust list,
// renewal) is not implemented here; this is the minimal bootstrap the
// Sealer and Unsealer need to exist at all.
func loadOrGenerateApplicationKeyPair(basePath string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	keyPath := basePath + "/application-key.pem"
	if data, err := nodeconfig.SecureReadFile(keyPath); err == nil {
		priv, perr := parseRSAKey(data)
		if perr == nil {
			return priv, &priv.PublicKey, nil
		}
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	if err := nodeconfig.SecureWriteFile(keyPath, marshalRSAKey(priv)); err != nil {
		logging.Get("main").WithError(err).Warn("failed to persist generated application key, continuing in-memory only")
	}
	return priv, &priv.PublicKey, nil
}

func marshalRSAKey(priv *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
}

func parseRSAKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New(errors.KindValidation, "malformed application key file")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// hubSender is the one concrete Sender (internal/telemetry): a plain HTTPS
// POST of each encoded batch. The actual cloud device-client SDK's
// connection string parsing, authentication, and retry policy are not
// implemented here; this exists only so the Dispatch Pipeline has
// somewhere to send bytes in a running process.
type hubSender struct {
	endpoint string
	client   *http.Client
}

func newHubSender(connectionString string) telemetry.Sender {
	if connectionString == "" {
		return noopSender{}
	}
	return &hubSender{endpoint: connectionString, client: &http.Client{Timeout: 30 * time.Second}}
}

func (h *hubSender) Send(body []byte, contentType, contentEncoding string) error {
	req, err := http.NewRequest(http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Encoding", contentEncoding)
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("hub send failed: status %d", resp.StatusCode)
	}
	return nil
}

// noopSender discards telemetry when no hub connection is configured,
// e.g. when running locally against the fake OPC UA adapter.
type noopSender struct{}

func (noopSender) Send(body []byte, contentType, contentEncoding string) error {
	logging.Get("main").Debug("no hub connection string configured, discarding telemetry batch", "bytes", len(body))
	return nil
}

// statsAdapter bridges the queue/pipeline/supervisor singletons into the
// diagnostics.StatsSource the Collector polls.
type statsAdapter struct {
	queue      *telemetry.Queue
	pipeline   *telemetry.Pipeline
	supervisor *session.Supervisor
	cfg        settings.Settings
}

func (a *statsAdapter) Stats() diagnostics.Snapshot {
	counters := a.pipeline.Counters()
	configured, connected := a.supervisor.SessionCount()
	subsConfigured, itemsConfigured, itemsMonitored, itemsToRemove := a.supervisor.ItemCounts()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return diagnostics.Snapshot{
		QueueDepth:               a.queue.Len(),
		QueueCapacity:            a.queue.Cap(),
		Enqueued:                 a.queue.Enqueued(),
		EnqueueFailures:          a.queue.EnqueueFailures(),
		SentMessages:             counters.SentMessages,
		SentBytes:                counters.SentBytes,
		FailedMessages:           counters.FailedMessages,
		TooLarge:                 counters.TooLarge,
		MissedSendInterval:       counters.MissedSendInterval,
		WorkingSetMB:             float64(mem.Sys) / (1024 * 1024),
		SessionsConfigured:       configured,
		SessionsConnected:        connected,
		SubscriptionsConfigured:  subsConfigured,
		MonitoredItemsConfigured: itemsConfigured,
		MonitoredItemsMonitored:  itemsMonitored,
		MonitoredItemsToRemove:   itemsToRemove,
		SendIntervalSeconds:      a.cfg.SendIntervalSeconds,
		HubMessageSizeBytes:      a.cfg.HubMessageSize,
	}
}

// runMethodTransport is the integration seam between the Method Dispatcher
// and the cloud hub's own method-invocation mechanism, which this gateway
// does not implement. A plain loopback HTTP listener stands in for local
// testing and operator tooling; the hub-side transport itself is not
// implemented here.
func runMethodTransport(ctx context.Context, dispatcher *methods.Dispatcher, log *logging.Logger) {
	addr := envOr("OPCUA_GATEWAY_METHOD_LISTEN_ADDR", "")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/methods/", func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[len("/methods/"):]
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		body, status := dispatcher.Dispatch(method, payload)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("method transport listener stopped")
		}
	}()
}
