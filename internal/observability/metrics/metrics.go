package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// PairLabel is a two-dimensional label set shared by the webhook, signature
// and notification series.
type PairLabel struct {
	First  string
	Second string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// webhook ingestion, signature verification, live-status transitions,
// notification fanout and frontend revalidation. Writers are coordinated via
// a RWMutex while the live streamer gauge is updated atomically.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	webhookEvents     map[PairLabel]uint64
	signatureFailures map[PairLabel]uint64
	transitions       map[string]uint64
	deliveries        map[PairLabel]uint64
	revalidations     map[string]uint64
	liveStreamers     atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	return &Recorder{
		requestCount:      make(map[requestLabel]uint64),
		requestDuration:   make(map[requestLabel]time.Duration),
		webhookEvents:     make(map[PairLabel]uint64),
		signatureFailures: make(map[PairLabel]uint64),
		transitions:       make(map[string]uint64),
		deliveries:        make(map[PairLabel]uint64),
		revalidations:     make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not need
// a dedicated instance.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveWebhook counts an inbound webhook by provider and outcome
// (e.g. "applied", "handshake", "streamer_not_found", "invalid_payload").
func (r *Recorder) ObserveWebhook(provider, outcome string) {
	r.incrementPair(r.webhookEvents, provider, outcome)
}

// ObserveSignatureFailure counts a rejected or degraded verification by
// provider and reason ("invalid", "missing_secret", "key_unavailable").
func (r *Recorder) ObserveSignatureFailure(provider, reason string) {
	r.incrementPair(r.signatureFailures, provider, reason)
}

// ObserveDelivery counts one notification attempt by channel ("push",
// "email") and result ("delivered", "failed", "pruned").
func (r *Recorder) ObserveDelivery(channel, result string) {
	r.incrementPair(r.deliveries, channel, result)
}

// ObserveRevalidation counts a processed frontend revalidation job by result.
func (r *Recorder) ObserveRevalidation(result string) {
	name := normalizeName(result)
	r.mu.Lock()
	r.revalidations[name]++
	r.mu.Unlock()
}

// StreamerWentLive records an aggregate offline->online transition.
func (r *Recorder) StreamerWentLive() {
	r.recordTransition("online")
	r.liveStreamers.Add(1)
}

// StreamerWentOffline records an aggregate online->offline transition,
// guarding the gauge against going negative after a restart.
func (r *Recorder) StreamerWentOffline() {
	r.recordTransition("offline")
	r.decrementGauge(&r.liveStreamers)
}

// LiveStreamers exposes the gauge of streamers observed going live since start.
func (r *Recorder) LiveStreamers() int64 {
	return r.liveStreamers.Load()
}

func (r *Recorder) recordTransition(direction string) {
	name := normalizeName(direction)
	r.mu.Lock()
	r.transitions[name]++
	r.mu.Unlock()
}

func (r *Recorder) incrementPair(series map[PairLabel]uint64, first, second string) {
	label := PairLabel{First: normalizeName(first), Second: normalizeName(second)}
	r.mu.Lock()
	series[label]++
	r.mu.Unlock()
}

// WebhookCounts returns a copy of the webhook counters for tests and reporting.
func (r *Recorder) WebhookCounts() map[PairLabel]uint64 {
	return r.copyPairs(r.webhookEvents)
}

// SignatureFailureCounts returns a copy of the signature failure counters.
func (r *Recorder) SignatureFailureCounts() map[PairLabel]uint64 {
	return r.copyPairs(r.signatureFailures)
}

// DeliveryCounts returns a copy of the notification delivery counters.
func (r *Recorder) DeliveryCounts() map[PairLabel]uint64 {
	return r.copyPairs(r.deliveries)
}

func (r *Recorder) copyPairs(series map[PairLabel]uint64) map[PairLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[PairLabel]uint64, len(series))
	for k, v := range series {
		out[k] = v
	}
	return out
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.webhookEvents = make(map[PairLabel]uint64)
	r.signatureFailures = make(map[PairLabel]uint64)
	r.transitions = make(map[string]uint64)
	r.deliveries = make(map[PairLabel]uint64)
	r.revalidations = make(map[string]uint64)
	r.liveStreamers.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with sorted label sets.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()

	fmt.Fprintln(w, "# HELP streamhook_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE streamhook_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamhook_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP streamhook_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE streamhook_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamhook_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	writePairs(w, "streamhook_webhook_events_total", "Inbound webhooks by provider and outcome", "provider", "outcome", r.webhookEvents)
	writePairs(w, "streamhook_signature_failures_total", "Signature verification failures by provider and reason", "provider", "reason", r.signatureFailures)

	fmt.Fprintln(w, "# HELP streamhook_live_transitions_total Aggregate live-status transitions by direction")
	fmt.Fprintln(w, "# TYPE streamhook_live_transitions_total counter")
	for _, direction := range sortedKeys(r.transitions) {
		fmt.Fprintf(w, "streamhook_live_transitions_total{direction=\"%s\"} %d\n", direction, r.transitions[direction])
	}

	fmt.Fprintln(w, "# HELP streamhook_live_streamers Streamers observed live since process start")
	fmt.Fprintln(w, "# TYPE streamhook_live_streamers gauge")
	fmt.Fprintf(w, "streamhook_live_streamers %d\n", r.liveStreamers.Load())

	writePairs(w, "streamhook_notification_deliveries_total", "Notification delivery attempts by channel and result", "channel", "result", r.deliveries)

	fmt.Fprintln(w, "# HELP streamhook_revalidation_jobs_total Frontend revalidation jobs by result")
	fmt.Fprintln(w, "# TYPE streamhook_revalidation_jobs_total counter")
	for _, result := range sortedKeys(r.revalidations) {
		fmt.Fprintf(w, "streamhook_revalidation_jobs_total{result=\"%s\"} %d\n", result, r.revalidations[result])
	}
}

func writePairs(w io.Writer, name, help, firstKey, secondKey string, series map[PairLabel]uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	labels := make([]PairLabel, 0, len(series))
	for label := range series {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].First != labels[j].First {
			return labels[i].First < labels[j].First
		}
		return labels[i].Second < labels[j].Second
	})
	for _, label := range labels {
		fmt.Fprintf(w, "%s{%s=\"%s\",%s=\"%s\"} %d\n", name, firstKey, label.First, secondKey, label.Second, series[label])
	}
}

func sortedKeys(series map[string]uint64) []string {
	keys := make([]string, 0, len(series))
	for key := range series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

// looksLikeIdentifier treats purely numeric segments and long opaque tokens
// as identifiers so streamer ids do not explode label cardinality.
func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
