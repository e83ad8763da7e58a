package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)]++
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a duration as a millisecond histogram sample
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// CounterValue returns the summed value of a counter across all label sets.
// Used by tests and the health report.
func CounterValue(name string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

// Basic text/JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// StreamHealth summarizes the realtime client's view of its channels for
// the health endpoint.
type StreamHealth struct {
	Status     string             `json:"status"` // "healthy", "degraded"
	Timestamp  string             `json:"timestamp"`
	Uptime     string             `json:"uptime"`
	Namespaces map[string]string  `json:"namespaces"` // namespace -> connection state
	Counters   map[string]int64   `json:"counters"`
	Gauges     map[string]float64 `json:"gauges"`
}

var startTime = time.Now()

// HealthHandler reports per-namespace connection state derived from the
// stream_connection_state gauge (labels namespace=<ns>).
func HealthHandler() http.Handler {
	stateName := func(v float64) string {
		switch int(v) {
		case 2:
			return "connected"
		case 1:
			return "connecting"
		default:
			return "disconnected"
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		health := StreamHealth{
			Status:     "healthy",
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			Uptime:     time.Since(startTime).String(),
			Namespaces: map[string]string{},
			Counters:   map[string]int64{},
			Gauges:     map[string]float64{},
		}
		for labelKey, v := range reg.gauges["stream_connection_state"] {
			ns := strings.TrimPrefix(labelKey, "namespace=")
			health.Namespaces[ns] = stateName(v)
			if int(v) != 2 {
				health.Status = "degraded"
			}
		}
		for name, byLabel := range reg.counters {
			var total int64
			for _, v := range byLabel {
				total += v
			}
			health.Counters[name] = total
		}
		for name, byLabel := range reg.gauges {
			if name == "stream_connection_state" {
				continue
			}
			for _, v := range byLabel {
				health.Gauges[name] = v
				break
			}
		}
		reg.mu.Unlock()

		statusCode := http.StatusOK
		if health.Status == "degraded" {
			statusCode = http.StatusPartialContent // 206
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

// Simple health handler (legacy)
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
