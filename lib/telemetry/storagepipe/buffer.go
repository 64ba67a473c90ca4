// Package storagepipe implements the bounded metric buffer, PII
// stripping and sampling that sit between metric emission and a
// persistence sink.
package storagepipe

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Metric is a single emitted measurement.
type Metric struct {
	Name      string
	Labels    map[string]string
	Value     float64
	TraceID   string
	Timestamp time.Time
}

// Config controls buffering, retention and sampling.
type Config struct {
	MaxBufferSizeBytes   int64
	BatchInterval        time.Duration
	RetentionDays        int
	NormalSamplingRatio  float64
	FailureSamplingRatio float64
	EnablePIIDetection   bool
}

// DefaultConfig matches the reference storage module's defaults.
func DefaultConfig() Config {
	return Config{
		MaxBufferSizeBytes:   10 * 1024 * 1024,
		BatchInterval:        10 * time.Second,
		RetentionDays:        30,
		NormalSamplingRatio:  0.2,
		FailureSamplingRatio: 1.0,
		EnablePIIDetection:   true,
	}
}

// forbiddenLabels lists label keys never allowed to reach a metric sink.
var forbiddenLabels = []string{"email", "phone", "ip_address", "device_serial", "user_id"}

// stripPII drops any label whose key contains (case-insensitively) a
// forbidden substring.
func stripPII(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		lk := strings.ToLower(k)
		blocked := false
		for _, f := range forbiddenLabels {
			if strings.Contains(lk, f) {
				blocked = true
				break
			}
		}
		if !blocked {
			out[k] = v
		}
	}
	return out
}

// estimatedSize is a rough per-metric byte cost used for the buffer's
// size-based eviction, avoiding an expensive exact serialization on
// every push.
func estimatedSize(m Metric) int64 {
	size := int64(len(m.Name) + len(m.TraceID) + 16)
	for k, v := range m.Labels {
		size += int64(len(k) + len(v))
	}
	return size
}

// Buffer is a FIFO metric queue bounded by total estimated byte size:
// once full, the oldest entries are dropped to make room for new ones
// rather than blocking the emitter.
type Buffer struct {
	mu           sync.Mutex
	cfg          Config
	items        []Metric
	currentBytes int64
	totalDropped uint64
}

// NewBuffer constructs an empty Buffer.
func NewBuffer(cfg Config) *Buffer {
	return &Buffer{cfg: cfg}
}

// Push appends m (after PII stripping), evicting the oldest entries if
// needed to stay within MaxBufferSizeBytes.
func (b *Buffer) Push(m Metric) {
	if b.cfg.EnablePIIDetection {
		m.Labels = stripPII(m.Labels)
	}
	size := estimatedSize(m)

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.currentBytes+size > b.cfg.MaxBufferSizeBytes && len(b.items) > 0 {
		evicted := b.items[0]
		b.items = b.items[1:]
		b.currentBytes -= estimatedSize(evicted)
		b.totalDropped++
	}
	b.items = append(b.items, m)
	b.currentBytes += size
}

// DrainAll removes and returns every buffered metric.
func (b *Buffer) DrainAll() []Metric {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	b.currentBytes = 0
	return out
}

// TotalDropped returns the number of metrics evicted due to buffer
// pressure since construction.
func (b *Buffer) TotalDropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalDropped
}

// Sampler decides whether a given metric sample should be kept, at the
// configured ratio, escalating to FailureSamplingRatio when inFailureMode
// is true (e.g. an elevated SLI breach is active).
type Sampler struct {
	cfg     Config
	normal  *rate.Limiter
	failure *rate.Limiter
}

// NewSampler constructs a Sampler. The limiters cap sampling rate per
// second as a coarse ceiling on top of the ratio decision; ratio
// decisions are made via a counter-based approximation so the ratio
// holds even under bursty emission.
func NewSampler(cfg Config) *Sampler {
	return &Sampler{
		cfg:     cfg,
		normal:  rate.NewLimiter(rate.Limit(1000), 1000),
		failure: rate.NewLimiter(rate.Limit(1000), 1000),
	}
}

// ShouldSample reports whether the n-th sample (0-indexed, per metric
// name) should be kept.
func (s *Sampler) ShouldSample(n uint64, inFailureMode bool) bool {
	ratio := s.cfg.NormalSamplingRatio
	limiter := s.normal
	if inFailureMode {
		ratio = s.cfg.FailureSamplingRatio
		limiter = s.failure
	}
	if ratio >= 1.0 {
		return limiter.Allow()
	}
	if ratio <= 0 {
		return false
	}
	// Deterministic stride sampling: keep every floor(1/ratio)-th sample, so
	// the long-run kept fraction equals ratio when 1/ratio is a whole number
	// and is 1/floor(1/ratio) otherwise.
	stride := uint64(1.0 / ratio)
	if stride == 0 {
		stride = 1
	}
	if n%stride != 0 {
		return false
	}
	return limiter.Allow()
}
