package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	oteltrace "go.opentelemetry.io/otel/trace"

	honeylink "github.com/honeylink/core"
	"github.com/honeylink/core/lib/telemetry/storagepipe"
)

// Pipeline wires SLI evaluation, the storagepipe.Buffer/Sampler and a
// Prometheus registry together: every recorded sample is evaluated
// against its Definition, buffered (subject to PII stripping and
// sampling), exported as a Prometheus gauge, and tied to the
// OpenTelemetry trace that produced it via the Metric.TraceID field.
type Pipeline struct {
	clock   clockwork.Clock
	log     *log.Entry
	mu      sync.Mutex
	defs    map[string]sliDef
	buffer  *storagepipe.Buffer
	sampler *storagepipe.Sampler
	sinks   []storagepipe.Metric
	gauges  map[string]prometheus.Gauge
	reg     *prometheus.Registry
	cronJob *cron.Cron
	sampleN map[string]uint64
}

type sliDef struct {
	def   Definition
	state *BreachState
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Definitions []Definition
	Buffer      storagepipe.Config
	Registry    *prometheus.Registry
}

// NewPipeline constructs a Pipeline registered against reg (a fresh
// registry is created if reg is nil).
func NewPipeline(cfg PipelineConfig, clock clockwork.Clock) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	defs := make(map[string]sliDef, len(cfg.Definitions))
	gauges := make(map[string]prometheus.Gauge, len(cfg.Definitions))
	for _, d := range cfg.Definitions {
		defs[d.Name] = sliDef{def: d, state: &BreachState{}}
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "honeylink",
			Subsystem: "sli",
			Name:      d.Name,
			Help:      "HoneyLink SLI: " + d.Name,
		})
		reg.MustRegister(g)
		gauges[d.Name] = g
	}
	return &Pipeline{
		clock:   clock,
		log:     log.WithField(trace.Component, honeylink.Component("telemetry")),
		defs:    defs,
		buffer:  storagepipe.NewBuffer(cfg.Buffer),
		sampler: storagepipe.NewSampler(cfg.Buffer),
		gauges:  gauges,
		reg:     reg,
		sampleN: make(map[string]uint64),
	}
}

// Registry returns the Prometheus registry backing this Pipeline, for
// wiring into an HTTP /metrics handler.
func (p *Pipeline) Registry() *prometheus.Registry {
	return p.reg
}

// Record evaluates a sample against its SLI definition, updates the
// gauge and breach streak, buffers the (possibly sampled-out) metric,
// and returns the resulting ThresholdLevel plus whether this breach
// should alert. traceID, if non-empty, should come from
// trace.SpanContextFromContext(ctx).TraceID().String() at the call site.
func (p *Pipeline) Record(name string, value float64, labels map[string]string, traceID string) (ThresholdLevel, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sd, ok := p.defs[name]
	if !ok {
		return Green, false, trace.NotFound("no SLI definition registered for %q", name)
	}
	level := sd.def.Evaluate(value)
	sd.state.Record(level, p.clock.Now())
	shouldAlert := sd.state.ShouldAlert(sd.def)

	if g, ok := p.gauges[name]; ok {
		g.Set(value)
	}

	n := p.sampleN[name]
	p.sampleN[name] = n + 1
	if p.sampler.ShouldSample(n, level >= Orange) {
		p.buffer.Push(storagepipe.Metric{
			Name:      name,
			Labels:    labels,
			Value:     value,
			TraceID:   traceID,
			Timestamp: p.clock.Now(),
		})
	}
	return level, shouldAlert, nil
}

// TraceIDFromContext extracts the active OpenTelemetry trace id from
// ctx, returning "" if none is active.
func TraceIDFromContext(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// StartBatchWriter registers a cron job that drains the buffer into
// sink on the given schedule spec (e.g. "@every 10s"), matching the
// reference periodic batch writer.
func (p *Pipeline) StartBatchWriter(spec string, sink func([]storagepipe.Metric) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cronJob != nil {
		return trace.AlreadyExists("batch writer already running")
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		batch := p.buffer.DrainAll()
		if len(batch) == 0 {
			return
		}
		if err := sink(batch); err != nil {
			p.log.WithError(err).Warn("metric batch sink failed")
		}
	})
	if err != nil {
		return trace.Wrap(err)
	}
	c.Start()
	p.cronJob = c
	return nil
}

// StopBatchWriter stops the batch writer cron job, if running.
func (p *Pipeline) StopBatchWriter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cronJob == nil {
		return
	}
	p.cronJob.Stop()
	p.cronJob = nil
}

// DroppedCount returns how many metrics have been evicted from the
// buffer due to size pressure.
func (p *Pipeline) DroppedCount() uint64 {
	return p.buffer.TotalDropped()
}

// retentionCutoff computes the oldest timestamp a metric may carry
// before a retention sweep would discard it, per Config.RetentionDays.
func retentionCutoff(now time.Time, retentionDays int) time.Time {
	return now.AddDate(0, 0, -retentionDays)
}
