// Package telemetry implements HoneyLink's service-level indicators:
// threshold evaluation against the Yellow/Orange/Red bands, consecutive
// breach tracking, and alert routing, plus (in storagepipe) the
// buffering/sampling pipeline that feeds a metrics backend.
package telemetry

import "time"

// ThresholdLevel is the health band a metric falls into relative to its
// SLI definition.
type ThresholdLevel int

const (
	Green ThresholdLevel = iota
	Yellow
	Orange
	Red
)

// String renders the level for logs/alerts.
func (l ThresholdLevel) String() string {
	switch l {
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	case Orange:
		return "orange"
	case Red:
		return "red"
	default:
		return "unknown"
	}
}

// Definition is a single SLI's thresholds and evaluation window.
type Definition struct {
	Name                      string
	Yellow, Orange, Red       float64
	SLO                       float64
	HigherIsBetter            bool
	EvaluationWindow          time.Duration
	ConsecutiveBreachesRequired int
}

// BuiltinDefinitions returns the five SLIs HoneyLink ships out of the
// box, matching the reference thresholds exactly.
func BuiltinDefinitions() []Definition {
	const window = 300 * time.Second
	return []Definition{
		{Name: "session_establishment_latency_p95", Yellow: 400, Orange: 500, Red: 800, SLO: 500, HigherIsBetter: false, EvaluationWindow: window, ConsecutiveBreachesRequired: 3},
		{Name: "policy_update_latency_p95", Yellow: 250, Orange: 300, Red: 500, SLO: 300, HigherIsBetter: false, EvaluationWindow: window, ConsecutiveBreachesRequired: 3},
		{Name: "encryption_latency_p95", Yellow: 15, Orange: 20, Red: 50, SLO: 20, HigherIsBetter: false, EvaluationWindow: window, ConsecutiveBreachesRequired: 3},
		{Name: "packet_loss_rate", Yellow: 0.05, Orange: 0.10, Red: 0.20, SLO: 0.01, HigherIsBetter: false, EvaluationWindow: window, ConsecutiveBreachesRequired: 3},
		{Name: "qos_packet_drop_rate", Yellow: 0.005, Orange: 0.01, Red: 0.05, SLO: 0.01, HigherIsBetter: false, EvaluationWindow: window, ConsecutiveBreachesRequired: 3},
	}
}

// Evaluate maps value to a ThresholdLevel. All five built-in SLIs are
// lower-is-better (latency, loss, drop rate); HigherIsBetter is carried
// for custom SLIs a deployment might add (e.g. throughput).
func (d Definition) Evaluate(value float64) ThresholdLevel {
	if d.HigherIsBetter {
		switch {
		case value >= d.Yellow:
			return Green
		case value >= d.Orange:
			return Yellow
		case value >= d.Red:
			return Orange
		default:
			return Red
		}
	}
	switch {
	case value <= d.Yellow:
		return Green
	case value <= d.Orange:
		return Yellow
	case value <= d.Red:
		return Orange
	default:
		return Red
	}
}

// BreachState tracks consecutive non-Green evaluations for a single SLI,
// so alerting only fires after ConsecutiveBreachesRequired sustained
// breaches rather than on every noisy sample.
type BreachState struct {
	ConsecutiveBreaches int
	LastBreachTime      time.Time
	LastLevel           ThresholdLevel
}

// Record updates the breach state in place with a new evaluation at time
// now. A Green result fully resets the streak; a
// repeat of the same non-Green level extends it; a different non-Green
// level restarts the streak at 1.
func (s *BreachState) Record(level ThresholdLevel, now time.Time) {
	if level == Green {
		s.ConsecutiveBreaches = 0
		s.LastLevel = Green
		return
	}
	if level == s.LastLevel && s.ConsecutiveBreaches > 0 {
		s.ConsecutiveBreaches++
	} else {
		s.ConsecutiveBreaches = 1
	}
	s.LastLevel = level
	s.LastBreachTime = now
}

// ShouldAlert reports whether the current streak has reached the
// definition's required consecutive-breach count.
func (s *BreachState) ShouldAlert(d Definition) bool {
	return s.LastLevel != Green && s.ConsecutiveBreaches >= d.ConsecutiveBreachesRequired
}
