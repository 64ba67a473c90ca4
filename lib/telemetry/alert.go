package telemetry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel names where an alert may be routed.
type Channel string

const (
	ChannelSlack      Channel = "slack"
	ChannelPagerDuty  Channel = "pagerduty"
	ChannelBoth       Channel = "both"
)

// defaultRouting maps a breach severity to its default channel,
// matching the reference alert router: Red pages, Orange pages,
// Yellow/Green only post to Slack.
var defaultRouting = map[ThresholdLevel]Channel{
	Red:    ChannelBoth,
	Orange: ChannelPagerDuty,
	Yellow: ChannelSlack,
	Green:  ChannelSlack,
}

// Notifier delivers a rendered alert to a concrete channel (Slack
// webhook, PagerDuty Events API, ...). Wire formats are deployment
// specific and stay out of this module's scope; Notifier is the seam.
type Notifier interface {
	Notify(channel Channel, ev Event) error
}

// Event is a single alert raised from an SLI breach.
type Event struct {
	ID        string
	SLIName   string
	Level     ThresholdLevel
	Value     float64
	Threshold float64
	At        time.Time
	Message   string
}

// NewEventFromBreach constructs an Event from a breach evaluation.
func NewEventFromBreach(sliName string, level ThresholdLevel, value, threshold float64, at time.Time) Event {
	id, err := uuid.NewV7()
	idStr := "alert_" + id.String()
	if err != nil {
		idStr = fmt.Sprintf("alert_%d", at.UnixNano())
	}
	return Event{
		ID:        idStr,
		SLIName:   sliName,
		Level:     level,
		Value:     value,
		Threshold: threshold,
		At:        at,
		Message:   fmt.Sprintf("%s breached %s threshold: value=%.3f threshold=%.3f", sliName, level, value, threshold),
	}
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Routing  map[string]Channel // sliName -> override channel
	TestMode bool               // suppress outbound delivery, still recorded in History
}

// Router dispatches Events to their configured channel (or the severity
// default) via a Notifier.
type Router struct {
	cfg      RouterConfig
	notifier Notifier
	history  []Event
}

// NewRouter constructs a Router.
func NewRouter(cfg RouterConfig, notifier Notifier) *Router {
	return &Router{cfg: cfg, notifier: notifier}
}

// Route delivers ev to its channel, recording it in History regardless
// of TestMode.
func (r *Router) Route(ev Event) error {
	r.history = append(r.history, ev)
	if r.cfg.TestMode || r.notifier == nil {
		return nil
	}
	channel, ok := r.cfg.Routing[ev.SLIName]
	if !ok {
		channel = defaultRouting[ev.Level]
	}
	return r.notifier.Notify(channel, ev)
}

// History returns every event Route has processed, in order.
func (r *Router) History() []Event {
	return r.history
}
