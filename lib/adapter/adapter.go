// Package adapter abstracts the physical radio/link layer (Wi-Fi 6E/7,
// 5G, THz, Bluetooth, Ethernet) behind a common quality-reporting
// interface, and implements hot-swap: switching the active link when
// its quality degrades.
package adapter

import "context"

// Type names a physical link technology.
type Type string

const (
	TypeWiFi6E     Type = "wifi6e"
	TypeWiFi7      Type = "wifi7"
	TypeFiveG      Type = "5g"
	TypeTHz        Type = "thz"
	TypeBluetooth  Type = "bluetooth"
	TypeEthernet   Type = "ethernet"
)

// TypicalBandwidthMbps gives a rough planning figure for each link type;
// actual bandwidth is always measured via Quality, never assumed.
func (t Type) TypicalBandwidthMbps() float64 {
	switch t {
	case TypeWiFi6E:
		return 1200
	case TypeWiFi7:
		return 5800
	case TypeFiveG:
		return 1000
	case TypeTHz:
		return 10000
	case TypeBluetooth:
		return 2
	case TypeEthernet:
		return 1000
	default:
		return 0
	}
}

// Quality is a point-in-time measurement of a link's health.
type Quality struct {
	RSSI        float64 // dBm, Wi-Fi/5G style signal strength
	LossRate    float64 // fraction of packets lost, 0..1
	LatencyMs   float64
	Up          bool
}

// IsDegraded reports whether the link has fallen below a usable
// threshold: too weak a signal or too much loss.
func (q Quality) IsDegraded() bool {
	return !q.Up || q.RSSI < -80 || q.LossRate > 0.15
}

// Layer is a single registered physical adapter.
type Layer interface {
	Type() Type
	Quality(ctx context.Context) (Quality, error)
	SetPowerMode(ctx context.Context, profile string) error
}
