package policy

import (
	"time"

	"github.com/coreos/go-semver/semver"
)

// Presets returns the four built-in profile templates shipped with
// HoneyLink, tuned for the reference use cases.
func Presets(now time.Time) []*Profile {
	return []*Profile{
		{
			ProfileID:            "prof_iot_lowpower_v2",
			ProfileName:          "IoT Low Power",
			ProfileVersion:       semver.New("2.0.0"),
			UseCase:              UseCaseIoT,
			LatencyBudgetMs:      200,
			BandwidthFloorMbps:   0.1,
			BandwidthCeilingMbps: 1.0,
			FecMode:              FecNone,
			Priority:             1,
			PowerProfile:         PowerUltraLow,
			CreatedAt:            now,
			UpdatedAt:            now,
			Metadata: map[string]string{
				"target_current_ma": "2.5",
			},
		},
		{
			ProfileID:            "prof_arvr_spatial_v1",
			ProfileName:          "AR/VR Spatial",
			ProfileVersion:       semver.New("1.0.0"),
			UseCase:              UseCaseArVr,
			LatencyBudgetMs:      12,
			BandwidthFloorMbps:   50,
			BandwidthCeilingMbps: 200,
			FecMode:              FecHeavy,
			Priority:             7,
			PowerProfile:         PowerHigh,
			CreatedAt:            now,
			UpdatedAt:            now,
			Metadata: map[string]string{
				"spatial_error_cm":      "0.5",
				"motion_to_photon_ms":   "20",
			},
		},
		{
			ProfileID:            "prof_media_8k_v1",
			ProfileName:          "8K Media Streaming",
			ProfileVersion:       semver.New("1.0.0"),
			UseCase:              UseCaseMedia8K,
			LatencyBudgetMs:      50,
			BandwidthFloorMbps:   1000,
			BandwidthCeilingMbps: 1500,
			FecMode:              FecHeavy,
			Priority:             6,
			PowerProfile:         PowerHigh,
			CreatedAt:            now,
			UpdatedAt:            now,
			Metadata: map[string]string{
				"codec": "av1",
			},
		},
		{
			ProfileID:            "prof_gaming_input_v1",
			ProfileName:          "Low-Latency Gaming Input",
			ProfileVersion:       semver.New("1.0.0"),
			UseCase:              UseCaseGaming,
			LatencyBudgetMs:      6,
			BandwidthFloorMbps:   5,
			BandwidthCeilingMbps: 50,
			FecMode:              FecLight,
			Priority:             7,
			PowerProfile:         PowerNormal,
			CreatedAt:            now,
			UpdatedAt:            now,
			Metadata: map[string]string{
				"input_poll_hz": "1000",
			},
		},
	}
}
