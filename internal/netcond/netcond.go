// Package netcond models emulated network conditions and the named
// preset table shared by the recorder, the replay engine, and the
// control side-channel.
package netcond

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// Conditions describes one network-emulation configuration. Throughputs
// are bytes per second; -1 means unlimited. Latency is milliseconds of
// added round-trip delay.
type Conditions struct {
	Offline            bool    `json:"offline"`
	DownloadThroughput float64 `json:"downloadThroughput"`
	UploadThroughput   float64 `json:"uploadThroughput"`
	Latency            float64 `json:"latency"`
}

// latencyTolerance is the slack allowed when matching observed latency
// against a preset, in milliseconds.
const latencyTolerance = 10

// Preset pairs a name with its conditions.
type Preset struct {
	Name       string     `json:"name"`
	Conditions Conditions `json:"conditions"`
}

// NoThrottling is the default state of a fresh tab.
var NoThrottling = Conditions{Offline: false, DownloadThroughput: -1, UploadThroughput: -1, Latency: 0}

var presets = []Preset{
	{Name: "No throttling", Conditions: NoThrottling},
	{Name: "Offline", Conditions: Conditions{Offline: true}},
	{Name: "Fast 3G", Conditions: Conditions{DownloadThroughput: 153600, UploadThroughput: 76800, Latency: 560}},
	{Name: "Slow 3G", Conditions: Conditions{DownloadThroughput: 51200, UploadThroughput: 25600, Latency: 2000}},
}

// Presets returns the fixed preset table in display order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// ByName looks up a preset by its exact name.
func ByName(name string) (Conditions, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p.Conditions, true
		}
	}
	return Conditions{}, false
}

// MatchPreset returns the preset name for c: throughputs and the offline
// flag must match exactly, latency within the tolerance. Anything else
// is labeled Custom with the observed numbers embedded.
func MatchPreset(c Conditions) string {
	for _, p := range presets {
		if Equal(c, p.Conditions) {
			return p.Name
		}
	}
	return customLabel(c)
}

// Equal reports whether two configurations are the same within the
// latency tolerance. Used by the capture pipeline to suppress events
// for changes that do not actually change anything.
func Equal(a, b Conditions) bool {
	return a.Offline == b.Offline &&
		a.DownloadThroughput == b.DownloadThroughput &&
		a.UploadThroughput == b.UploadThroughput &&
		math.Abs(a.Latency-b.Latency) <= latencyTolerance
}

func customLabel(c Conditions) string {
	if c.Offline {
		return "Custom (offline)"
	}
	down := "unlimited"
	if c.DownloadThroughput >= 0 {
		down = humanize.Bytes(uint64(c.DownloadThroughput)) + "/s"
	}
	return fmt.Sprintf("Custom (%s down, %.0fms latency)", down, c.Latency)
}
