// Package device holds the emulation profiles a task can be audited under.
package device

import (
	"fmt"
	"sort"
	"strings"
)

// Profile describes the browser emulation applied before navigating.
type Profile struct {
	Name      string  `json:"name"`
	UserAgent string  `json:"user_agent"`
	Width     int64   `json:"width"`
	Height    int64   `json:"height"`
	Scale     float64 `json:"scale"`
	Mobile    bool    `json:"mobile"`
	Touch     bool    `json:"touch"`
	Landscape bool    `json:"landscape"`
}

// Throttling describes the network/cpu conditions applied during a task,
// either via emulation commands or handed to the analysis engine.
type Throttling struct {
	Name           string  `json:"name"`
	RTTMs          int     `json:"rtt_ms"`
	ThroughputKbps int     `json:"throughput_kbps"`
	CPUMultiplier  float64 `json:"cpu_multiplier"`
}

var profiles = map[string]Profile{
	"desktop": {
		Name:      "desktop",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Width:     1350,
		Height:    940,
		Scale:     1,
		Landscape: true,
	},
	"mobile": {
		Name:      "mobile",
		UserAgent: "Mozilla/5.0 (Linux; Android 11; moto g power (2022)) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Mobile Safari/537.36",
		Width:     412,
		Height:    823,
		Scale:     1.75,
		Mobile:    true,
		Touch:     true,
	},
	"tablet": {
		Name:      "tablet",
		UserAgent: "Mozilla/5.0 (Linux; Android 11; Lenovo TB-J606F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Width:     800,
		Height:    1280,
		Scale:     2,
		Mobile:    true,
		Touch:     true,
	},
}

var throttlings = map[string]Throttling{
	"none": {
		Name:          "none",
		CPUMultiplier: 1,
	},
	"slow-4g": {
		Name:           "slow-4g",
		RTTMs:          150,
		ThroughputKbps: 1600,
		CPUMultiplier:  4,
	},
}

// Lookup resolves a profile by name, case-insensitively.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown device profile %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// PresetFor names the throttling preset a profile implies: mobile-class
// profiles get representative network/cpu throttling, desktop runs
// unthrottled.
func PresetFor(p Profile) string {
	if p.Mobile {
		return "slow-4g"
	}
	return "none"
}

// LookupThrottling resolves a throttling preset by name.
func LookupThrottling(name string) (Throttling, error) {
	t, ok := throttlings[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Throttling{}, fmt.Errorf("unknown throttling preset %q", name)
	}
	return t, nil
}

// Names lists the known profile names, sorted.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
