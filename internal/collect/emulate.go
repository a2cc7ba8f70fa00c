package collect

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"

	"github.com/signaler-dev/signaler/internal/cdp"
	"github.com/signaler-dev/signaler/internal/device"
)

// ApplyDevice issues the emulation commands that put a session into the given
// device profile: metrics override, touch emulation, and user agent.
func ApplyDevice(ctx context.Context, sess *cdp.Session, profile device.Profile) error {
	orientation := &emulation.ScreenOrientation{
		Type:  emulation.OrientationTypePortraitPrimary,
		Angle: 0,
	}
	if profile.Landscape {
		orientation = &emulation.ScreenOrientation{
			Type:  emulation.OrientationTypeLandscapePrimary,
			Angle: 90,
		}
	}

	metrics := emulation.SetDeviceMetricsOverride(profile.Width, profile.Height, profile.Scale, profile.Mobile).
		WithScreenOrientation(orientation)
	if _, err := sess.Send(ctx, "Emulation.setDeviceMetricsOverride", metrics); err != nil {
		return fmt.Errorf("device metrics override: %w", err)
	}

	touch := emulation.SetTouchEmulationEnabled(profile.Touch)
	if _, err := sess.Send(ctx, "Emulation.setTouchEmulationEnabled", touch); err != nil {
		return fmt.Errorf("touch emulation: %w", err)
	}

	if profile.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(profile.UserAgent)
		if _, err := sess.Send(ctx, "Emulation.setUserAgentOverride", ua); err != nil {
			return fmt.Errorf("user-agent override: %w", err)
		}
	}
	return nil
}

// ApplyThrottling imposes the preset's network conditions and CPU rate on
// the session. A "none" preset issues no commands.
func ApplyThrottling(ctx context.Context, sess *cdp.Session, t device.Throttling) error {
	if t.RTTMs > 0 || t.ThroughputKbps > 0 {
		if _, err := sess.Send(ctx, "Network.enable", network.Enable()); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		bytesPerSec := float64(t.ThroughputKbps) * 1024 / 8
		cond := network.EmulateNetworkConditions(false, float64(t.RTTMs), bytesPerSec, bytesPerSec)
		if _, err := sess.Send(ctx, "Network.emulateNetworkConditions", cond); err != nil {
			return fmt.Errorf("network conditions: %w", err)
		}
	}
	if t.CPUMultiplier > 1 {
		rate := emulation.SetCPUThrottlingRate(t.CPUMultiplier)
		if _, err := sess.Send(ctx, "Emulation.setCPUThrottlingRate", rate); err != nil {
			return fmt.Errorf("cpu throttling: %w", err)
		}
	}
	return nil
}
