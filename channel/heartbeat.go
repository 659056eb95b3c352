// heartbeat.go - per-channel liveness probe (§4.3, C6).
// SPDX-License-Identifier: AGPL-3.0-only

package channel

import "time"

// DefaultHeartbeatInterval is T_h, the spec's stated default.
const DefaultHeartbeatInterval = 5 * time.Second

// HeartbeatConfig bounds one heartbeat controller's timing.
type HeartbeatConfig struct {
	Interval   time.Duration // how often HEARTBEAT is sent, whatever other traffic the channel carries
	ExpTimeout time.Duration // default 3*Interval; no inbound traffic within this window expires the channel
}

// DefaultHeartbeatConfig returns T_h=5s, expiry at 3*T_h.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{Interval: DefaultHeartbeatInterval, ExpTimeout: 3 * DefaultHeartbeatInterval}
}

// HeartbeatCallbacks are fired by the heartbeat controller.
type HeartbeatCallbacks interface {
	SendHeartbeat(health uint8)
	Expired()
}

// Health reports this channel's view of its own queue pressure, 0
// meaning healthy and 255 meaning saturated; it is carried in every
// outbound HEARTBEAT so the peer can throttle.
type Health func() uint8

// HeartbeatController tracks the last time any traffic (not just a
// HEARTBEAT) was seen on the channel, sending its own HEARTBEAT every
// Interval and firing Expired once ExpTimeout passes with
// nothing inbound.
type HeartbeatController struct {
	cfg    HeartbeatConfig
	cb     HeartbeatCallbacks
	health Health

	lastSent time.Time
	lastSeen time.Time
	expired  bool
}

// NewHeartbeatController builds a controller seeded as of now.
func NewHeartbeatController(cfg HeartbeatConfig, cb HeartbeatCallbacks, health Health, now time.Time) *HeartbeatController {
	return &HeartbeatController{cfg: cfg, cb: cb, health: health, lastSent: now, lastSeen: now}
}

// OnTrafficSeen resets the expiry clock; called on every inbound
// packet of any type, not just HEARTBEAT.
func (h *HeartbeatController) OnTrafficSeen(now time.Time) {
	h.lastSeen = now
}

// Step sends a HEARTBEAT once Interval has passed since the last one
// it sent, and checks the expiry deadline, firing Expired at most once.
func (h *HeartbeatController) Step(now time.Time) {
	if h.expired {
		return
	}
	if now.Sub(h.lastSeen) >= h.cfg.ExpTimeout {
		h.expired = true
		h.cb.Expired()
		return
	}
	if now.Sub(h.lastSent) >= h.cfg.Interval {
		h.lastSent = now
		h.cb.SendHeartbeat(h.health())
	}
}
