// config.go - the TOML schema a host program fills in to build a
// node.Config. CLI flag parsing stays out of scope; this package only
// owns the file format so embedders don't reinvent it.
// SPDX-License-Identifier: AGPL-3.0-only

// Package config loads the TOML file describing one node's identity,
// addresses and tunables, parsed with github.com/BurntSushi/toml the
// way the teacher's own deployment configs are loaded.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/semenovf/netty-go/channel"
	"github.com/semenovf/netty-go/delivery"
	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/node"
	"github.com/semenovf/netty-go/routing"
)

// File is the root TOML document shape.
type File struct {
	Node      NodeSection      `toml:"node"`
	Heartbeat HeartbeatSection `toml:"heartbeat"`
	Alive     AliveSection     `toml:"alive"`
	Frame     FrameSection     `toml:"frame"`
	Reconnect ReconnectSection `toml:"reconnect"`
	Delivery  DeliverySection  `toml:"delivery"`
	Storage   StorageSection   `toml:"storage"`
	Metrics   MetricsSection   `toml:"metrics"`
}

// NodeSection identifies this endpoint and where it listens or dials.
type NodeSection struct {
	ID        string   `toml:"id"` // meshid.ID.String() form; empty generates a fresh one
	Name      string   `toml:"name"`
	IsGateway bool     `toml:"is_gateway"`
	BehindNAT bool     `toml:"behind_nat"`
	Listen    string   `toml:"listen"` // "" disables listening
	Dial      []string `toml:"dial"`   // addresses to connect to at startup
	DualLink  bool     `toml:"dual_link"`
}

// HeartbeatSection mirrors channel.HeartbeatConfig.
type HeartbeatSection struct {
	IntervalSeconds   int `toml:"interval_seconds"`
	ExpTimeoutSeconds int `toml:"exp_timeout_seconds"`
}

// AliveSection mirrors routing.AliveConfig.
type AliveSection struct {
	IntervalSeconds        int `toml:"interval_seconds"`
	ExpTimeoutSeconds      int `toml:"exp_timeout_seconds"`
	LoopingIntervalSeconds int `toml:"looping_interval_seconds"`
	RouteStaleSeconds      int `toml:"route_stale_seconds"`
}

// FrameSection bounds the writer scheduler.
type FrameSection struct {
	SizeBytes        int   `toml:"size_bytes"`
	Weights          []int `toml:"weights"` // one weight per priority, lowest index highest priority
	MaxFramesPerStep int   `toml:"max_frames_per_step"`
}

// ReconnectSection picks the default policy applied to outbound
// channels this node originates.
type ReconnectSection struct {
	Policy string `toml:"policy"` // "none", "fixed_delay" or "escalating"
}

// DeliverySection mirrors delivery.Config's tunables.
type DeliverySection struct {
	PartSizeBytes   int `toml:"part_size_bytes"`
	SynRetrySeconds int `toml:"syn_retry_seconds"`
}

// StorageSection selects an optional persistence backend. Exactly one
// of BoltPath or PostgresDSN should be set; neither means no
// persistence.
type StorageSection struct {
	BoltPath    string `toml:"bolt_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// MetricsSection configures prometheus exposition. Listen is left for
// the host program to bind; this package only records intent.
type MetricsSection struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Load parses a TOML file at path into a File.
func Load(path string) (File, error) {
	var f File
	_, err := toml.DecodeFile(path, &f)
	if err != nil {
		return File{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return f, nil
}

// NodeConfig translates the parsed file into a node.Config. Zero-valued
// heartbeat and alive fields take channel.DefaultHeartbeatConfig and
// routing.DefaultAliveConfig values; the other zero-valued fields take
// this function's own defaults (1500-byte frames, 16 frames per step,
// 1200-byte parts, 2s SYN retry, route staleness of 10 alive
// intervals), which differ from channel.NewManager's 1460-byte and
// 8-frame fallbacks.
func (f File) NodeConfig() (node.Config, error) {
	self, err := f.identity()
	if err != nil {
		return node.Config{}, err
	}

	hb := channel.DefaultHeartbeatConfig()
	if f.Heartbeat.IntervalSeconds > 0 {
		hb.Interval = time.Duration(f.Heartbeat.IntervalSeconds) * time.Second
	}
	if f.Heartbeat.ExpTimeoutSeconds > 0 {
		hb.ExpTimeout = time.Duration(f.Heartbeat.ExpTimeoutSeconds) * time.Second
	}

	alive := routing.DefaultAliveConfig()
	if f.Alive.IntervalSeconds > 0 {
		alive.Interval = time.Duration(f.Alive.IntervalSeconds) * time.Second
	}
	if f.Alive.ExpTimeoutSeconds > 0 {
		alive.ExpTimeout = time.Duration(f.Alive.ExpTimeoutSeconds) * time.Second
	}
	if f.Alive.LoopingIntervalSeconds > 0 {
		alive.LoopingInterval = time.Duration(f.Alive.LoopingIntervalSeconds) * time.Second
	}

	reconnect := channel.ReconnectNone
	switch f.Reconnect.Policy {
	case "fixed_delay":
		reconnect = channel.ReconnectFixedDelay
	case "escalating":
		reconnect = channel.ReconnectEscalating
	}

	frameSize := f.Frame.SizeBytes
	if frameSize == 0 {
		frameSize = 1500
	}
	maxFrames := f.Frame.MaxFramesPerStep
	if maxFrames == 0 {
		maxFrames = 16
	}

	mode := channel.ModeSingleLink
	if f.Node.DualLink {
		mode = channel.ModeDualLink
	}

	chanCfg := channel.Config{
		Mode:             mode,
		HandshakeTimeout: 10 * time.Second,
		Heartbeat:        hb,
		FrameSize:        frameSize,
		Weights:          f.Frame.Weights,
		Reconnect:        reconnect,
		MaxFramesPerStep: maxFrames,
	}

	partSize := uint32(f.Delivery.PartSizeBytes)
	if partSize == 0 {
		partSize = 1200
	}
	synRetry := time.Duration(f.Delivery.SynRetrySeconds) * time.Second
	if synRetry == 0 {
		synRetry = 2 * time.Second
	}
	delCfg := delivery.Config{
		NumPriorities: len(chanCfg.Weights),
		Weights:       chanCfg.Weights,
		PartSize:      partSize,
		SynRetry:      synRetry,
	}
	if delCfg.NumPriorities == 0 {
		delCfg.NumPriorities = 1
		delCfg.Weights = []int{1}
	}

	routeStale := time.Duration(f.Alive.RouteStaleSeconds) * time.Second
	if routeStale == 0 {
		routeStale = 10 * alive.Interval
	}

	return node.Config{
		Self:       self,
		Channel:    chanCfg,
		Delivery:   delCfg,
		Alive:      alive,
		RouteStale: routeStale,
	}, nil
}

func (f File) identity() (channel.Identity, error) {
	id := meshid.New()
	if f.Node.ID != "" {
		parsed, err := meshid.ParseString(f.Node.ID)
		if err != nil {
			return channel.Identity{}, fmt.Errorf("config: node.id: %w", err)
		}
		id = parsed
	}
	return channel.Identity{
		ID:        id,
		Name:      f.Node.Name,
		IsGateway: f.Node.IsGateway,
		BehindNAT: f.Node.BehindNAT,
	}, nil
}
