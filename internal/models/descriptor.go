// Package models holds the data shapes shared across the watcher: server
// descriptors loaded from config, observed samples from the controller, and
// the machine state bookkeeping the monitor maintains per server.
package models

import (
	"net"
	"strconv"
	"time"
)

// ServerKind distinguishes the wire protocol an interposer must speak.
type ServerKind string

const (
	KindJava    ServerKind = "java"
	KindBedrock ServerKind = "bedrock"
)

// WakeOnPingPolicy controls when a Bedrock interposer treats repeated pings
// from one peer as a wake trigger.
type WakeOnPingPolicy string

const (
	WakeOnPingAlways   WakeOnPingPolicy = "always"
	WakeOnPingRepeated WakeOnPingPolicy = "repeated"
	WakeOnPingNever    WakeOnPingPolicy = "never"
)

// Descriptor is the immutable-after-load definition of one managed server.
// It is replaced wholesale on config reload, but Name is the stable key used
// to carry state and timers across a reload.
type Descriptor struct {
	Name     string // map key in config; stable identifier for logs and metrics
	CraftyID string // controller's opaque server id
	Kind     ServerKind
	BindAddr string
	Port     int

	IdleTimeout  time.Duration
	StartTimeout time.Duration
	StopTimeout  time.Duration
	StopCooldown time.Duration
	StartGrace   time.Duration

	FlapThreshold int
	FlapWindow    time.Duration

	MOTD            string
	MOTDIcon        string // optional base64 data URL favicon
	VersionName     string
	ProtocolVersion int
	MaxPlayers      int
	StartingKickMsg string

	WakeOnPing WakeOnPingPolicy // Bedrock only

	RCONPort     int // 0 disables the readiness probe
	RCONPassword string
}

// Addr formats the bind address and port as used by net.Listen / net.ResolveUDPAddr.
func (d Descriptor) Addr() string {
	return net.JoinHostPort(d.BindAddr, strconv.Itoa(d.Port))
}

// ObservedSample is what one controller poll produces for a server.
// PlayerCount is only meaningful when Running is true. Crashed is the
// controller's own crash signal, when it exposes one distinct from Running.
type ObservedSample struct {
	Running     bool
	Crashed     bool
	PlayerCount int
	ObservedAt  time.Time
}
