// Package config collects the tunable constants spec.md §6 hard-codes into
// an environment-driven struct, the way telepresence's traffic-manager
// (cmd/traffic/cmd/manager/managerutil.Env) turns its operational constants
// into struct-tag-driven environment configuration.
package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// Config holds every tunable named in spec.md §6.
type Config struct {
	// MaxDatagram is the largest datagram ever transmitted (spec.md MAX_LEN).
	MaxDatagram int `env:"MINITCP_MAX_DATAGRAM,default=1400"`

	// MaxNetworkBuffer bounds both sending_buf and received_buf.
	MaxNetworkBuffer int `env:"MINITCP_MAX_NETWORK_BUFFER,default=65535"`

	// RetransmitTimeoutMillis is the engine's poll timeout and RTO (spec.md DEFAULT_TIMEOUT).
	RetransmitTimeoutMillis int `env:"MINITCP_RTO_MS,default=200"`

	// InitialSSThreshSegments is the initial slow-start threshold, in MSS units.
	InitialSSThreshSegments int `env:"MINITCP_INITIAL_SSTHRESH_SEGMENTS,default=64"`
}

// HeaderLen is fixed by the wire format, not configurable.
const HeaderLen = 23

// MSS returns the maximum segment payload size for this configuration:
// MaxDatagram - HeaderLen, matching spec.md's MSS definition.
func (c Config) MSS() int { return c.MaxDatagram - HeaderLen }

// Default returns the literal values spec.md §6 hard-codes.
func Default() Config {
	return Config{
		MaxDatagram:             1400,
		MaxNetworkBuffer:        65535,
		RetransmitTimeoutMillis: 200,
		InitialSSThreshSegments: 64,
	}
}

// FromEnviron loads overrides from the process environment on top of
// Default(), using the same env-tag struct convention telepresence's
// managerutil.Env uses.
func FromEnviron(ctx context.Context) (Config, error) {
	cfg := Default()
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
