// Package tuning loads the server configuration (server.yaml). Secrets are
// never read from the file; they come from MANV_* environment variables.
package tuning

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickIntervalMs int `yaml:"tick_interval_ms"`
	// TreatmentRefreshTicks is the number of ticks between forced full
	// treatment recalculations. 0 disables the forced refresh.
	TreatmentRefreshTicks int `yaml:"treatment_refresh_ticks"`
	SnapshotEveryActions  int `yaml:"snapshot_every_actions"`
	ClientQueueSize       int `yaml:"client_queue_size"`
	// ProposalQueueSize bounds pending proposals per exercise.
	ProposalQueueSize int `yaml:"proposal_queue_size"`

	StandIn StandIn `yaml:"stand_in"`
	Store   Store   `yaml:"store"`
	Mirror  Mirror  `yaml:"mirror"`
}

type StandIn struct {
	HoldMs   int `yaml:"hold_ms"`
	UpdateMs int `yaml:"update_ms"`
}

type Store struct {
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite. Postgres DSNs are usually passed via
	// MANV_STORE_DSN.
	DSN string `yaml:"dsn"`
}

type Mirror struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	PathStyle     bool   `yaml:"path_style"`
	Workers       int    `yaml:"workers"`
	QueueCapacity int    `yaml:"queue_capacity"`

	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:       "1.0",
		TickIntervalMs:        1000,
		TreatmentRefreshTicks: 60,
		SnapshotEveryActions:  500,
		ClientQueueSize:       256,
		ProposalQueueSize:     1024,
		StandIn:               StandIn{HoldMs: 20000, UpdateMs: 10000},
		Store:                 Store{Driver: "sqlite"},
		Mirror:                Mirror{Region: "auto", Workers: 2, QueueCapacity: 256},
	}
}

// Load reads path over the defaults. An empty path yields the defaults. The
// environment is applied after the file.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return t, err
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("server.yaml: %w", err)
		}
	}
	t.ApplyEnv()
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("server.yaml: %w", err)
	}
	return t, nil
}

// ApplyEnv overrides settings from MANV_* variables.
func (t *Tuning) ApplyEnv() {
	t.TickIntervalMs = envInt("MANV_TICK_INTERVAL_MS", t.TickIntervalMs)
	t.Store.Driver = envString("MANV_STORE_DRIVER", t.Store.Driver)
	t.Store.DSN = envString("MANV_STORE_DSN", t.Store.DSN)
	t.Mirror.Enabled = envBool("MANV_MIRROR", t.Mirror.Enabled)
	t.Mirror.Endpoint = envString("MANV_MIRROR_ENDPOINT", t.Mirror.Endpoint)
	t.Mirror.Bucket = envString("MANV_MIRROR_BUCKET", t.Mirror.Bucket)
	t.Mirror.Prefix = envString("MANV_MIRROR_PREFIX", t.Mirror.Prefix)
	t.Mirror.Workers = envInt("MANV_MIRROR_UPLOAD_WORKERS", t.Mirror.Workers)
	t.Mirror.AccessKeyID = envString("MANV_MIRROR_ACCESS_KEY_ID", t.Mirror.AccessKeyID)
	t.Mirror.SecretAccessKey = envString("MANV_MIRROR_SECRET_ACCESS_KEY", t.Mirror.SecretAccessKey)
}

func (t *Tuning) Normalize() {
	d := Defaults()
	t.ProtocolVersion = strings.TrimSpace(t.ProtocolVersion)
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.TickIntervalMs <= 0 {
		t.TickIntervalMs = d.TickIntervalMs
	}
	if t.TreatmentRefreshTicks < 0 {
		t.TreatmentRefreshTicks = 0
	}
	if t.SnapshotEveryActions <= 0 {
		t.SnapshotEveryActions = d.SnapshotEveryActions
	}
	if t.ClientQueueSize <= 0 {
		t.ClientQueueSize = d.ClientQueueSize
	}
	if t.ProposalQueueSize <= 0 {
		t.ProposalQueueSize = d.ProposalQueueSize
	}
	if t.StandIn.HoldMs <= 0 {
		t.StandIn.HoldMs = d.StandIn.HoldMs
	}
	if t.StandIn.UpdateMs <= 0 {
		t.StandIn.UpdateMs = d.StandIn.UpdateMs
	}
	t.Store.Driver = strings.ToLower(strings.TrimSpace(t.Store.Driver))
	if t.Store.Driver == "" {
		t.Store.Driver = d.Store.Driver
	}
	if t.Mirror.Workers <= 0 {
		t.Mirror.Workers = d.Mirror.Workers
	}
	if t.Mirror.QueueCapacity <= 0 {
		t.Mirror.QueueCapacity = d.Mirror.QueueCapacity
	}
	if t.Mirror.Region == "" {
		t.Mirror.Region = d.Mirror.Region
	}
}

func (t Tuning) Validate() error {
	if t.TickIntervalMs < 100 || t.TickIntervalMs > 60000 {
		return fmt.Errorf("tick_interval_ms must be within [100,60000], got %d", t.TickIntervalMs)
	}
	if t.StandIn.UpdateMs > t.StandIn.HoldMs {
		return fmt.Errorf("stand_in.update_ms (%d) must not exceed stand_in.hold_ms (%d)", t.StandIn.UpdateMs, t.StandIn.HoldMs)
	}
	switch t.Store.Driver {
	case "sqlite", "none":
	case "postgres", "pgx":
		if t.Store.DSN == "" {
			return fmt.Errorf("store.driver=%s requires store.dsn or MANV_STORE_DSN", t.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported store.driver %q", t.Store.Driver)
	}
	if t.Mirror.Enabled && strings.TrimSpace(t.Mirror.Bucket) == "" {
		return fmt.Errorf("mirror.enabled requires mirror.bucket")
	}
	return nil
}

func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

func (t StandIn) Hold() time.Duration   { return time.Duration(t.HoldMs) * time.Millisecond }
func (t StandIn) Update() time.Duration { return time.Duration(t.UpdateMs) * time.Millisecond }

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
