// Package config loads the controller's startup configuration: the YAML
// options table from spec §6 plus MQTT broker credentials from a .env file.
//
// Grounded on brianmickel-battery-backtest/internal/config/config.go
// (struct-tag driven YAML load with an explicit Validate step) and on the
// teacher's main.go for .env-based credential loading.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/moat-inv/invctl/internal/control"
)

// File is the on-disk YAML shape. Unknown keys are rejected at decode time
// (spec §6: "names are recognised, others rejected").
type File struct {
	FStep  *float64 `yaml:"f_step"`
	PStep  *float64 `yaml:"p_step"`
	FDelta *float64 `yaml:"f_delta"`
	TopOff *bool    `yaml:"top_off"`

	UMaxDiff *float64 `yaml:"umax_diff"`
	UMinDiff *float64 `yaml:"umin_diff"`

	PGMin *float64 `yaml:"pg_min"`
	PGMax *float64 `yaml:"pg_max"`

	InvEff     *float64 `yaml:"inv_eff"`
	PPerPhase  *float64 `yaml:"p_per_phase"`
	PVMargin   *float64 `yaml:"pv_margin"`
	PVDelta    *float64 `yaml:"pv_delta"`
	CapScale   *float64 `yaml:"cap_scale"`
	RInt       *float64 `yaml:"r_int"`
	PVMaxLevel *float64 `yaml:"pv_max_level"`

	NumPhases *int `yaml:"num_phases"`

	Mode  string                        `yaml:"mode"`
	Modes map[string]map[string]float64 `yaml:"modes"`

	Fake bool   `yaml:"fake"`
	Name string `yaml:"name"`
}

// Load reads and decodes path into a control.Config, starting from
// control.DefaultConfig() and overriding only the keys present in the file.
func Load(path string) (control.Config, error) {
	cfg := control.DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}

	applyFloat(&cfg.FStep, f.FStep)
	applyFloat(&cfg.PStep, f.PStep)
	applyFloat(&cfg.FDelta, f.FDelta)
	if f.TopOff != nil {
		cfg.TopOff = *f.TopOff
	}
	applyFloat(&cfg.UMaxDiff, f.UMaxDiff)
	applyFloat(&cfg.UMinDiff, f.UMinDiff)
	applyFloat(&cfg.PGMin, f.PGMin)
	applyFloat(&cfg.PGMax, f.PGMax)
	applyFloat(&cfg.InvEff, f.InvEff)
	applyFloat(&cfg.PPerPhase, f.PPerPhase)
	applyFloat(&cfg.PVMargin, f.PVMargin)
	applyFloat(&cfg.PVDelta, f.PVDelta)
	applyFloat(&cfg.CapScale, f.CapScale)
	applyFloat(&cfg.RInt, f.RInt)
	applyFloat(&cfg.PVMaxLevel, f.PVMaxLevel)
	if f.NumPhases != nil {
		cfg.NumPhases = *f.NumPhases
	}
	if f.Mode != "" {
		cfg.ModesDefault = f.Mode
	}
	if f.Modes != nil {
		cfg.ModeDefaults = f.Modes
	}
	cfg.OpFake = f.Fake
	if f.Name != "" {
		cfg.Name = f.Name
	}

	return cfg, Validate(cfg)
}

func applyFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

// Validate rejects a configuration that can never produce a sane setpoint.
func Validate(cfg control.Config) error {
	if cfg.NumPhases < 1 {
		return fmt.Errorf("config: num_phases must be >= 1")
	}
	if cfg.PGMin > cfg.PGMax {
		return fmt.Errorf("config: pg_min must be <= pg_max")
	}
	if cfg.InvEff <= 0 || cfg.InvEff > 1 {
		return fmt.Errorf("config: inv_eff must be in (0,1]")
	}
	if cfg.PPerPhase <= 0 {
		return fmt.Errorf("config: p_per_phase must be positive")
	}
	return nil
}

// Credentials holds the MQTT broker connection secrets, loaded from a .env
// file (or the process environment, which takes precedence).
type Credentials struct {
	Broker   string
	Username string
	Password string
	ClientID string
}

// LoadCredentials loads .env (if present; a missing file is not an error)
// and reads the MQTT_* environment variables.
func LoadCredentials() (Credentials, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Credentials{}, fmt.Errorf("config: .env: %w", err)
	}

	c := Credentials{
		Broker:   os.Getenv("MQTT_BROKER"),
		Username: os.Getenv("MQTT_USERNAME"),
		Password: os.Getenv("MQTT_PASSWORD"),
		ClientID: os.Getenv("MQTT_CLIENT_ID"),
	}
	if c.Broker == "" {
		return c, fmt.Errorf("config: MQTT_BROKER must be set")
	}
	return c, nil
}
