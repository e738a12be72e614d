package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
)

// Environment variables read by FromEnv.
const (
	EnvConfig          = "NC_MCP_CONFIG"
	EnvProgramNumber   = "NC_MCP_PROGRAM_NUMBER"
	EnvSafeHeight      = "NC_MCP_SAFE_HEIGHT"
	EnvStrategy        = "NC_MCP_STRATEGY"
	EnvPCDSearchRadius = "NC_MCP_PCD_SEARCH_RADIUS"
	EnvLogLevel        = "NC_MCP_LOG_LEVEL"
	EnvLogFile         = "NC_MCP_LOG_FILE"
	EnvWorkers         = "NC_MCP_WORKERS"
)

// strict rejects unknown fields so a typo in a config file is an error
// instead of a silently ignored setting.
var strict = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

var validate = validator.New()

// LoadJSON decodes a configuration from raw JSON, or from the file at path
// when raw is empty, on top of base. Unknown fields are rejected. Map-valued
// tables are merged key by key; the tool table is replaced when present.
func LoadJSON(base Config, path string, raw []byte) (Config, error) {
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return base, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()
		r = f
	default:
		return base, errors.New("no config source provided")
	}

	cfg := base.clone()
	dec := strict.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return base, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// FromEnv applies the NC_MCP_* environment overrides to base.
func FromEnv(base Config) (Config, error) {
	return applyEnv(base, os.LookupEnv)
}

func applyEnv(base Config, lookup func(string) (string, bool)) (Config, error) {
	cfg := base.clone()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvProgramNumber); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return base, fmt.Errorf("%s: %w", EnvProgramNumber, err)
		}
		cfg.ProgramNumber = n
	}
	if v, ok := get(EnvSafeHeight); ok {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return base, fmt.Errorf("%s: %w", EnvSafeHeight, err)
		}
		cfg.Heights.Safe = h
	}
	if v, ok := get(EnvStrategy); ok {
		cfg.Strategy = v
	}
	if v, ok := get(EnvPCDSearchRadius); ok {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return base, fmt.Errorf("%s: %w", EnvPCDSearchRadius, err)
		}
		cfg.Tolerances.PCDSearchRadius = r
	}
	if v, ok := get(EnvWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return base, fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		cfg.Workers = n
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := get(EnvLogFile); ok {
		cfg.Logging.File = v
	}
	return cfg, nil
}

// Load builds the effective configuration: defaults, then the JSON file named
// by NC_MCP_CONFIG (if any), then the remaining environment overrides. The
// result is validated.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv(EnvConfig)); path != "" {
		var err error
		cfg, err = LoadJSON(cfg, path, nil)
		if err != nil {
			return cfg, err
		}
	}
	cfg, err := FromEnv(cfg)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the struct tags and the cross-table rules: a center drill
// must exist and every tool number must be unique.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	if _, ok := c.Materials[c.DefaultMaterial]; !ok {
		return fmt.Errorf("config: default material %q not in material table", c.DefaultMaterial)
	}
	numbers := make(map[int]bool, len(c.Tools))
	center := false
	for _, t := range c.Tools {
		if numbers[t.Number] {
			return fmt.Errorf("config: tool number T%02d used twice", t.Number)
		}
		numbers[t.Number] = true
		if t.Kind == ToolCenterDrill {
			center = true
		}
	}
	if !center {
		return errors.New("config: tool table has no center drill")
	}
	return nil
}

// clone copies the maps and slices so overlays never alias the base.
func (c Config) clone() Config {
	out := c
	out.Threads = make(map[string]float64, len(c.Threads))
	for k, v := range c.Threads {
		out.Threads[k] = v
	}
	out.Materials = make(map[string]Material, len(c.Materials))
	for k, v := range c.Materials {
		out.Materials[k] = v
	}
	out.Tools = append([]Tool(nil), c.Tools...)
	return out
}
