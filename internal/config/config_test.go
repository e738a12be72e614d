package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestThreadPitch(t *testing.T) {
	cfg := Defaults()
	tests := []struct {
		size  string
		pitch float64
		ok    bool
	}{
		{"M3", 0.5, true},
		{"M10", 1.5, true},
		{"m10x1.5", 1.5, true},
		{"M12", 1.75, true},
		{"M7", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.size, func(t *testing.T) {
			p, ok := cfg.ThreadPitch(tt.size)
			if ok != tt.ok || p != tt.pitch {
				t.Errorf("ThreadPitch(%q) = %v, %v; want %v, %v", tt.size, p, ok, tt.pitch, tt.ok)
			}
		})
	}
}

func TestTapDrillDiameter(t *testing.T) {
	assert.Equal(t, 8.5, TapDrillDiameter(NominalDiameter("M10"), 1.5))
	assert.Equal(t, 0.0, NominalDiameter("10"))
}

func TestLoadJSON_OverlaysDefaults(t *testing.T) {
	raw := []byte(`{"program_number": 2024, "tolerances": {"pcd_search_radius": 30}, "threads": {"M24": 3.0}}`)

	cfg, err := LoadJSON(Defaults(), "", raw)
	require.NoError(t, err)
	assert.Equal(t, 2024, cfg.ProgramNumber)
	assert.Equal(t, 30.0, cfg.Tolerances.PCDSearchRadius)
	assert.Equal(t, 3.0, cfg.Tolerances.CounterboreCenter, "untouched tolerance keeps its default")
	assert.Equal(t, 3.0, cfg.Threads["M24"])
	assert.Equal(t, 1.5, cfg.Threads["M10"], "thread table is merged")
	require.NoError(t, cfg.Validate())
}

func TestLoadJSON_RejectsUnknownFields(t *testing.T) {
	_, err := LoadJSON(Defaults(), "", []byte(`{"program_numbr": 1}`))
	assert.Error(t, err)
}

func TestLoadJSON_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mode": "polar"}`), 0o644))

	cfg, err := LoadJSON(Defaults(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, "polar", cfg.Mode)

	_, err = LoadJSON(Defaults(), filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
}

func TestLoadJSON_DoesNotAliasBase(t *testing.T) {
	base := Defaults()
	_, err := LoadJSON(base, "", []byte(`{"threads": {"M30": 3.5}}`))
	require.NoError(t, err)

	_, ok := base.Threads["M30"]
	assert.False(t, ok)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvProgramNumber:   "1234",
		EnvSafeHeight:      "25",
		EnvStrategy:        "Centroid",
		EnvPCDSearchRadius: "20",
		EnvLogLevel:        "DEBUG",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := applyEnv(Defaults(), lookup)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.ProgramNumber)
	assert.Equal(t, 25.0, cfg.Heights.Safe)
	assert.Equal(t, "Centroid", cfg.Strategy)
	assert.Equal(t, 20.0, cfg.Tolerances.PCDSearchRadius)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_BadNumber(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == EnvSafeHeight {
			return "high", true
		}
		return "", false
	}
	_, err := applyEnv(Defaults(), lookup)
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"program number", func(c *Config) { c.ProgramNumber = 10000 }},
		{"strategy", func(c *Config) { c.Strategy = "Topmost" }},
		{"approach above safe", func(c *Config) { c.Heights.Approach = 20 }},
		{"tool change below safe", func(c *Config) { c.Heights.ToolChange = 5 }},
		{"duplicate tool", func(c *Config) { c.Tools = append(c.Tools, Tool{Number: 1, Kind: ToolDrill, Diameter: 7}) }},
		{"no center drill", func(c *Config) { c.Tools = []Tool{{Number: 2, Kind: ToolDrill, Diameter: 5}} }},
		{"unknown default material", func(c *Config) { c.DefaultMaterial = "unobtainium" }},
		{"bad thread key", func(c *Config) { c.Threads["UNC"] = 1 }},
		{"ratio band", func(c *Config) { c.Tolerances.CounterboreRatioMax = 1.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestFindTool(t *testing.T) {
	cfg := Defaults()

	tool, ok := cfg.FindTool(ToolDrill, 8.5, "")
	require.True(t, ok)
	assert.Equal(t, 8, tool.Number)

	tool, ok = cfg.FindTool(ToolTap, 0, "m10")
	require.True(t, ok)
	assert.Equal(t, 26, tool.Number)

	_, ok = cfg.FindTool(ToolDrill, 7.7, "")
	assert.False(t, ok)

	n := cfg.NextToolNumber(map[int]bool{15: true})
	assert.Equal(t, 16, n)
}

func TestMaterialFallback(t *testing.T) {
	cfg := Defaults()

	m, name, ok := cfg.Material("Aluminum")
	assert.True(t, ok)
	assert.Equal(t, "aluminum", name)
	assert.Equal(t, 600.0, m.TapSpindle)

	m, name, ok = cfg.Material("titanium")
	assert.False(t, ok)
	assert.Equal(t, "steel", name)
	assert.Equal(t, 300.0, m.TapSpindle)
}
