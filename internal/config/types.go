// Package config holds the explicit configuration passed to the planner and
// the emitter: lookup tables (thread pitches, tools, materials), safety
// heights, matching tolerances and program defaults.
//
// Nothing in the core reads global state. A Config is built once with
// Defaults, optionally overlaid from a JSON file and the environment, then
// validated and handed down by value.
package config

import (
	"math"
	"sort"
	"strings"
)

// Tool kinds used in the tool table.
const (
	ToolCenterDrill = "center_drill"
	ToolDrill       = "drill"
	ToolTap         = "tap"
	ToolCounterbore = "counterbore"
	ToolEndMill     = "end_mill"
)

// Config is the complete runtime configuration.
type Config struct {
	// ProgramNumber is the O-number written in the program header.
	ProgramNumber int `json:"program_number" validate:"gte=1,lte=9999"`

	// ProgramTitle is the header comment when the caller gives none.
	ProgramTitle string `json:"program_title" validate:"required,max=40"`

	// Strategy is the default reference-point strategy name.
	Strategy string `json:"strategy" validate:"oneof=HighestY LowestY LeftmostX RightmostX Centroid Custom"`

	// Mode is the default coordinate emission mode.
	Mode string `json:"mode" validate:"oneof=cartesian polar"`

	Heights    Heights             `json:"heights"`
	Tolerances Tolerances          `json:"tolerances"`
	Defaults   ParameterDefaults   `json:"defaults"`
	Threads    map[string]float64  `json:"threads" validate:"required,min=1,dive,keys,startswith=M,endkeys,gt=0"`
	Tools      []Tool              `json:"tools" validate:"required,min=1,dive"`
	Materials  map[string]Material `json:"materials" validate:"required,min=1,dive"`

	// DefaultMaterial is used when the directive names none.
	DefaultMaterial string `json:"default_material" validate:"required"`

	// MaxSpindle caps every computed spindle speed (rpm).
	MaxSpindle float64 `json:"max_spindle" validate:"gt=0"`

	// Workers is the batch worker pool size.
	Workers int `json:"workers" validate:"gte=1,lte=64"`

	Logging Logging `json:"logging"`
}

// Heights are the Z levels used by the emitter, in mm.
type Heights struct {
	// Safe is the initial point after tool length compensation.
	Safe float64 `json:"safe" validate:"gt=0"`

	// Approach is the R plane of the canned cycles.
	Approach float64 `json:"approach" validate:"gt=0,ltfield=Safe"`

	// ToolChange is the retract level before a tool change and at program end.
	ToolChange float64 `json:"tool_change" validate:"gtefield=Safe"`
}

// Tolerances are the geometric matching tolerances.
type Tolerances struct {
	CounterboreCenter   float64 `json:"counterbore_center" validate:"gt=0"`
	CounterboreRatioMin float64 `json:"counterbore_ratio_min" validate:"gt=1"`
	CounterboreRatioMax float64 `json:"counterbore_ratio_max" validate:"gtfield=CounterboreRatioMin"`

	// PCDSlot is the per-angle match radius as a fraction of the PCD radius.
	PCDSlot float64 `json:"pcd_slot" validate:"gt=0,lt=1"`

	// PCDRing is the radius band, as a fraction, used without an angle list.
	PCDRing float64 `json:"pcd_ring" validate:"gt=0,lt=1"`

	// PCDSearchRadius is the absolute fallback radius for an angle slot.
	PCDSearchRadius float64 `json:"pcd_search_radius" validate:"gte=0"`

	// BaselineRelative and BaselineAbsolute bound a baseline diameter match.
	BaselineRelative float64 `json:"baseline_relative" validate:"gte=0"`
	BaselineAbsolute float64 `json:"baseline_absolute" validate:"gte=0"`

	// Position is the distance within which a declared position claims a
	// detected hole.
	Position float64 `json:"position" validate:"gt=0"`

	PocketSolidity  float64 `json:"pocket_solidity" validate:"gt=0,lte=1"`
	MinCornerRadius float64 `json:"min_corner_radius" validate:"gte=0"`
}

// ParameterDefaults are the documented substitutes for missing directive
// values. Every use is reported as a MissingParameter diagnostic.
type ParameterDefaults struct {
	DrillDepth        float64 `json:"drill_depth" validate:"gt=0"`
	ThreadDepthFactor float64 `json:"thread_depth_factor" validate:"gt=0"`
	CounterboreDepth  float64 `json:"counterbore_depth" validate:"gt=0"`
	PocketDepth       float64 `json:"pocket_depth" validate:"gt=0"`
	MillDiameter      float64 `json:"mill_diameter" validate:"gt=0"`
	HoleDiameter      float64 `json:"hole_diameter" validate:"gt=0"`
	CenterDrillDepth  float64 `json:"center_drill_depth" validate:"gt=0"`
	DwellMillis       int     `json:"dwell_ms" validate:"gte=0"`
}

// Tool is one entry of the tool table. H and D offsets use the tool number.
type Tool struct {
	Number   int     `json:"number" validate:"gte=1,lte=99"`
	Kind     string  `json:"kind" validate:"oneof=center_drill drill tap counterbore end_mill"`
	Diameter float64 `json:"diameter" validate:"gt=0"`
	Thread   string  `json:"thread,omitempty"`
}

// Material holds the cutting data for one workpiece material.
type Material struct {
	// CuttingSpeed is Vc in m/min for drilling and milling.
	CuttingSpeed float64 `json:"cutting_speed" validate:"gt=0"`

	// FeedPerRev is the drilling feed in mm/rev.
	FeedPerRev float64 `json:"feed_per_rev" validate:"gt=0"`

	// MillFeedPerRev is the milling feed in mm/rev.
	MillFeedPerRev float64 `json:"mill_feed_per_rev" validate:"gt=0"`

	// TapSpindle is the tapping spindle speed in rpm.
	TapSpindle float64 `json:"tap_spindle" validate:"gt=0"`

	// StepoverRatio is the milling stepover as a fraction of tool diameter.
	StepoverRatio float64 `json:"stepover_ratio" validate:"gt=0,lte=1"`

	// Hard raises the roughing allowance.
	Hard bool `json:"hard"`
}

// Logging configures the logger built by the logging package.
type Logging struct {
	Level string `json:"level" validate:"oneof=trace debug info warn warning error"`
	File  string `json:"file,omitempty"`
}

// ThreadPitch returns the pitch of a metric coarse thread ("M10").
func (c Config) ThreadPitch(size string) (float64, bool) {
	p, ok := c.Threads[NormalizeThread(size)]
	return p, ok
}

// NormalizeThread upper-cases a thread designation and strips any pitch
// suffix ("m10x1.5" becomes "M10").
func NormalizeThread(size string) string {
	s := strings.ToUpper(strings.TrimSpace(size))
	if i := strings.IndexAny(s, "X×"); i > 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Material returns the named material, falling back to DefaultMaterial.
// found is false when the fallback was used.
func (c Config) Material(name string) (m Material, resolved string, found bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if m, ok := c.Materials[key]; ok {
		return m, key, true
	}
	return c.Materials[c.DefaultMaterial], c.DefaultMaterial, false
}

// FindTool returns the table entry of the given kind whose diameter is
// within 0.01 mm of diameter. For taps, thread may be used instead.
func (c Config) FindTool(kind string, diameter float64, thread string) (Tool, bool) {
	for _, t := range c.Tools {
		if t.Kind != kind {
			continue
		}
		if kind == ToolTap && thread != "" && NormalizeThread(t.Thread) == NormalizeThread(thread) {
			return t, true
		}
		if math.Abs(t.Diameter-diameter) <= 0.01 {
			return t, true
		}
	}
	return Tool{}, false
}

// NextToolNumber returns the lowest tool number not in the table and not in
// used.
func (c Config) NextToolNumber(used map[int]bool) int {
	taken := make(map[int]bool, len(c.Tools)+len(used))
	for _, t := range c.Tools {
		taken[t.Number] = true
	}
	for n := range used {
		taken[n] = true
	}
	for n := 1; n <= 99; n++ {
		if !taken[n] {
			return n
		}
	}
	return 99
}

// ThreadSizes returns the known thread designations ordered by diameter.
func (c Config) ThreadSizes() []string {
	sizes := make([]string, 0, len(c.Threads))
	for k := range c.Threads {
		sizes = append(sizes, k)
	}
	sort.Slice(sizes, func(i, j int) bool {
		di, dj := NominalDiameter(sizes[i]), NominalDiameter(sizes[j])
		if di == dj {
			return sizes[i] < sizes[j]
		}
		return di < dj
	})
	return sizes
}
