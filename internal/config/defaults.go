package config

import (
	"strconv"
	"strings"
)

// Defaults returns a Config with the built-in tables and safe default values.
// Every call returns fresh maps and slices.
func Defaults() Config {
	return Config{
		ProgramNumber: 1000,
		ProgramTitle:  "NC-TOOLS",
		Strategy:      "HighestY",
		Mode:          "cartesian",
		Heights: Heights{
			Safe:       10,
			Approach:   3,
			ToolChange: 100,
		},
		Tolerances: Tolerances{
			CounterboreCenter:   3,
			CounterboreRatioMin: 1.2,
			CounterboreRatioMax: 3.0,
			PCDSlot:             0.10,
			PCDRing:             0.15,
			PCDSearchRadius:     50,
			BaselineRelative:    0.02,
			BaselineAbsolute:    0.5,
			Position:            1.0,
			PocketSolidity:      0.9,
			MinCornerRadius:     0.5,
		},
		Defaults: ParameterDefaults{
			DrillDepth:        10,
			ThreadDepthFactor: 1.5,
			CounterboreDepth:  5,
			PocketDepth:       5,
			MillDiameter:      10,
			HoleDiameter:      6.6,
			CenterDrillDepth:  3,
			DwellMillis:       500,
		},
		Threads:         defaultThreads(),
		Tools:           defaultTools(),
		Materials:       defaultMaterials(),
		DefaultMaterial: "steel",
		MaxSpindle:      8000,
		Workers:         4,
		Logging: Logging{
			Level: "info",
		},
	}
}

// defaultThreads is the ISO metric coarse pitch table.
func defaultThreads() map[string]float64 {
	return map[string]float64{
		"M3":  0.5,
		"M4":  0.7,
		"M5":  0.8,
		"M6":  1.0,
		"M8":  1.25,
		"M10": 1.5,
		"M12": 1.75,
		"M14": 2.0,
		"M16": 2.0,
		"M20": 2.5,
	}
}

func defaultTools() []Tool {
	return []Tool{
		{Number: 1, Kind: ToolCenterDrill, Diameter: 3},
		{Number: 2, Kind: ToolDrill, Diameter: 2.5},
		{Number: 3, Kind: ToolDrill, Diameter: 3.3},
		{Number: 4, Kind: ToolDrill, Diameter: 4.2},
		{Number: 5, Kind: ToolDrill, Diameter: 5.0},
		{Number: 6, Kind: ToolDrill, Diameter: 6.6},
		{Number: 7, Kind: ToolDrill, Diameter: 6.8},
		{Number: 8, Kind: ToolDrill, Diameter: 8.5},
		{Number: 9, Kind: ToolDrill, Diameter: 9.0},
		{Number: 10, Kind: ToolDrill, Diameter: 10.2},
		{Number: 11, Kind: ToolDrill, Diameter: 11.0},
		{Number: 12, Kind: ToolDrill, Diameter: 14.0},
		{Number: 13, Kind: ToolDrill, Diameter: 17.5},
		{Number: 14, Kind: ToolDrill, Diameter: 22.0},
		{Number: 21, Kind: ToolTap, Diameter: 3, Thread: "M3"},
		{Number: 22, Kind: ToolTap, Diameter: 4, Thread: "M4"},
		{Number: 23, Kind: ToolTap, Diameter: 5, Thread: "M5"},
		{Number: 24, Kind: ToolTap, Diameter: 6, Thread: "M6"},
		{Number: 25, Kind: ToolTap, Diameter: 8, Thread: "M8"},
		{Number: 26, Kind: ToolTap, Diameter: 10, Thread: "M10"},
		{Number: 27, Kind: ToolTap, Diameter: 12, Thread: "M12"},
		{Number: 31, Kind: ToolCounterbore, Diameter: 11},
		{Number: 32, Kind: ToolCounterbore, Diameter: 14},
		{Number: 33, Kind: ToolCounterbore, Diameter: 18},
		{Number: 34, Kind: ToolCounterbore, Diameter: 20},
		{Number: 35, Kind: ToolCounterbore, Diameter: 26},
		{Number: 41, Kind: ToolEndMill, Diameter: 6},
		{Number: 42, Kind: ToolEndMill, Diameter: 8},
		{Number: 43, Kind: ToolEndMill, Diameter: 10},
		{Number: 44, Kind: ToolEndMill, Diameter: 12},
		{Number: 45, Kind: ToolEndMill, Diameter: 16},
	}
}

func defaultMaterials() map[string]Material {
	return map[string]Material{
		"aluminum":   {CuttingSpeed: 200, FeedPerRev: 0.15, MillFeedPerRev: 0.20, TapSpindle: 600, StepoverRatio: 0.6},
		"brass":      {CuttingSpeed: 120, FeedPerRev: 0.12, MillFeedPerRev: 0.15, TapSpindle: 500, StepoverRatio: 0.55},
		"steel":      {CuttingSpeed: 80, FeedPerRev: 0.10, MillFeedPerRev: 0.12, TapSpindle: 300, StepoverRatio: 0.5},
		"cast_iron":  {CuttingSpeed: 70, FeedPerRev: 0.12, MillFeedPerRev: 0.12, TapSpindle: 250, StepoverRatio: 0.5},
		"stainless":  {CuttingSpeed: 50, FeedPerRev: 0.06, MillFeedPerRev: 0.08, TapSpindle: 200, StepoverRatio: 0.4, Hard: true},
		"tool_steel": {CuttingSpeed: 40, FeedPerRev: 0.05, MillFeedPerRev: 0.06, TapSpindle: 150, StepoverRatio: 0.35, Hard: true},
	}
}

// NominalDiameter parses the nominal diameter from a metric designation
// ("M10" is 10). It returns 0 when the designation is malformed.
func NominalDiameter(size string) float64 {
	s := NormalizeThread(size)
	if !strings.HasPrefix(s, "M") {
		return 0
	}
	d, err := strconv.ParseFloat(s[1:], 64)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// TapDrillDiameter returns nominal minus pitch, the standard tap drill for a
// metric coarse thread (M10 x 1.5 gives 8.5).
func TapDrillDiameter(nominal, pitch float64) float64 {
	return nominal - pitch
}
