// Package ncgen writes FANUC-style NC programs from process recipes.
//
// A program is a header (program number, units, absolute mode, modal
// resets), one block per tool setup and a postamble. Blocks follow the stage
// rank of the planner: every center drill position first, then drilling,
// counterboring, tapping and milling, so each tool is loaded once. Within a
// block holes are visited in nearest-neighbour order starting from the
// program origin.
//
// # Coordinates
//
// Features arrive in the normalized drawing frame, where Y grows downward.
// Programs use the machine frame with Y growing away from the operator, so
// every Y is negated on output. Z0 is the top of the stock and depths are
// emitted as negative Z.
//
// # Polar Mode
//
// In polar mode the hole positions of each block are written as
// X=radius Y=angle between a G16 and a G15. Every conversion is logged and
// recorded in Program.PolarPoints. Mill contours are always cartesian.
//
// Every program is checked with CheckInvariants before it is returned.
package ncgen

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoStages is returned when features were planned but no stage
	// survived, so the program would cut nothing.
	ErrNoStages = errors.New("recipe has no machining stages")

	// ErrInvariant is returned when an emitted program breaks a structural
	// rule.
	ErrInvariant = errors.New("program invariant violated")

	// ErrUnknownMode is returned for a coordinate mode other than cartesian
	// or polar.
	ErrUnknownMode = errors.New("unknown coordinate mode")
)

// Mode is the coordinate emission mode.
type Mode string

// Coordinate modes.
const (
	Cartesian Mode = "cartesian"
	Polar     Mode = "polar"
)

// ParseMode returns the mode with the given name; empty means Cartesian.
func ParseMode(name string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(name))); m {
	case "", Cartesian:
		return Cartesian, nil
	case Polar:
		return Polar, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, name)
}

// PolarPoint records one cartesian to polar conversion.
type PolarPoint struct {
	FeatureID string  `json:"feature_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Radius    float64 `json:"radius"`
	Angle     float64 `json:"angle"`
}

// Program is an emitted NC program. It is not modified after Emit returns.
type Program struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Units  string `json:"units"`
	Mode   Mode   `json:"mode"`

	Lines []string `json:"lines"`

	// StageCount is the number of planned stages in the program.
	StageCount int `json:"stage_count"`

	// ToolChanges is the number of tool blocks.
	ToolChanges int `json:"tool_changes"`

	// Verify lists the defaulted parameters flagged in the program text.
	Verify []string `json:"verify,omitempty"`

	PolarPoints []PolarPoint `json:"polar_points,omitempty"`

	// RunID identifies the emission. It is metadata only and never written
	// into the program text.
	RunID string `json:"run_id"`
}

// Text returns the program as newline-terminated lines.
func (p *Program) Text() string {
	if len(p.Lines) == 0 {
		return ""
	}
	return strings.Join(p.Lines, "\n") + "\n"
}
