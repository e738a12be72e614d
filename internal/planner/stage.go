package planner

import (
	"errors"
	"fmt"

	"github.com/ironsheep/nc-tools-mcp/internal/feature"
	"github.com/ironsheep/nc-tools-mcp/internal/machining"
)

// ErrInvalidStageOrdering is returned when a stage sequence breaks the fixed
// templates. It indicates a programming error, never bad input.
var ErrInvalidStageOrdering = errors.New("invalid stage ordering")

// ErrDepthInvariant is returned when a tap pilot is not deeper than its
// thread.
var ErrDepthInvariant = errors.New("tap drill depth does not exceed thread depth")

// StageKind is the kind of a machining stage. The numeric order is the
// emission rank: all center drilling first, then drilling, counterboring,
// tapping and finally milling.
type StageKind int

// Stage kinds in emission order.
const (
	CenterDrill StageKind = iota
	Drill
	CounterboreStage
	Tap
	Mill
)

var stageNames = [...]string{"center_drill", "drill", "counterbore", "tap", "mill"}

func (k StageKind) String() string {
	if k < 0 || int(k) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(k))
	}
	return stageNames[k]
}

// MarshalText encodes the kind by name.
func (k StageKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Cycle is the FANUC canned cycle of a hole stage.
type Cycle string

// Canned cycles. Mill stages use none.
const (
	CycleNone  Cycle = ""
	CycleDrill Cycle = "G81" // spot / plain drilling
	CycleDwell Cycle = "G82" // drilling with dwell at the bottom
	CyclePeck  Cycle = "G83" // peck drilling
	CycleTap   Cycle = "G84" // right-hand tapping
)

// MillPlan holds the roughing parameters of a mill stage.
type MillPlan struct {
	// Allowance is the finishing stock left on the floor and walls, in mm.
	Allowance float64 `json:"allowance"`

	// Passes is the number of roughing passes in Z.
	Passes int `json:"passes"`

	// StepDown is the Z increment per pass.
	StepDown float64 `json:"step_down"`

	// Stepover is the radial engagement.
	Stepover float64 `json:"stepover"`

	// Length, Width and CornerRadius describe the cavity. A circular cavity
	// has Length == Width == its diameter and CornerRadius == half of it.
	Length       float64 `json:"length"`
	Width        float64 `json:"width"`
	CornerRadius float64 `json:"corner_radius"`

	// Angle rotates the cavity, in degrees.
	Angle float64 `json:"angle,omitempty"`
}

// Stage is one machining step on one feature.
type Stage struct {
	Kind StageKind `json:"kind"`

	// Tool is the tool number; it also selects the H and D offsets.
	Tool         int     `json:"tool"`
	ToolDiameter float64 `json:"tool_diameter"`

	// Depth is the final Z depth below the top surface, in mm (positive).
	Depth float64 `json:"depth"`

	// Feed is in mm/min, Spindle in rpm.
	Feed    float64 `json:"feed"`
	Spindle float64 `json:"spindle"`

	// Pitch is the thread pitch of a Tap stage.
	Pitch float64 `json:"pitch,omitempty"`

	// Thread is the thread designation of a Tap stage.
	Thread string `json:"thread,omitempty"`

	Cycle Cycle `json:"cycle,omitempty"`

	// Peck is the G83 peck increment (Q).
	Peck float64 `json:"peck,omitempty"`

	// Dwell is the G82 dwell in milliseconds (P).
	Dwell int `json:"dwell,omitempty"`

	// Verify lists the parameters that were defaulted and must be checked
	// by the operator.
	Verify []string `json:"verify,omitempty"`

	Mill *MillPlan `json:"mill,omitempty"`
}

// SameSetup reports whether two stages can share one tool block: same kind,
// tool and cutting parameters.
func (s Stage) SameSetup(o Stage) bool {
	return s.Kind == o.Kind &&
		s.Tool == o.Tool &&
		s.ToolDiameter == o.ToolDiameter &&
		s.Depth == o.Depth &&
		s.Feed == o.Feed &&
		s.Spindle == o.Spindle &&
		s.Pitch == o.Pitch &&
		s.Cycle == o.Cycle &&
		s.Peck == o.Peck &&
		s.Dwell == o.Dwell &&
		s.Mill == nil && o.Mill == nil
}

// Operation is the ordered stage list planned for one feature.
type Operation struct {
	Feature *feature.Feature `json:"feature"`
	Stages  []Stage          `json:"stages"`
}

// ProcessRecipe is the planner output. It is not modified after Plan
// returns.
type ProcessRecipe struct {
	ProcessingType machining.ProcessingType `json:"processing_type"`
	Material       string                   `json:"material"`

	Operations  []Operation           `json:"operations"`
	Diagnostics machining.Diagnostics `json:"diagnostics,omitempty"`

	// Attempted is the number of features planning was tried for,
	// including the ones dropped with a diagnostic.
	Attempted int `json:"attempted"`

	// Verify lists defaulted parameters that apply to the whole recipe.
	Verify []string `json:"verify,omitempty"`
}

// StageCount returns the total number of stages.
func (r *ProcessRecipe) StageCount() int {
	n := 0
	for _, op := range r.Operations {
		n += len(op.Stages)
	}
	return n
}

// Templates lists the stage sequence planned for each processing type.
var Templates = map[machining.ProcessingType][]StageKind{
	machining.Drilling:    {CenterDrill, Drill},
	machining.Tapping:     {CenterDrill, Drill, Tap},
	machining.Counterbore: {CenterDrill, Drill, CounterboreStage},
	machining.Milling:     {Mill},
	machining.Pocket:      {Mill},
}

// seqState is a state of the sequencing machine: the last stage kind seen,
// or seqStart.
type seqState int

const seqStart seqState = -1

// next lists the stage kinds allowed after each state. A sequence may end
// after Drill, Tap, Counterbore or Mill.
var next = map[seqState][]StageKind{
	seqStart:                   {CenterDrill, Mill},
	seqState(CenterDrill):      {Drill},
	seqState(Drill):            {Tap, CounterboreStage},
	seqState(Tap):              nil,
	seqState(CounterboreStage): nil,
	seqState(Mill):             nil,
}

var terminal = map[seqState]bool{
	seqState(Drill):            true,
	seqState(Tap):              true,
	seqState(CounterboreStage): true,
	seqState(Mill):             true,
}

// ValidateSequence runs stages through the sequencing state machine.
//
// Drill must follow CenterDrill, Tap and Counterbore must follow Drill, Mill
// stands alone, and every sequence must end in a terminal stage. Violations
// return an error wrapping ErrInvalidStageOrdering.
func ValidateSequence(stages []Stage) error {
	state := seqStart
	for i, s := range stages {
		allowed := false
		for _, k := range next[state] {
			if k == s.Kind {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s at position %d after %s", ErrInvalidStageOrdering, s.Kind, i, stateName(state))
		}
		state = seqState(s.Kind)
	}
	if !terminal[state] {
		return fmt.Errorf("%w: sequence ends after %s", ErrInvalidStageOrdering, stateName(state))
	}
	return nil
}

func stateName(s seqState) string {
	if s == seqStart {
		return "start"
	}
	return StageKind(s).String()
}

// CheckTemplate verifies that stages follow the template of pt exactly.
func CheckTemplate(pt machining.ProcessingType, stages []Stage) error {
	if err := ValidateSequence(stages); err != nil {
		return err
	}
	tmpl := Templates[pt]
	if len(tmpl) != len(stages) {
		return fmt.Errorf("%w: %s expects %d stages, got %d", ErrInvalidStageOrdering, pt, len(tmpl), len(stages))
	}
	for i, k := range tmpl {
		if stages[i].Kind != k {
			return fmt.Errorf("%w: %s expects %s at position %d, got %s", ErrInvalidStageOrdering, pt, k, i, stages[i].Kind)
		}
	}
	return nil
}
