// Package machining defines the validated machining request consumed by the
// process planner and the diagnostics attached to planning results.
//
// A Directive is produced by an external collaborator (a text or LLM parser)
// and arrives here already structured. Optional values are pointers: nil
// means "unknown", never zero. Nothing in this repository parses free text
// into a Directive.
package machining

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/golang/geo/r2"
)

// ErrInvalidDirective is returned when a directive fails validation.
var ErrInvalidDirective = errors.New("invalid machining directive")

// ProcessingType selects the stage template used for every planned feature.
type ProcessingType string

// Processing types.
const (
	Drilling    ProcessingType = "drilling"
	Tapping     ProcessingType = "tapping"
	Counterbore ProcessingType = "counterbore"
	Milling     ProcessingType = "milling"
	Pocket      ProcessingType = "pocket"
)

// Special requirement flags understood by the planner.
const (
	RequirePeck          = "peck"
	RequireNoCenterDrill = "no_center_drill"
	RequireCoolantOff    = "coolant_off"
)

// Position is a declared hole location in drawing coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// R2 converts the position to an r2 point.
func (p Position) R2() r2.Point { return r2.Point{X: p.X, Y: p.Y} }

// Workpiece is the stock size used to pick the roughing allowance.
type Workpiece struct {
	Length float64 `json:"length" validate:"gt=0"`
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gte=0"`
}

// MaxDimension returns the largest stock dimension.
func (w Workpiece) MaxDimension() float64 {
	m := w.Length
	if w.Width > m {
		m = w.Width
	}
	if w.Height > m {
		m = w.Height
	}
	return m
}

// Directive is the structured machining request.
//
// Depth is interpreted per processing type: hole depth for drilling, thread
// depth for tapping, recess depth for counterbores and cavity depth for
// milling and pockets. DrillDepth is the through depth of the counterbore
// pilot and overrides Depth for plain drilling.
type Directive struct {
	ProcessingType      ProcessingType `json:"processing_type" validate:"required,oneof=drilling tapping counterbore milling pocket"`
	ThreadSize          *string        `json:"thread_size,omitempty" validate:"omitempty,startswith=M"`
	OuterDiameter       *float64       `json:"outer_diameter,omitempty" validate:"omitempty,gt=0"`
	InnerDiameter       *float64       `json:"inner_diameter,omitempty" validate:"omitempty,gt=0"`
	Depth               *float64       `json:"depth,omitempty" validate:"omitempty,gt=0"`
	DrillDepth          *float64       `json:"drill_depth,omitempty" validate:"omitempty,gt=0"`
	Positions           []Position     `json:"positions,omitempty" validate:"omitempty,dive"`
	HoleCount           *int           `json:"hole_count,omitempty" validate:"omitempty,gt=0"`
	PCDDiameter         *float64       `json:"pcd_diameter,omitempty" validate:"omitempty,gt=0"`
	PCDAngles           []float64      `json:"pcd_angles,omitempty"`
	BaselineDiameter    *float64       `json:"baseline_diameter,omitempty" validate:"omitempty,gt=0"`
	Material            *string        `json:"material,omitempty" validate:"omitempty,min=1"`
	ToolDiameter        *float64       `json:"tool_diameter,omitempty" validate:"omitempty,gt=0"`
	Workpiece           *Workpiece     `json:"workpiece,omitempty"`
	SpecialRequirements []string       `json:"special_requirements,omitempty" validate:"omitempty,dive,required"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks the struct tags and the PCD cross-field rules.
//
// Returns an error wrapping ErrInvalidDirective that lists every failing
// field.
func (d *Directive) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: directive is nil", ErrInvalidDirective)
	}
	if err := Validator().Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidDirective, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidDirective, err)
	}
	if len(d.PCDAngles) > 0 && d.PCDDiameter == nil {
		return fmt.Errorf("%w: pcd_angles given without pcd_diameter", ErrInvalidDirective)
	}
	return nil
}

// HasRequirement reports whether the special requirement flag is present.
func (d *Directive) HasRequirement(flag string) bool {
	for _, r := range d.SpecialRequirements {
		if strings.EqualFold(strings.TrimSpace(r), flag) {
			return true
		}
	}
	return false
}

// PCDRadius returns half the declared pitch-circle diameter.
func (d *Directive) PCDRadius() (float64, bool) {
	if d.PCDDiameter == nil {
		return 0, false
	}
	return *d.PCDDiameter / 2, true
}

// ExpectedHoles returns the declared hole count, or the number of declared
// angles when only those are given.
func (d *Directive) ExpectedHoles() (int, bool) {
	if d.HoleCount != nil {
		return *d.HoleCount, true
	}
	if len(d.PCDAngles) > 0 {
		return len(d.PCDAngles), true
	}
	return 0, false
}

// Float returns a pointer to v, for building directives in code.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
