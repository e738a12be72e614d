// Package planner turns a normalized feature set and a machining directive
// into a process recipe: for every feature, the ordered machining stages
// with tools, depths, feeds and spindle speeds.
//
// Stage templates are fixed per processing type (see Templates) and checked
// by a small state machine. Parameters the directive leaves out are replaced
// by the documented defaults of config.ParameterDefaults; every such
// substitution is reported as a MissingParameter diagnostic and listed on the
// stage so the emitter can mark it for verification.
//
// Per-feature problems never abort planning. A feature with inconsistent
// geometry or without a template is dropped with a diagnostic and the rest
// of the set is planned. Only contract violations (stage ordering, the tap
// depth invariant) are returned as errors.
package planner

import (
	"math"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/sirupsen/logrus"

	"github.com/ironsheep/nc-tools-mcp/internal/config"
	"github.com/ironsheep/nc-tools-mcp/internal/feature"
	"github.com/ironsheep/nc-tools-mcp/internal/logging"
	"github.com/ironsheep/nc-tools-mcp/internal/machining"
)

// Verify parameter names.
const (
	ParamDepth         = "depth"
	ParamDrillDepth    = "drill_depth"
	ParamDiameter      = "diameter"
	ParamOuterDiameter = "outer_diameter"
	ParamThreadSize    = "thread_size"
	ParamToolDiameter  = "tool_diameter"
	ParamMaterial      = "material"
	ParamTool          = "tool"
)

// Planner builds process recipes.
type Planner struct {
	cfg config.Config
	log logrus.FieldLogger
}

// New returns a Planner for cfg. A nil logger discards output.
func New(cfg config.Config, log logrus.FieldLogger) *Planner {
	return &Planner{cfg: cfg, log: logging.OrDiscard(log).WithField("component", "planner")}
}

// run is the state of one Plan call.
type run struct {
	cfg      config.Config
	d        *machining.Directive
	rc       *ProcessRecipe
	material config.Material
	tools    *toolbox
	peck     bool
	log      logrus.FieldLogger
}

// Plan builds the process recipe for set under directive d.
//
// Parameters:
//   - set: Normalized features. The set is not modified; operations hold
//     copies of the planned features.
//   - d: The machining directive. It is validated first.
//
// Returns:
//   - *ProcessRecipe: Operations in feature order, the diagnostics and the
//     number of features attempted.
//   - error: Non-nil for an invalid directive or a broken planning
//     invariant (ErrInvalidStageOrdering, ErrDepthInvariant).
//
// # Feature Selection
//
// Baseline circles of a pitch-circle pattern are never machined. When the
// directive declares a pitch circle, only holes matched to it are planned;
// with no match the recipe stays empty and the pattern diagnostic explains
// why. For hole processing types, declared positions
// select the detected hole within Tolerances.Position of each position, or
// synthesize a declared hole there.
func (p *Planner) Plan(set feature.Set, d *machining.Directive) (*ProcessRecipe, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	r := &run{
		cfg:   p.cfg,
		d:     d,
		rc:    &ProcessRecipe{ProcessingType: d.ProcessingType},
		tools: newToolbox(p.cfg, p.log),
		log:   p.log,
	}
	r.checkRequirements()
	r.resolveMaterial()

	for _, f := range r.selectTargets(set) {
		r.rc.Attempted++
		stages, ok, err := r.planFeature(f)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := CheckTemplate(d.ProcessingType, stages); err != nil {
			return nil, err
		}
		r.rc.Operations = append(r.rc.Operations, Operation{Feature: f.Clone(), Stages: stages})
	}

	p.log.WithFields(logrus.Fields{
		"type":        d.ProcessingType,
		"attempted":   r.rc.Attempted,
		"operations":  len(r.rc.Operations),
		"stages":      r.rc.StageCount(),
		"diagnostics": len(r.rc.Diagnostics),
	}).Info("process recipe planned")
	return r.rc, nil
}

func (r *run) diag(code machining.Code, featureID, param, format string, args ...any) {
	r.rc.Diagnostics.Add(code, featureID, format, args...)
	r.rc.Diagnostics[len(r.rc.Diagnostics)-1].Parameter = param
	r.log.WithFields(logrus.Fields{
		"feature": featureID,
		"code":    code,
	}).Warn(r.rc.Diagnostics[len(r.rc.Diagnostics)-1].Message)
}

func (r *run) checkRequirements() {
	for _, req := range r.d.SpecialRequirements {
		switch strings.ToLower(strings.TrimSpace(req)) {
		case machining.RequirePeck:
			r.peck = true
		case machining.RequireNoCenterDrill:
			r.diag(machining.RejectedRequirement, "", "", "%q rejected: every hole template starts with a center drill", req)
		case machining.RequireCoolantOff:
			r.diag(machining.RejectedRequirement, "", "", "%q rejected: coolant is always on around cutting blocks", req)
		default:
			r.diag(machining.RejectedRequirement, "", "", "unknown requirement %q", req)
		}
	}
}

func (r *run) resolveMaterial() {
	name := ""
	if r.d.Material != nil {
		name = *r.d.Material
	}
	m, resolved, found := r.cfg.Material(name)
	r.material = m
	r.rc.Material = resolved
	if found {
		return
	}
	if name == "" {
		r.diag(machining.MissingParameter, "", ParamMaterial, "no material declared, using %s", resolved)
	} else {
		r.diag(machining.MissingParameter, "", ParamMaterial, "unknown material %q, using %s", name, resolved)
	}
	r.rc.Verify = append(r.rc.Verify, ParamMaterial)
}

func isHoleType(pt machining.ProcessingType) bool {
	return pt == machining.Drilling || pt == machining.Tapping || pt == machining.Counterbore
}

// selectTargets returns the features to plan, in order.
func (r *run) selectTargets(set feature.Set) feature.Set {
	var pool feature.Set
	for _, f := range set {
		if f.HasFlag(feature.FlagBaseline) {
			continue
		}
		// Holes off a declared pitch circle are never machined, even when
		// nothing matched the pattern.
		if r.d.PCDDiameter != nil && !f.HasFlag(feature.FlagPCD) {
			continue
		}
		pool = append(pool, f)
	}

	if len(r.d.Positions) == 0 || !isHoleType(r.d.ProcessingType) {
		return pool
	}
	return r.declaredTargets(set, pool)
}

// declaredTargets matches every declared position to a detected hole or
// synthesizes one.
func (r *run) declaredTargets(set, pool feature.Set) feature.Set {
	// Declared positions are drawing coordinates; recover the shift the
	// normalizer applied from any normalized feature.
	var shift r2.Point
	for _, f := range set {
		if f.Original != nil {
			shift = f.Center.Sub(*f.Original)
			break
		}
	}

	claimed := make(map[string]bool)
	var out feature.Set
	for _, pos := range r.d.Positions {
		want := pos.R2()
		var best *feature.Feature
		bestDist := math.Inf(1)
		for _, f := range pool {
			if claimed[f.ID] {
				continue
			}
			if _, round := feature.HoleDiameter(f.Shape); !round {
				continue
			}
			at := f.Center
			if f.Original != nil {
				at = *f.Original
			}
			if dist := at.Sub(want).Norm(); dist <= r.cfg.Tolerances.Position && dist < bestDist {
				best, bestDist = f, dist
			}
		}
		if best != nil {
			claimed[best.ID] = true
			out = append(out, best)
			continue
		}
		f, ok := r.synthesize(want, shift)
		if !ok {
			continue
		}
		if claimed[f.ID] {
			continue
		}
		claimed[f.ID] = true
		out = append(out, f)
	}
	return out
}

// synthesize builds a declared hole at drawing position pos.
func (r *run) synthesize(pos, shift r2.Point) (*feature.Feature, bool) {
	dia := r.cfg.Defaults.HoleDiameter
	switch {
	case r.d.InnerDiameter != nil:
		dia = *r.d.InnerDiameter
	case r.d.ToolDiameter != nil:
		dia = *r.d.ToolDiameter
	case r.d.OuterDiameter != nil:
		dia = *r.d.OuterDiameter
	case r.d.ThreadSize != nil:
		dia = config.NominalDiameter(config.NormalizeThread(*r.d.ThreadSize))
	}

	var shape feature.Shape = feature.Circle{Radius: dia / 2, Circularity: 1}
	if r.d.ProcessingType == machining.Counterbore && r.d.OuterDiameter != nil && r.d.InnerDiameter != nil {
		cb, err := feature.NewCounterbore(*r.d.OuterDiameter, *r.d.InnerDiameter, r.d.Depth)
		if err != nil {
			r.diag(machining.GeometryInconsistency, "", ParamOuterDiameter,
				"declared hole at (%g, %g) dropped: %v", pos.X, pos.Y, err)
			return nil, false
		}
		shape = cb
	}

	half := shape.Dimension() / 2
	center := pos.Add(shift)
	original := pos
	f := &feature.Feature{
		ID:         feature.NewID(feature.NoSource, shape.Kind(), pos),
		Shape:      shape,
		Center:     center,
		BBox:       feature.Rect(center.X-half, center.Y-half, center.X+half, center.Y+half),
		Confidence: 1,
		Source:     feature.NoSource,
		Hole:       &feature.HoleSpec{Pattern: -1, Depth: r.d.Depth},
		Flags:      []string{feature.FlagDeclared},
	}
	if shift != (r2.Point{}) {
		f.Original = &original
	}
	return f, true
}

// planFeature returns the stages for f. ok is false when f was dropped with
// a diagnostic.
func (r *run) planFeature(f *feature.Feature) (stages []Stage, ok bool, err error) {
	switch r.d.ProcessingType {
	case machining.Drilling:
		stages, ok = r.planDrilling(f)
	case machining.Tapping:
		return r.planTapping(f)
	case machining.Counterbore:
		stages, ok = r.planCounterbore(f)
	case machining.Milling, machining.Pocket:
		stages, ok = r.planMill(f)
	}
	return stages, ok, nil
}

// holeOnly reports an unsupported variant for the hole templates.
func (r *run) holeOnly(f *feature.Feature) (float64, bool) {
	dia, round := feature.HoleDiameter(f.Shape)
	if !round {
		r.diag(machining.UnsupportedFeature, f.ID, "", "%s has no %s template", f.Kind(), r.d.ProcessingType)
		return 0, false
	}
	return dia, true
}

// checkShape drops counterbores whose stored diameters are inverted. Such a
// feature can only come from code that bypassed feature.NewCounterbore.
func (r *run) checkShape(f *feature.Feature) bool {
	cb, ok := f.Shape.(feature.Counterbore)
	if !ok {
		return true
	}
	if _, err := feature.NewCounterbore(cb.OuterDiameter, cb.InnerDiameter, cb.Depth); err != nil {
		r.diag(machining.GeometryInconsistency, f.ID, ParamOuterDiameter, "feature dropped: %v", err)
		return false
	}
	return true
}

func (r *run) holeDepth(f *feature.Feature, preferDrillDepth bool) (float64, []string) {
	switch {
	case preferDrillDepth && r.d.DrillDepth != nil:
		return *r.d.DrillDepth, nil
	case f.Hole != nil && f.Hole.Depth != nil:
		return *f.Hole.Depth, nil
	case r.d.Depth != nil:
		return *r.d.Depth, nil
	}
	v := r.cfg.Defaults.DrillDepth
	r.diag(machining.MissingParameter, f.ID, ParamDepth, "no depth declared, using default %g mm", v)
	return v, []string{ParamDepth}
}

func (r *run) planDrilling(f *feature.Feature) ([]Stage, bool) {
	if !r.checkShape(f) {
		return nil, false
	}
	measured, ok := r.holeOnly(f)
	if !ok {
		return nil, false
	}

	dia := measured
	switch {
	case f.Hole != nil && f.Hole.Diameter != nil:
		dia = *f.Hole.Diameter
	case r.d.ToolDiameter != nil:
		dia = *r.d.ToolDiameter
	case r.d.InnerDiameter != nil:
		dia = *r.d.InnerDiameter
	case r.d.OuterDiameter != nil:
		dia = *r.d.OuterDiameter
	}
	depth, verify := r.holeDepth(f, true)

	return []Stage{r.centerDrillStage(), r.drillStage(dia, depth, verify)}, true
}

func (r *run) planTapping(f *feature.Feature) ([]Stage, bool, error) {
	measured, ok := r.holeOnly(f)
	if !ok {
		return nil, false, nil
	}

	var verify []string
	thread := ""
	if r.d.ThreadSize != nil {
		thread = config.NormalizeThread(*r.d.ThreadSize)
	} else {
		thread = r.nearestThread(measured)
		r.diag(machining.MissingParameter, f.ID, ParamThreadSize,
			"no thread size declared, inferred %s from hole diameter %.2f", thread, measured)
		verify = append(verify, ParamThreadSize)
	}
	pitch, known := r.cfg.ThreadPitch(thread)
	if !known {
		r.diag(machining.UnsupportedFeature, f.ID, ParamThreadSize, "thread %s is not in the thread table", thread)
		return nil, false, nil
	}
	nominal := config.NominalDiameter(thread)

	var threadDepth float64
	switch {
	case r.d.Depth != nil:
		threadDepth = *r.d.Depth
	case f.Hole != nil && f.Hole.Depth != nil:
		threadDepth = *f.Hole.Depth
	default:
		threadDepth = nominal * r.cfg.Defaults.ThreadDepthFactor
		r.diag(machining.MissingParameter, f.ID, ParamDepth,
			"no thread depth declared, using %g x nominal = %g mm", r.cfg.Defaults.ThreadDepthFactor, threadDepth)
		verify = append(verify, ParamDepth)
	}

	drillDia := config.TapDrillDiameter(nominal, pitch)
	drillDepth := TapDrillDepth(threadDepth, drillDia)
	if drillDepth <= threadDepth {
		return nil, false, ErrDepthInvariant
	}

	tool, inTable := r.tools.lookup(config.ToolTap, nominal, thread)
	tapVerify := append([]string(nil), verify...)
	if !inTable {
		tapVerify = append(tapVerify, ParamTool)
	}
	spindle := math.Min(r.material.TapSpindle, r.cfg.MaxSpindle)
	tap := Stage{
		Kind:         Tap,
		Tool:         tool.Number,
		ToolDiameter: nominal,
		Depth:        threadDepth,
		Spindle:      spindle,
		Feed:         TapFeed(spindle, pitch),
		Pitch:        pitch,
		Thread:       thread,
		Cycle:        CycleTap,
		Verify:       tapVerify,
	}
	return []Stage{r.centerDrillStage(), r.drillStage(drillDia, drillDepth, verify), tap}, true, nil
}

// nearestThread returns the table thread whose nominal diameter is closest
// to d.
func (r *run) nearestThread(d float64) string {
	best, bestDiff := "", math.Inf(1)
	for _, size := range r.cfg.ThreadSizes() {
		if diff := math.Abs(config.NominalDiameter(size) - d); diff < bestDiff {
			best, bestDiff = size, diff
		}
	}
	return best
}

func (r *run) planCounterbore(f *feature.Feature) ([]Stage, bool) {
	if !r.checkShape(f) {
		return nil, false
	}
	measured, ok := r.holeOnly(f)
	if !ok {
		return nil, false
	}

	var outer, inner float64
	var shapeDepth *float64
	if cb, isCB := f.Shape.(feature.Counterbore); isCB {
		outer, inner, shapeDepth = cb.OuterDiameter, cb.InnerDiameter, cb.Depth
	} else {
		inner = measured
	}
	if r.d.InnerDiameter != nil {
		inner = *r.d.InnerDiameter
	}
	if r.d.OuterDiameter != nil {
		outer = *r.d.OuterDiameter
	}

	var cbVerify []string
	if outer == 0 {
		tool, found := r.tools.counterboreAbove(inner * r.cfg.Tolerances.CounterboreRatioMin)
		if !found {
			r.diag(machining.MissingParameter, f.ID, ParamOuterDiameter,
				"no outer diameter declared and no counterbore tool above %.2f", inner)
			return nil, false
		}
		outer = tool.Diameter
		r.diag(machining.MissingParameter, f.ID, ParamOuterDiameter,
			"no outer diameter declared, using counterbore tool %.2f", outer)
		cbVerify = append(cbVerify, ParamOuterDiameter)
	}
	if _, err := feature.NewCounterbore(outer, inner, nil); err != nil {
		r.diag(machining.GeometryInconsistency, f.ID, ParamOuterDiameter,
			"feature dropped: outer %.2f, inner %.2f: %v", outer, inner, err)
		return nil, false
	}

	var cbDepth float64
	switch {
	case r.d.Depth != nil:
		cbDepth = *r.d.Depth
	case shapeDepth != nil:
		cbDepth = *shapeDepth
	default:
		cbDepth = r.cfg.Defaults.CounterboreDepth
		r.diag(machining.MissingParameter, f.ID, ParamDepth, "no counterbore depth declared, using default %g mm", cbDepth)
		cbVerify = append(cbVerify, ParamDepth)
	}

	var drillVerify []string
	drillDepth := r.cfg.Defaults.DrillDepth
	if r.d.DrillDepth != nil {
		drillDepth = *r.d.DrillDepth
	} else {
		r.diag(machining.MissingParameter, f.ID, ParamDrillDepth, "no pilot depth declared, using default %g mm", drillDepth)
		drillVerify = append(drillVerify, ParamDrillDepth)
	}
	if drillDepth <= cbDepth {
		r.diag(machining.GeometryInconsistency, f.ID, ParamDrillDepth,
			"feature dropped: pilot depth %g does not exceed counterbore depth %g", drillDepth, cbDepth)
		return nil, false
	}

	tool, inTable := r.tools.lookup(config.ToolCounterbore, outer, "")
	if !inTable {
		cbVerify = append(cbVerify, ParamTool)
	}
	spindle := SpindleSpeed(r.material.CuttingSpeed, outer, r.cfg.MaxSpindle)
	cb := Stage{
		Kind:         CounterboreStage,
		Tool:         tool.Number,
		ToolDiameter: outer,
		Depth:        cbDepth,
		Spindle:      spindle,
		Feed:         round1(spindle * r.material.FeedPerRev),
		Cycle:        CycleDwell,
		Dwell:        r.cfg.Defaults.DwellMillis,
		Verify:       cbVerify,
	}
	return []Stage{r.centerDrillStage(), r.drillStage(inner, drillDepth, drillVerify), cb}, true
}

func (r *run) planMill(f *feature.Feature) ([]Stage, bool) {
	var length, width, corner, angle float64
	var shapeDepth *float64
	switch s := f.Shape.(type) {
	case feature.Pocket:
		length, width, corner, angle, shapeDepth = s.Length, s.Width, s.CornerRadius, s.Angle, s.Depth
	case feature.Rectangle:
		length, width, corner, angle = s.Length, s.Width, s.CornerRadius, s.Angle
	case feature.Circle:
		length, width, corner = s.Diameter(), s.Diameter(), s.Radius
	default:
		r.diag(machining.UnsupportedFeature, f.ID, "", "%s has no %s template", f.Kind(), r.d.ProcessingType)
		return nil, false
	}

	var verify []string
	toolDia := r.cfg.Defaults.MillDiameter
	if r.d.ToolDiameter != nil {
		toolDia = *r.d.ToolDiameter
	} else {
		r.diag(machining.MissingParameter, f.ID, ParamToolDiameter, "no tool diameter declared, using default %g mm", toolDia)
		verify = append(verify, ParamToolDiameter)
	}
	if toolDia >= math.Min(length, width) {
		r.diag(machining.GeometryInconsistency, f.ID, ParamToolDiameter,
			"feature dropped: tool %g does not fit a %g x %g cavity", toolDia, length, width)
		return nil, false
	}

	var depth float64
	switch {
	case r.d.Depth != nil:
		depth = *r.d.Depth
	case shapeDepth != nil:
		depth = *shapeDepth
	default:
		depth = r.cfg.Defaults.PocketDepth
		r.diag(machining.MissingParameter, f.ID, ParamDepth, "no pocket depth declared, using default %g mm", depth)
		verify = append(verify, ParamDepth)
	}

	size := f.LargestDimension()
	if r.d.Workpiece != nil {
		size = r.d.Workpiece.MaxDimension()
	}
	allowance := RoughingAllowance(size, r.material.Hard)
	remaining := depth - allowance
	if remaining <= 0 {
		remaining = depth
	}
	passes := RoughingPasses(remaining, toolDia)

	tool, inTable := r.tools.lookup(config.ToolEndMill, toolDia, "")
	if !inTable {
		verify = append(verify, ParamTool)
	}
	spindle := SpindleSpeed(r.material.CuttingSpeed, toolDia, r.cfg.MaxSpindle)
	return []Stage{{
		Kind:         Mill,
		Tool:         tool.Number,
		ToolDiameter: toolDia,
		Depth:        depth,
		Spindle:      spindle,
		Feed:         round1(spindle * r.material.MillFeedPerRev),
		Verify:       verify,
		Mill: &MillPlan{
			Allowance:    allowance,
			Passes:       passes,
			StepDown:     remaining / float64(passes),
			Stepover:     Stepover(toolDia, r.material.StepoverRatio),
			Length:       length,
			Width:        width,
			CornerRadius: corner,
			Angle:        angle,
		},
	}}, true
}

func (r *run) centerDrillStage() Stage {
	tool := r.tools.centerDrill()
	spindle := SpindleSpeed(r.material.CuttingSpeed, tool.Diameter, r.cfg.MaxSpindle)
	return Stage{
		Kind:         CenterDrill,
		Tool:         tool.Number,
		ToolDiameter: tool.Diameter,
		Depth:        r.cfg.Defaults.CenterDrillDepth,
		Spindle:      spindle,
		Feed:         round1(spindle * r.material.FeedPerRev),
		Cycle:        CycleDrill,
	}
}

func (r *run) drillStage(dia, depth float64, verify []string) Stage {
	tool, inTable := r.tools.lookup(config.ToolDrill, dia, "")
	verify = append([]string(nil), verify...)
	if !inTable {
		verify = append(verify, ParamTool)
	}
	spindle := SpindleSpeed(r.material.CuttingSpeed, dia, r.cfg.MaxSpindle)
	s := Stage{
		Kind:         Drill,
		Tool:         tool.Number,
		ToolDiameter: dia,
		Depth:        depth,
		Spindle:      spindle,
		Feed:         round1(spindle * r.material.FeedPerRev),
		Cycle:        CycleDrill,
		Verify:       verify,
	}
	if r.peck || NeedsPeck(depth, dia) {
		s.Cycle = CyclePeck
		s.Peck = dia
	}
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
