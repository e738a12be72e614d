package ncgen

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/ironsheep/nc-tools-mcp/internal/config"
	"github.com/ironsheep/nc-tools-mcp/internal/logging"
	"github.com/ironsheep/nc-tools-mcp/internal/planner"
)

// Options select the program number, title and coordinate mode. Zero values
// fall back to the configuration.
type Options struct {
	Mode   Mode
	Number int
	Title  string

	// RunID is recorded on the program; a new ULID is generated when empty.
	RunID string
}

// Emitter writes NC programs.
type Emitter struct {
	cfg config.Config
	log logrus.FieldLogger
}

// New returns an Emitter for cfg. A nil logger discards output.
func New(cfg config.Config, log logrus.FieldLogger) *Emitter {
	return &Emitter{cfg: cfg, log: logging.OrDiscard(log).WithField("component", "ncgen")}
}

// target is one feature visited by a block, in the machine frame.
type target struct {
	featureID string
	at        r2.Point
	stage     planner.Stage
}

// block is one tool setup.
type block struct {
	stage   planner.Stage
	targets []target
}

// emission is the state of one Emit call.
type emission struct {
	cfg   config.Config
	mode  Mode
	lines []string
	prog  *Program
	log   logrus.FieldLogger
}

func (em *emission) add(format string, args ...any) {
	em.lines = append(em.lines, fmt.Sprintf(format, args...))
}

// Emit writes the program for recipe rc.
//
// Parameters:
//   - rc: The process recipe. It is not modified.
//   - opts: Program number, title and mode overrides.
//
// Returns:
//   - *Program: The checked program.
//   - error: ErrNoStages when features were attempted but none produced a
//     stage; ErrUnknownMode for a bad mode; ErrInvariant if the program
//     text breaks a structural rule.
//
// A recipe without attempted features yields a minimal program: header,
// units, absolute mode and program end, with no cutting.
func (e *Emitter) Emit(rc *planner.ProcessRecipe, opts Options) (*Program, error) {
	if rc == nil {
		return nil, fmt.Errorf("%w: nil recipe", ErrNoStages)
	}
	mode := opts.Mode
	if mode == "" {
		mode = Mode(e.cfg.Mode)
	}
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	number := opts.Number
	if number == 0 {
		number = e.cfg.ProgramNumber
	}
	if number < 1 || number > 9999 {
		return nil, fmt.Errorf("program number %d outside 1..9999", number)
	}
	title := sanitizeComment(opts.Title)
	if title == "" {
		title = sanitizeComment(e.cfg.ProgramTitle)
	}
	runID := opts.RunID
	if runID == "" {
		runID = ulid.Make().String()
	}

	stages := rc.StageCount()
	if stages == 0 && rc.Attempted > 0 {
		return nil, fmt.Errorf("%w: %d features attempted, %d diagnostics", ErrNoStages, rc.Attempted, len(rc.Diagnostics))
	}

	em := &emission{
		cfg:  e.cfg,
		mode: mode,
		prog: &Program{
			Number:     number,
			Title:      title,
			Units:      "mm",
			Mode:       mode,
			StageCount: stages,
			RunID:      runID,
		},
		log: e.log.WithField("run", runID),
	}

	em.add("%%")
	em.add("O%04d (%s)", number, title)
	if rc.Material != "" {
		em.add("(MATERIAL %s)", sanitizeComment(rc.Material))
	}
	em.verify(rc.Verify)
	em.add("G21")
	em.add("G90")
	em.add("G17 G49 G80")

	blocks := buildBlocks(rc)
	for _, b := range blocks {
		if b.stage.Kind == planner.Mill {
			em.millBlock(b)
		} else {
			em.holeBlock(b)
		}
		em.prog.ToolChanges++
	}

	// The last block already stopped the spindle and retracted.
	if len(blocks) == 0 {
		em.add("(NO MACHINING STAGES)")
		em.add("G00 Z%s", num(e.cfg.Heights.ToolChange))
		em.add("M05")
	}
	em.add("M30")
	em.add("%%")

	if err := CheckInvariants(em.lines); err != nil {
		return nil, err
	}
	em.prog.Lines = em.lines
	sort.Strings(em.prog.Verify)

	em.log.WithFields(logrus.Fields{
		"number":       number,
		"mode":         mode,
		"stages":       stages,
		"tool_changes": em.prog.ToolChanges,
		"lines":        len(em.lines),
	}).Info("program emitted")
	return em.prog, nil
}

// rankOrder is the emission order of stage kinds.
var rankOrder = []planner.StageKind{
	planner.CenterDrill,
	planner.Drill,
	planner.CounterboreStage,
	planner.Tap,
	planner.Mill,
}

// sameBlock reports whether b can share a tool block with a. Mill stages
// share a block when tool, spindle and feed agree; the cavity geometry
// travels with each target.
func sameBlock(a, b planner.Stage) bool {
	if a.Kind == planner.Mill && b.Kind == planner.Mill {
		return a.Tool == b.Tool && a.ToolDiameter == b.ToolDiameter && a.Spindle == b.Spindle && a.Feed == b.Feed
	}
	return a.SameSetup(b)
}

// buildBlocks groups the recipe stages into tool blocks by rank and setup
// and orders each block's targets by nearest neighbour.
func buildBlocks(rc *planner.ProcessRecipe) []*block {
	var blocks []*block
	for _, kind := range rankOrder {
		var ranked []*block
		for _, op := range rc.Operations {
			for _, s := range op.Stages {
				if s.Kind != kind {
					continue
				}
				t := target{featureID: op.Feature.ID, at: machinePoint(op.Feature.Center), stage: s}
				placed := false
				for _, b := range ranked {
					if sameBlock(b.stage, s) {
						b.targets = append(b.targets, t)
						placed = true
						break
					}
				}
				if !placed {
					ranked = append(ranked, &block{stage: s, targets: []target{t}})
				}
			}
		}
		blocks = append(blocks, ranked...)
	}
	for _, b := range blocks {
		b.targets = nearestNeighbour(b.targets)
	}
	return blocks
}

// nearestNeighbour orders targets greedily, starting from the origin and
// always moving to the closest unvisited target. Ties keep input order.
func nearestNeighbour(ts []target) []target {
	out := make([]target, 0, len(ts))
	visited := make([]bool, len(ts))
	at := r2.Point{}
	for range ts {
		best, bestDist := -1, math.Inf(1)
		for i, t := range ts {
			if visited[i] {
				continue
			}
			if d := t.at.Sub(at).Norm(); d < bestDist {
				best, bestDist = i, d
			}
		}
		visited[best] = true
		out = append(out, ts[best])
		at = ts[best].at
	}
	return out
}

// machinePoint converts a drawing-frame point to the machine frame.
func machinePoint(p r2.Point) r2.Point {
	return r2.Point{X: p.X, Y: -p.Y}
}

// blockStart writes the tool change, offsets, spindle start and coolant on.
func (em *emission) blockStart(b *block, label string) {
	s := b.stage
	em.add("(T%02d %s D%s)", s.Tool, label, num(s.ToolDiameter))
	var verify []string
	for _, t := range b.targets {
		verify = append(verify, t.stage.Verify...)
	}
	em.verify(verify)
	em.add("T%02d M06", s.Tool)
	em.add("G54")
	em.add("G43 H%02d Z%s", s.Tool, num(em.cfg.Heights.Safe))
	em.add("S%d M03", int(math.Round(s.Spindle)))
	em.add("M08")
}

// blockEnd writes coolant off, spindle stop and the tool-change retract.
func (em *emission) blockEnd() {
	em.add("M09")
	em.add("M05")
	em.add("G00 Z%s", num(em.cfg.Heights.ToolChange))
}

// verify writes a VERIFY comment for the distinct names and records them.
func (em *emission) verify(names []string) {
	var uniq []string
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, n)
		known := false
		for _, v := range em.prog.Verify {
			if v == n {
				known = true
				break
			}
		}
		if !known {
			em.prog.Verify = append(em.prog.Verify, n)
		}
	}
	if len(uniq) == 0 {
		return
	}
	em.add("(VERIFY %s)", strings.ToUpper(strings.Join(uniq, " ")))
}

func stageLabel(k planner.StageKind) string {
	switch k {
	case planner.CenterDrill:
		return "CENTER DRILL"
	case planner.Drill:
		return "DRILL"
	case planner.CounterboreStage:
		return "COUNTERBORE"
	case planner.Tap:
		return "TAP"
	case planner.Mill:
		return "END MILL"
	}
	return strings.ToUpper(k.String())
}

// holeBlock writes one canned-cycle block.
func (em *emission) holeBlock(b *block) {
	s := b.stage
	label := stageLabel(s.Kind)
	if s.Kind == planner.Tap && s.Thread != "" {
		label += " " + s.Thread + "X" + num(s.Pitch)
	}
	em.blockStart(b, label)

	if em.mode == Polar {
		em.add("G16")
	}
	for i, t := range b.targets {
		x, y := t.at.X, t.at.Y
		if em.mode == Polar {
			x, y = em.polar(t)
		}
		if i > 0 {
			em.add("X%s Y%s", num(x), num(y))
			continue
		}
		cycle := fmt.Sprintf("G98 %s X%s Y%s Z%s R%s", s.Cycle, num(x), num(y), num(-s.Depth), num(em.cfg.Heights.Approach))
		switch s.Cycle {
		case planner.CycleDwell:
			cycle += fmt.Sprintf(" P%d", s.Dwell)
		case planner.CyclePeck:
			cycle += " Q" + num(s.Peck)
		}
		em.add("%s F%s", cycle, feed(s.Feed))
	}
	em.add("G80")
	if em.mode == Polar {
		em.add("G15")
	}
	em.blockEnd()
}

// polar converts a target to (radius, angle) and records the conversion.
func (em *emission) polar(t target) (radius, angle float64) {
	radius = math.Hypot(t.at.X, t.at.Y)
	angle = math.Atan2(t.at.Y, t.at.X) * 180 / math.Pi
	em.prog.PolarPoints = append(em.prog.PolarPoints, PolarPoint{
		FeatureID: t.featureID,
		X:         t.at.X,
		Y:         t.at.Y,
		Radius:    radius,
		Angle:     angle,
	})
	em.log.WithFields(logrus.Fields{
		"feature": t.featureID,
		"x":       t.at.X,
		"y":       t.at.Y,
		"radius":  radius,
		"angle":   angle,
	}).Debug("polar conversion")
	return radius, angle
}

// millBlock writes one end-mill block: roughing levels with concentric
// clearing loops, then a floor pass and the compensated wall contour.
func (em *emission) millBlock(b *block) {
	s := b.stage
	em.blockStart(b, stageLabel(s.Kind))
	toolR := s.ToolDiameter / 2

	for _, t := range b.targets {
		m := t.stage.Mill
		if m == nil {
			continue
		}
		depth := t.stage.Depth
		halfL, halfW := m.Length/2, m.Width/2
		angle := -m.Angle * math.Pi / 180
		plunge := feed(t.stage.Feed / 2)
		cut := feed(t.stage.Feed)

		em.add("(CAVITY %sX%s R%s Z%s)", num(m.Length), num(m.Width), num(m.CornerRadius), num(-depth))
		em.add("G00 X%s Y%s", num(t.at.X), num(t.at.Y))
		em.add("G00 Z%s", num(em.cfg.Heights.Approach))

		rough := depth - m.Allowance
		if rough <= 0 {
			rough = depth
		}
		for i := 1; i <= m.Passes; i++ {
			z := math.Min(float64(i)*m.StepDown, rough)
			em.add("G01 Z%s F%s", num(-z), plunge)
			em.loops(t.at, halfL, halfW, m.CornerRadius, angle, toolR+m.Allowance, m.Stepover, cut)
			em.add("G01 X%s Y%s", num(t.at.X), num(t.at.Y))
		}

		em.add("G01 Z%s F%s", num(-depth), plunge)
		em.loops(t.at, halfL, halfW, m.CornerRadius, angle, toolR, m.Stepover, cut)
		start, segs := roundedRect(t.at, halfL, halfW, m.CornerRadius, angle)
		em.add("G41 D%02d G01 X%s Y%s F%s", s.Tool, num(start.X), num(start.Y), cut)
		em.path(segs)
		em.add("G40 G01 X%s Y%s", num(t.at.X), num(t.at.Y))
		em.add("G00 Z%s", num(em.cfg.Heights.Safe))
	}
	em.blockEnd()
}

// loops writes the tool-center clearing loops of one Z level, innermost
// first, ending at inset base from the wall.
func (em *emission) loops(c r2.Point, halfL, halfW, r, angle, base, stepover float64, cut string) {
	for i, inset := range clearingInsets(math.Min(halfL, halfW), base, stepover) {
		start, segs := roundedRect(c, halfL-inset, halfW-inset, math.Max(r-inset, 0), angle)
		if i == 0 {
			em.add("G01 X%s Y%s F%s", num(start.X), num(start.Y), cut)
		} else {
			em.add("G01 X%s Y%s", num(start.X), num(start.Y))
		}
		em.path(segs)
	}
}

func (em *emission) path(segs []segment) {
	for _, sg := range segs {
		if sg.Radius > 0 {
			em.add("G03 X%s Y%s R%s", num(sg.To.X), num(sg.To.Y), num(sg.Radius))
		} else {
			em.add("G01 X%s Y%s", num(sg.To.X), num(sg.To.Y))
		}
	}
}

// num formats a coordinate with three decimals and no negative zero.
func num(v float64) string {
	v = math.Round(v*1000) / 1000
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// feed formats a feed rate with one decimal.
func feed(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', 1, 64)
}

// sanitizeComment upper-cases s and removes characters that would end a
// comment early.
func sanitizeComment(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("(", " ", ")", " ", "%", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
