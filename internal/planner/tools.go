package planner

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/nc-tools-mcp/internal/config"
)

// toolbox resolves tools from the configured table and hands out numbers
// for sizes the table lacks. One toolbox serves one Plan call so the same
// size always maps to the same number within a recipe.
type toolbox struct {
	cfg   config.Config
	adhoc map[string]config.Tool
	used  map[int]bool
	log   logrus.FieldLogger
}

func newToolbox(cfg config.Config, log logrus.FieldLogger) *toolbox {
	return &toolbox{
		cfg:   cfg,
		adhoc: make(map[string]config.Tool),
		used:  make(map[int]bool),
		log:   log,
	}
}

// lookup returns the tool of kind matching diameter (or thread, for taps).
// inTable is false when a new number was assigned.
func (tb *toolbox) lookup(kind string, diameter float64, thread string) (tool config.Tool, inTable bool) {
	if t, ok := tb.cfg.FindTool(kind, diameter, thread); ok {
		return t, true
	}
	key := fmt.Sprintf("%s|%.3f|%s", kind, diameter, config.NormalizeThread(thread))
	if t, ok := tb.adhoc[key]; ok {
		return t, false
	}
	t := config.Tool{
		Number:   tb.cfg.NextToolNumber(tb.used),
		Kind:     kind,
		Diameter: diameter,
		Thread:   thread,
	}
	tb.used[t.Number] = true
	tb.adhoc[key] = t
	tb.log.WithFields(logrus.Fields{
		"kind":     kind,
		"diameter": diameter,
		"tool":     t.Number,
	}).Warn("tool not in table, assigned a free number")
	return t, false
}

// centerDrill returns the first center drill of the table.
func (tb *toolbox) centerDrill() config.Tool {
	for _, t := range tb.cfg.Tools {
		if t.Kind == config.ToolCenterDrill {
			return t
		}
	}
	// Config.Validate requires a center drill; this only serves
	// unvalidated configurations.
	t, _ := tb.lookup(config.ToolCenterDrill, 3, "")
	return t
}

// counterboreAbove returns the smallest counterbore tool of at least
// diameter.
func (tb *toolbox) counterboreAbove(diameter float64) (config.Tool, bool) {
	var best config.Tool
	found := false
	for _, t := range tb.cfg.Tools {
		if t.Kind != config.ToolCounterbore || t.Diameter < diameter {
			continue
		}
		if !found || t.Diameter < best.Diameter {
			best, found = t, true
		}
	}
	return best, found
}
