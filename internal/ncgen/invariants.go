package ncgen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	headerRe = regexp.MustCompile(`^O\d{4} \(.*\)$`)
	wordRe   = regexp.MustCompile(`([A-Z])([-+]?\d*\.?\d+)`)
)

type word struct {
	letter byte
	value  float64
}

// parseWords returns the address words of a block, ignoring comments.
func parseWords(line string) []word {
	var b strings.Builder
	depth := 0
	for _, r := range line {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	var out []word
	for _, m := range wordRe.FindAllStringSubmatch(b.String(), -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		out = append(out, word{letter: m[1][0], value: v})
	}
	return out
}

func has(ws []word, letter byte, value float64) bool {
	for _, w := range ws {
		if w.letter == letter && w.value == value {
			return true
		}
	}
	return false
}

func hasLetter(ws []word, letters string) bool {
	for _, w := range ws {
		if strings.IndexByte(letters, w.letter) >= 0 {
			return true
		}
	}
	return false
}

func hasWorkOffset(ws []word) bool {
	for _, w := range ws {
		if w.letter == 'G' && w.value >= 54 && w.value <= 59 {
			return true
		}
	}
	return false
}

func hasCycle(ws []word) bool {
	for _, w := range ws {
		if w.letter == 'G' && w.value >= 81 && w.value <= 89 {
			return true
		}
	}
	return false
}

// motion states tracked by CheckInvariants.
const (
	motionRapid = iota
	motionFeed
	motionCycle
)

// CheckInvariants verifies the structural rules every emitted program must
// satisfy.
//
// # Rules
//
//   - The program starts with "%" and an "O#### (...)" header and ends with
//     "M30" followed by "%".
//   - G21 and G90 appear before the first motion.
//   - Every G43 is immediately preceded by a work offset block (G54 to G59).
//   - Every G41/G42 follows a work offset within the same tool block and is
//     cancelled by a G40 before the next tool change; the counts match.
//   - Every G16 is closed by exactly one later G15, without nesting.
//   - Cutting motion (G01 to G03 and canned cycles) only happens between
//     M08 and M09, and coolant is off at every tool change and at the end.
//
// Returns an error wrapping ErrInvariant naming the first failing line.
func CheckInvariants(lines []string) error {
	fail := func(i int, format string, args ...any) error {
		return fmt.Errorf("%w: line %d: %s", ErrInvariant, i+1, fmt.Sprintf(format, args...))
	}
	n := len(lines)
	if n < 4 {
		return fmt.Errorf("%w: program has %d lines", ErrInvariant, n)
	}
	if lines[0] != "%" {
		return fail(0, "program must start with %%")
	}
	if !headerRe.MatchString(lines[1]) {
		return fail(1, "header %q does not match O#### (...)", lines[1])
	}
	if lines[n-1] != "%" {
		return fail(n-1, "program must end with %%")
	}
	if strings.TrimSpace(lines[n-2]) != "M30" {
		return fail(n-2, "program must end with M30")
	}

	var (
		units, absolute   bool
		offsetInBlock     bool
		compOpen          bool
		polarOpen         bool
		coolant           bool
		prevOffset        bool
		compOn, compOff   int
		polarOn, polarOff int
	)
	motion := motionRapid
	for i, line := range lines {
		ws := parseWords(line)
		if len(ws) == 0 {
			prevOffset = false
			continue
		}

		if has(ws, 'G', 21) {
			units = true
		}
		if has(ws, 'G', 90) {
			absolute = true
		}

		if has(ws, 'M', 6) {
			if coolant {
				return fail(i, "tool change with coolant on")
			}
			if compOpen {
				return fail(i, "tool change with cutter compensation active")
			}
			offsetInBlock = false
		}

		offset := hasWorkOffset(ws)
		if offset {
			offsetInBlock = true
		}
		if has(ws, 'G', 43) && !prevOffset && !offset {
			return fail(i, "G43 not preceded by a work offset")
		}

		if has(ws, 'G', 41) || has(ws, 'G', 42) {
			if compOpen {
				return fail(i, "cutter compensation enabled twice")
			}
			if !offsetInBlock {
				return fail(i, "cutter compensation without a work offset in the block")
			}
			compOpen = true
			compOn++
		}
		if has(ws, 'G', 40) {
			compOpen = false
			compOff++
		}

		if has(ws, 'G', 16) {
			if polarOpen {
				return fail(i, "G16 while polar mode is active")
			}
			polarOpen = true
			polarOn++
		}
		if has(ws, 'G', 15) {
			if !polarOpen {
				return fail(i, "G15 without G16")
			}
			polarOpen = false
			polarOff++
		}

		if has(ws, 'M', 8) {
			coolant = true
		}

		switch {
		case has(ws, 'G', 80) || has(ws, 'G', 0):
			motion = motionRapid
		case hasCycle(ws):
			motion = motionCycle
		case has(ws, 'G', 1) || has(ws, 'G', 2) || has(ws, 'G', 3):
			motion = motionFeed
		}
		moves := hasLetter(ws, "XYZ") && !has(ws, 'G', 43) && !has(ws, 'G', 28)
		if moves && (!units || !absolute) {
			return fail(i, "motion before G21/G90")
		}
		if moves && motion != motionRapid && !coolant {
			return fail(i, "cutting motion with coolant off")
		}

		if has(ws, 'M', 9) {
			coolant = false
		}
		prevOffset = offset
	}

	if compOpen || compOn != compOff {
		return fmt.Errorf("%w: %d G41/G42 against %d G40", ErrInvariant, compOn, compOff)
	}
	if polarOpen || polarOn != polarOff {
		return fmt.Errorf("%w: %d G16 against %d G15", ErrInvariant, polarOn, polarOff)
	}
	if coolant {
		return fmt.Errorf("%w: coolant still on at program end", ErrInvariant)
	}
	return nil
}
