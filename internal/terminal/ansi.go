package terminal

import (
	"regexp"
	"strings"
)

// ansiRE matches three alternatives, in this exact order:
//  1. OSC title sequences: ESC ] ... BEL
//  2. two-character ESC sequences: ESC [@-Z\-_]
//  3. CSI sequences: ESC [ params intermediates final
//
// The order is load-bearing. ']' is 0x5D, which falls inside the
// [@-Z\-_] range matched by alternative 2, so if that alternative were
// tried first it would consume the ESC ']' prefix of an OSC sequence
// and leave the rest of the title text and its BEL terminator in the
// output. Putting the OSC branch first means regexp's leftmost-first
// alternation picks it whenever both could match at the same position.
var ansiRE = regexp.MustCompile(`\x1b(?:\][^\x07]*\x07|[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// StripANSI removes ANSI escape sequences from s. It is the safety net
// run after capture, never a substitute for capturing without escape
// codes in the first place.
func StripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

// LastNonBlankLine returns the last non-empty line of s after
// whitespace trimming, or "" if every line is blank.
func LastNonBlankLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], " \t\r")
		if line != "" {
			return line
		}
	}
	return ""
}
