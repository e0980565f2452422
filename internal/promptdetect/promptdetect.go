// Package promptdetect implements the regex-mode prompt line matcher
// used as a fallback when no OSC-133 markers are observed, per spec
// §4.6. Grounded on
// other_examples/986daf0e_kir-gadjello-llm/session.go's
// cleanTerminalOutput ANSI-stripping regex.
package promptdetect

import "regexp"

// ansiRegex strips CSI (`\x1b[...<final>`) and OSC
// (`\x1b]...(\x07|\x1b\\)`) escape sequences.
var ansiRegex = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\))`)

// DefaultPromptPattern matches a trailing shell prompt glyph after
// optional whitespace, per spec §4.6's default.
const DefaultPromptPattern = `[\$#%❯]\s*$`

// StripANSI removes escape sequences from s.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// Detector matches configured prompt regexes against ANSI-stripped
// lines.
type Detector struct {
	patterns []*regexp.Regexp
}

// NewDetector compiles patterns (falling back to DefaultPromptPattern
// if none given).
func NewDetector(patterns ...string) (*Detector, error) {
	if len(patterns) == 0 {
		patterns = []string{DefaultPromptPattern}
	}
	d := &Detector{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		d.patterns = append(d.patterns, re)
	}
	return d, nil
}

// IsPrompt reports whether line (raw, possibly containing ANSI) ends in
// a recognized prompt after stripping escape sequences.
func (d *Detector) IsPrompt(line string) bool {
	stripped := StripANSI(line)
	for _, re := range d.patterns {
		if re.MatchString(stripped) {
			return true
		}
	}
	return false
}
