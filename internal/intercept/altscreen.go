package intercept

// AltScreenDetector watches PTY output bytes for the DEC private-mode
// sequences that switch into/out of the alternate screen buffer
// (spec §4.5), so full-screen programs (vim, less, htop) automatically
// suppress chat-mode interception for the duration.
//
// Grounded on the teacher's internal/egg/vterm.go mode-sequence
// callbacks, reimplemented here as a standalone matcher rather than a
// full VT emulator, per spec's Non-goals.
type AltScreenDetector struct {
	setMatch   []int
	resetMatch []int
	active     bool
}

func NewAltScreenDetector() *AltScreenDetector {
	return &AltScreenDetector{
		setMatch:   make([]int, len(altScreenSetSeqs)),
		resetMatch: make([]int, len(altScreenResetSeqs)),
	}
}

// Active reports whether the alternate screen is currently believed to
// be active.
func (d *AltScreenDetector) Active() bool { return d.active }

// Feed scans output bytes for mode-set/reset sequences, updating Active
// as they are found, and returns true if the active state changed.
func (d *AltScreenDetector) Feed(data []byte) bool {
	changed := false
	for _, b := range data {
		for i, seq := range altScreenSetSeqs {
			if matchSeqStateless(seq, b, &d.setMatch[i]) {
				if !d.active {
					d.active = true
					changed = true
				}
			}
		}
		for i, seq := range altScreenResetSeqs {
			if matchSeqStateless(seq, b, &d.resetMatch[i]) {
				if d.active {
					d.active = false
					changed = true
				}
			}
		}
	}
	return changed
}

func matchSeqStateless(seq []byte, b byte, progress *int) bool {
	if b == seq[*progress] {
		*progress++
		if *progress == len(seq) {
			*progress = 0
			return true
		}
		return false
	}
	if b == seq[0] {
		*progress = 1
		if len(seq) == 1 {
			*progress = 0
			return true
		}
		return false
	}
	*progress = 0
	return false
}
