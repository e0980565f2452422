// Package intercept implements the byte-level input interceptor of
// spec §4.5: it partitions user keystrokes into shell-forwarded bytes
// and chat-mode capture, with a time-gap guard, an ESC/CSI filter that
// tolerates bracketed paste, and alt-screen-triggered suppression.
//
// Grounded on
// other_examples/986daf0e_kir-gadjello-llm/session.go's stdin
// interception loop (prefix detection, backspace/Ctrl-C/Ctrl-D
// handling) and the teacher's internal/egg/vterm.go alt-screen mode
// callbacks (reimplemented here as a standalone byte matcher, not a VT
// emulator, per spec's Non-goals).
package intercept

import (
	"time"
	"unicode/utf8"
)

// ActionKind tags the result of processing one input byte.
type ActionKind int

const (
	ActionForward ActionKind = iota
	ActionBuffering
	ActionBackspace
	ActionChat
	ActionCancel
	ActionTab
	ActionPending
)

// Action is the outcome of feeding one byte to the Interceptor.
type Action struct {
	Kind   ActionKind
	Byte   byte   // the byte that produced this action (Forward/Buffering/Backspace)
	Buffer string // current chat buffer, for Buffering/Backspace/Tab
	Chat   string // finalized chat text, for Chat
}

// Guard decides whether chat-mode entry is currently permitted.
type Guard interface {
	Permit(now time.Time) bool
	Notify(now time.Time) // called on every keystroke to update guard state
}

// TimeGapGuard permits interception only when the gap since the last
// keystroke exceeds GapMs, approximating "user is at a fresh prompt",
// per spec §4.5.
type TimeGapGuard struct {
	GapMs    int64
	lastKey  time.Time
	hasLast  bool
}

func NewTimeGapGuard(gapMs int64) *TimeGapGuard {
	return &TimeGapGuard{GapMs: gapMs}
}

func (g *TimeGapGuard) Permit(now time.Time) bool {
	if !g.hasLast {
		return true
	}
	return now.Sub(g.lastKey).Milliseconds() > g.GapMs
}

func (g *TimeGapGuard) Notify(now time.Time) {
	g.lastKey = now
	g.hasLast = true
}

const (
	escByte       = 0x1b
	bsByte        = 0x08
	delByte       = 0x7f
	crByte        = 0x0d
	lfByte        = 0x0a
	tabByte       = 0x09
)

var bracketedPasteStart = []byte("\x1b[200~")
var bracketedPasteEnd = []byte("\x1b[201~")

// altScreenSetSeqs/altScreenResetSeqs are the DEC private mode
// sequences that toggle the alternate screen buffer, per spec §4.5.
var altScreenSetSeqs = [][]byte{
	[]byte("\x1b[?1049h"), []byte("\x1b[?47h"), []byte("\x1b[?1047h"),
}
var altScreenResetSeqs = [][]byte{
	[]byte("\x1b[?1049l"), []byte("\x1b[?47l"), []byte("\x1b[?1047l"),
}

// Interceptor is the per-session byte state machine. It is fed user
// keystrokes one byte at a time via Feed. It never sees PTY output:
// alt-screen transitions reach it through SetSuppressed, driven by an
// AltScreenDetector that watches the output.
type Interceptor struct {
	Prefix byte // default ':'
	Guard  Guard

	inChat     bool
	suppressed bool
	buf        []byte

	inPaste    bool
	pasteMatch int // how many bytes of bracketedPasteStart/End matched so far

	pendingEsc bool // chat mode: saw ESC, awaiting '[' to know if it's a CSI sequence
	inCSI      bool // chat mode: swallowing a CSI sequence until its final byte
}

// NewInterceptor constructs an Interceptor with the given chat prefix
// (0 selects the spec default ':') and guard (nil selects a
// TimeGapGuard with the spec default 1000ms).
func NewInterceptor(prefix byte, guard Guard) *Interceptor {
	if prefix == 0 {
		prefix = ':'
	}
	if guard == nil {
		guard = NewTimeGapGuard(1000)
	}
	return &Interceptor{Prefix: prefix, Guard: guard}
}

// SetSuppressed forcibly sets suppression state, e.g. driven externally
// by an AltScreenDetector wired to PTY output.
func (ic *Interceptor) SetSuppressed(v bool) { ic.suppressed = v }

// Suppressed reports whether interception is currently suppressed.
func (ic *Interceptor) Suppressed() bool { return ic.suppressed }

// InChat reports whether the interceptor is currently capturing a chat
// message.
func (ic *Interceptor) InChat() bool { return ic.inChat }

// Feed processes one input byte and returns the resulting Action.
func (ic *Interceptor) Feed(b byte, now time.Time) Action {
	defer ic.Guard.Notify(now)

	if ic.inPaste {
		return ic.feedWithinPaste(b)
	}

	if ic.inChat {
		return ic.feedChat(b, now)
	}

	if ic.suppressed {
		return Action{Kind: ActionForward, Byte: b}
	}

	if b == ic.Prefix && ic.Guard.Permit(now) {
		ic.inChat = true
		ic.buf = ic.buf[:0]
		ic.buf = append(ic.buf, b)
		return Action{Kind: ActionBuffering, Byte: b, Buffer: string(ic.buf)}
	}

	if ic.maybeBracketedPasteStart(b) {
		ic.inPaste = true
		return Action{Kind: ActionForward, Byte: b}
	}

	return Action{Kind: ActionForward, Byte: b}
}

func (ic *Interceptor) feedWithinPaste(b byte) Action {
	if ic.matchSeq(bracketedPasteEnd, b, &ic.pasteMatch) {
		ic.inPaste = false
		ic.pasteMatch = 0
	}
	if ic.inChat {
		ic.buf = append(ic.buf, b)
		return Action{Kind: ActionBuffering, Byte: b, Buffer: string(ic.buf)}
	}
	return Action{Kind: ActionForward, Byte: b}
}

func (ic *Interceptor) maybeBracketedPasteStart(b byte) bool {
	return ic.matchSeq(bracketedPasteStart, b, &ic.pasteMatch)
}

// matchSeq advances a simple sequential matcher for seq; returns true
// once seq is fully matched, resetting progress on mismatch.
func (ic *Interceptor) matchSeq(seq []byte, b byte, progress *int) bool {
	if b == seq[*progress] {
		*progress++
		if *progress == len(seq) {
			*progress = 0
			return true
		}
		return false
	}
	// Allow restarting the match if b happens to equal seq[0].
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

func (ic *Interceptor) feedChat(b byte, now time.Time) Action {
	if ic.inCSI {
		// Swallow the CSI sequence (e.g. arrow keys) without touching the
		// chat buffer; a CSI final byte is in 0x40-0x7E.
		if b >= 0x40 && b <= 0x7e {
			ic.inCSI = false
		}
		return Action{Kind: ActionPending, Byte: b, Buffer: string(ic.buf)}
	}
	if ic.pendingEsc {
		ic.pendingEsc = false
		if b == '[' {
			ic.inCSI = true
			return Action{Kind: ActionPending, Byte: b, Buffer: string(ic.buf)}
		}
		// Bare ESC (no CSI follow-up): cancel the in-progress chat capture.
		ic.inChat = false
		ic.buf = nil
		return Action{Kind: ActionCancel, Byte: b}
	}

	switch {
	case b == crByte || b == lfByte:
		chat := string(ic.buf[1:]) // drop the leading prefix byte
		ic.inChat = false
		ic.buf = nil
		return Action{Kind: ActionChat, Byte: b, Chat: chat}

	case b == escByte:
		ic.pendingEsc = true
		return Action{Kind: ActionPending, Byte: b, Buffer: string(ic.buf)}

	case b == bsByte || b == delByte:
		if len(ic.buf) > 1 {
			ic.buf = ic.buf[:lastRuneStart(ic.buf)]
		}
		return Action{Kind: ActionBackspace, Byte: b, Buffer: string(ic.buf)}

	case b == tabByte:
		return Action{Kind: ActionTab, Byte: b, Buffer: string(ic.buf)}

	default:
		if ic.maybeBracketedPasteStart(b) {
			ic.inPaste = true
			ic.buf = append(ic.buf, b)
			return Action{Kind: ActionBuffering, Byte: b, Buffer: string(ic.buf)}
		}
		ic.buf = append(ic.buf, b)
		return Action{Kind: ActionBuffering, Byte: b, Buffer: string(ic.buf)}
	}
}

// lastRuneStart returns the start index of the last rune in buf, for
// grapheme-aware (well, rune-aware) backspace.
func lastRuneStart(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	i := len(buf) - 1
	for i > 0 && !utf8.RuneStart(buf[i]) {
		i--
	}
	return i
}
