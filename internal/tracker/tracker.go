// Package tracker implements the dual-mode command reconstruction state
// machine of spec §4.6: OSC-133 semantic mode when available, falling
// back to prompt-regex detection otherwise, emitting CommandRecords
// with stream offsets.
//
// Grounded on
// other_examples/986daf0e_kir-gadjello-llm/session.go's
// SessionParser/ParserState transition table (A/B/C/D → command
// lifecycle) for OSC-133 mode, and
// other_examples/d12bd822_getarchivist-cli_.../recorder.go's
// "new input line starts a command, swap output buffers" idiom for the
// regex-mode fallback.
package tracker

import (
	"strconv"
	"strings"

	"github.com/ehrlich-b/omnish/internal/oscdetect"
	"github.com/ehrlich-b/omnish/internal/promptdetect"
)

// CommandRecord mirrors spec §3 / framing.CommandRecord; tracker stays
// free of the wire-codec package so it can be tested and reused
// independently of RPC.
type CommandRecord struct {
	CommandID     string
	SessionID     string
	CommandLine   *string
	Cwd           *string
	StartedAtMs   int64
	EndedAtMs     *int64
	OutputSummary string
	StreamOffset  uint64
	StreamLength  uint64
	ExitCode      *int
}

// IDFunc generates a new command id (default: a monotonic counter;
// callers typically inject google/uuid).
type IDFunc func() string

type pendingCommand struct {
	commandID   string
	commandLine *string
	cwd         *string
	startedAt   int64
	entered     bool // regex mode: user pressed Enter already
	streamStart uint64
	haveStreamStart bool
	outputBuf   []byte
}

// Tracker reconstructs CommandRecords from interleaved input/output
// byte streams. Not safe for concurrent use; callers serialize access
// per session, matching spec §5's "each session is mutably owned by
// the session manager behind a single async-aware mutex".
type Tracker struct {
	SessionID string
	NewID     IDFunc

	osc    *oscdetect.Detector
	prompt *promptdetect.Detector

	oscMode         bool // true once any OSC-133 event has been observed
	firstPromptSeen bool // regex mode: swallow the first prompt as baseline
	pending         *pendingCommand
	seq             int
}

// New constructs a Tracker for sessionID using promptPatterns for the
// regex fallback (defaulted if empty).
func New(sessionID string, newID IDFunc, promptPatterns ...string) (*Tracker, error) {
	pd, err := promptdetect.NewDetector(promptPatterns...)
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		SessionID: sessionID,
		NewID:     newID,
		osc:       oscdetect.NewDetector(),
		prompt:    pd,
	}
	if t.NewID == nil {
		t.NewID = func() string {
			t.seq++
			return strconv.Itoa(t.seq)
		}
	}
	return t, nil
}

// IsOSCMode reports whether the tracker has switched to semantic
// OSC-133 mode (disabling regex detection), per spec §4.6.
func (t *Tracker) IsOSCMode() bool { return t.oscMode }

// FeedInput processes user keystrokes written to the PTY. In regex
// mode, an Enter byte (CR or LF) marks that a command line has been
// submitted, which the next prompt detection will finalize.
func (t *Tracker) FeedInput(tsMs int64, data []byte) {
	if t.oscMode {
		return // OSC-133 mode uses B/D markers, not input-stream Enter.
	}
	for _, b := range data {
		if b == '\r' || b == '\n' {
			if t.pending == nil {
				t.pending = &pendingCommand{commandID: t.NewID(), startedAt: tsMs}
			}
			t.pending.entered = true
		}
	}
}

// FeedOutput processes PTY output bytes already written to the stream
// store at [posBefore, posAfter). It returns every CommandRecord
// finalized by markers found within data.
func (t *Tracker) FeedOutput(tsMs int64, data []byte, posBefore, posAfter uint64) []CommandRecord {
	// t.osc tracks its own running position across the lifetime of the
	// Tracker, independent of the stream store's posBefore/posAfter
	// accounting (the stream store interleaves input and output;
	// t.osc only ever sees output bytes). Event.Start/End are offsets
	// into that output-only running stream, so they must be rebased
	// against oscBefore to become offsets local to this chunk of data.
	oscBefore := t.osc.Pos()
	events := t.osc.Feed(data)
	if len(events) > 0 {
		t.oscMode = true
	}

	if t.oscMode {
		return t.applyOSCEvents(tsMs, data, oscBefore, events, posBefore)
	}
	return t.applyRegexFallback(tsMs, data, posBefore, posAfter)
}

// applyOSCEvents walks the OSC-133 events found in data, updating
// pending command state. Between a C (output-start) and the matching D
// (command-end), every output byte in that region — including any
// plain bytes in data that carry no event at all — is appended to
// pending.outputBuf so finalize's OutputSummary reflects the command's
// actual output, not an always-empty buffer.
func (t *Tracker) applyOSCEvents(tsMs int64, data []byte, oscBefore int, events []oscdetect.Event, posBefore uint64) []CommandRecord {
	var out []CommandRecord
	cursor := 0 // byte offset into data already appended to outputBuf

	appendOutputUpTo := func(localEnd int) {
		// Clamp defensively: an OSC sequence whose prefix was buffered
		// across a Feed boundary can report an offset outside this
		// call's data slice; never index out of range for it.
		if localEnd < 0 {
			localEnd = 0
		}
		if localEnd > len(data) {
			localEnd = len(data)
		}
		if t.pending == nil || !t.pending.haveStreamStart {
			cursor = localEnd
			return
		}
		if localEnd > cursor {
			t.pending.outputBuf = append(t.pending.outputBuf, data[cursor:localEnd]...)
		}
		cursor = localEnd
	}

	for _, ev := range events {
		// ev.Start/ev.End are offsets into oscdetect's own running
		// stream (since Detector creation); rebase them to this
		// chunk's local indices before using them against data or the
		// stream store's posBefore.
		localStart := ev.Start - oscBefore
		localEnd := ev.End - oscBefore

		// Collect any output-region bytes preceding this event before
		// acting on it, so the escape sequence itself is excluded.
		appendOutputUpTo(localStart)

		switch ev.Kind {
		case oscdetect.KindPromptStart:
			// On A: finalize any pending command lacking D, open a new one.
			if t.pending != nil {
				out = append(out, t.finalize(tsMs, nil, posBefore+uint64(localStart)))
			}
			t.pending = &pendingCommand{commandID: t.NewID(), startedAt: tsMs}

		case oscdetect.KindCommandStart:
			if t.pending == nil {
				t.pending = &pendingCommand{commandID: t.NewID(), startedAt: tsMs}
			}
			cmdLine := ev.CommandLine
			t.pending.commandLine = &cmdLine
			if ev.HasCwd {
				cwd := ev.Cwd
				t.pending.cwd = &cwd
			}
			t.pending.entered = true

		case oscdetect.KindOutputStart:
			if t.pending == nil {
				t.pending = &pendingCommand{commandID: t.NewID(), startedAt: tsMs}
			}
			t.pending.streamStart = posBefore + uint64(localEnd)
			t.pending.haveStreamStart = true
			t.pending.outputBuf = t.pending.outputBuf[:0]

		case oscdetect.KindCommandEnd:
			var exitCode *int
			if ev.HasExitCode {
				code := ev.ExitCode
				exitCode = &code
			}
			out = append(out, t.finalize(tsMs, exitCode, posBefore+uint64(localStart)))
		}

		clamped := localEnd
		if clamped < 0 {
			clamped = 0
		}
		if clamped > len(data) {
			clamped = len(data)
		}
		cursor = clamped
	}
	// Trailing bytes after the last event (still within an open output
	// region) belong to the next chunk's output too.
	appendOutputUpTo(len(data))
	return out
}

// finalize closes the current pending command, computing stream_length
// from streamEnd (the byte offset where the closing marker begins, so
// the OSC sequence itself is excluded from the output region, per
// spec's scenario 1).
func (t *Tracker) finalize(tsMs int64, exitCode *int, streamEnd uint64) CommandRecord {
	p := t.pending
	t.pending = nil

	var length uint64
	offset := p.streamStart
	if p.haveStreamStart && streamEnd > offset {
		length = streamEnd - offset
	}

	ended := tsMs
	rec := CommandRecord{
		CommandID:     p.commandID,
		SessionID:     t.SessionID,
		CommandLine:   p.commandLine,
		Cwd:           p.cwd,
		StartedAtMs:   p.startedAt,
		EndedAtMs:     &ended,
		OutputSummary: SummarizeOutput(string(p.outputBuf)),
		StreamOffset:  offset,
		StreamLength:  length,
		ExitCode:      exitCode,
	}
	return rec
}

// applyRegexFallback implements the prompt-regex mode of spec §4.6:
// output lines are scanned for a recognized prompt; the first
// detection establishes a baseline and is swallowed, subsequent
// detections finalize the pending command (if one was entered) and
// start a new one.
func (t *Tracker) applyRegexFallback(tsMs int64, data []byte, posBefore, posAfter uint64) []CommandRecord {
	var out []CommandRecord

	if t.pending != nil && t.pending.entered {
		if !t.pending.haveStreamStart {
			t.pending.streamStart = posBefore
			t.pending.haveStreamStart = true
		}
		t.pending.outputBuf = append(t.pending.outputBuf, data...)
	}

	lines := strings.Split(string(data), "\n")
	// Re-join with newline to locate line boundaries in byte terms isn't
	// needed: prompt detection only needs to know a prompt occurred
	// somewhere in this chunk; offsets use chunk boundaries (posBefore)
	// for the new pending command's eventual output region, matching the
	// line-granularity swap idiom in getarchivist-cli/recorder.go.
	for _, line := range lines {
		if line == "" || !t.prompt.IsPrompt(line) {
			continue
		}
		if !t.firstPromptSeen {
			t.firstPromptSeen = true
			if t.pending == nil {
				t.pending = &pendingCommand{commandID: t.NewID(), startedAt: tsMs}
			}
			continue
		}
		if t.pending != nil && t.pending.entered {
			out = append(out, t.finalize(tsMs, nil, posAfter))
		}
		t.pending = &pendingCommand{commandID: t.NewID(), startedAt: tsMs}
	}
	return out
}

// SummarizeOutput implements spec §4.6's output summary rule: ANSI
// strip, split by newlines, drop empty lines, keep first/last 10 lines
// if more than 20 remain, separated by an omission marker.
func SummarizeOutput(raw string) string {
	stripped := promptdetect.StripANSI(raw)
	var lines []string
	for _, l := range strings.Split(stripped, "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) <= 20 {
		return strings.Join(lines, "\n")
	}
	head := lines[:10]
	tail := lines[len(lines)-10:]
	omitted := len(lines) - 20
	out := make([]string, 0, 21)
	out = append(out, head...)
	out = append(out, "... ("+strconv.Itoa(omitted)+" lines omitted) ...")
	out = append(out, tail...)
	return strings.Join(out, "\n")
}
