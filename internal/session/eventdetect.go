// Package session implements the server-side session registry of spec
// §4.7/§4.8: active-session bookkeeping, on-disk directory layout, and
// a per-session pattern/exit-code event detector with cooldown
// suppression.
//
// Grounded on the teacher's internal/parse/parse.go regex-matching
// idiom and other_examples/a4822b0f_sergeknystautas-schmux's
// trackerActivityDebounce cooldown pattern.
package session

import (
	"regexp"
	"sync"
	"time"

	"github.com/ehrlich-b/omnish/internal/promptdetect"
)

// AutoTriggerConfig configures the per-session event detector, loadable
// from YAML per SPEC_FULL.md's ambient configuration surface.
type AutoTriggerConfig struct {
	OnStderrPatterns []string `yaml:"on_stderr_patterns"`
	OnNonzeroExit    bool     `yaml:"on_nonzero_exit"`
	CooldownSeconds  int      `yaml:"cooldown_seconds"`
}

// DetectedEvent is emitted by the event detector, per spec §4.8.
type DetectedEvent struct {
	Kind     string // "pattern_match" | "nonzero_exit"
	Detail   string
	ExitCode *int
}

const (
	eventKindPatternMatch = "pattern_match"
	eventKindNonZeroExit  = "nonzero_exit"
)

// EventDetector holds one AutoTriggerConfig and tracks cooldowns per
// pattern (plus one slot for the nonzero-exit trigger), so a noisy
// stderr stream doesn't flood the RPC link with duplicate events.
type EventDetector struct {
	cfg      AutoTriggerConfig
	patterns []*regexp.Regexp

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewEventDetector compiles cfg.OnStderrPatterns.
func NewEventDetector(cfg AutoTriggerConfig) (*EventDetector, error) {
	d := &EventDetector{cfg: cfg, lastSeen: make(map[string]time.Time)}
	for _, p := range cfg.OnStderrPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		d.patterns = append(d.patterns, re)
	}
	return d, nil
}

// CheckOutput runs every configured pattern against ANSI-stripped raw
// output, returning one DetectedEvent per matching pattern not
// currently in its cooldown window, per spec §4.8.
func (d *EventDetector) CheckOutput(raw []byte, now time.Time) []DetectedEvent {
	if len(d.patterns) == 0 {
		return nil
	}
	stripped := promptdetect.StripANSI(string(raw))
	var out []DetectedEvent
	for _, re := range d.patterns {
		m := re.FindString(stripped)
		if m == "" {
			continue
		}
		key := "pattern:" + re.String()
		if !d.permit(key, now) {
			continue
		}
		out = append(out, DetectedEvent{Kind: eventKindPatternMatch, Detail: m})
	}
	return out
}

// CheckCommandComplete emits a NonZeroExit event when exitCode is
// nonzero and cfg.OnNonzeroExit is set, per spec §4.8.
func (d *EventDetector) CheckCommandComplete(exitCode int, now time.Time) []DetectedEvent {
	if !d.cfg.OnNonzeroExit || exitCode == 0 {
		return nil
	}
	if !d.permit(eventKindNonZeroExit, now) {
		return nil
	}
	code := exitCode
	return []DetectedEvent{{Kind: eventKindNonZeroExit, Detail: "command exited nonzero", ExitCode: &code}}
}

func (d *EventDetector) permit(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastSeen[key]; ok {
		if now.Sub(last) < time.Duration(d.cfg.CooldownSeconds)*time.Second {
			return false
		}
	}
	d.lastSeen[key] = now
	return true
}
