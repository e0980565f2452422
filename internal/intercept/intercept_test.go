package intercept

import (
	"testing"
	"time"
)

func feedString(ic *Interceptor, s string, now time.Time) []Action {
	var out []Action
	for i := 0; i < len(s); i++ {
		out = append(out, ic.Feed(s[i], now))
	}
	return out
}

func TestForwardsOrdinaryInput(t *testing.T) {
	ic := NewInterceptor(0, nil)
	now := time.Unix(0, 0)
	acts := feedString(ic, "ls\r", now)
	for _, a := range acts {
		if a.Kind != ActionForward {
			t.Fatalf("expected Forward, got %v", a.Kind)
		}
	}
}

func TestPrefixEntersChatModeAfterGap(t *testing.T) {
	ic := NewInterceptor(':', NewTimeGapGuard(1000))
	base := time.Unix(100, 0)
	a := ic.Feed(':', base)
	if a.Kind != ActionBuffering {
		t.Fatalf("expected Buffering on prefix, got %v", a.Kind)
	}
	if !ic.InChat() {
		t.Fatal("expected InChat true")
	}
}

func TestPrefixIgnoredWithoutGap(t *testing.T) {
	ic := NewInterceptor(':', NewTimeGapGuard(1000))
	base := time.Unix(100, 0)
	ic.Feed('a', base) // establishes lastKey
	a := ic.Feed(':', base.Add(10*time.Millisecond))
	if a.Kind != ActionForward {
		t.Fatalf("expected Forward (gap too small), got %v", a.Kind)
	}
	if ic.InChat() {
		t.Fatal("expected InChat false")
	}
}

func TestChatCaptureAndEnterFinalizes(t *testing.T) {
	ic := NewInterceptor(':', NewTimeGapGuard(1000))
	base := time.Unix(200, 0)
	ic.Feed(':', base)
	acts := feedString(ic, "hello", base)
	for _, a := range acts {
		if a.Kind != ActionBuffering {
			t.Fatalf("expected Buffering, got %v", a.Kind)
		}
	}
	final := ic.Feed('\r', base)
	if final.Kind != ActionChat {
		t.Fatalf("expected Chat, got %v", final.Kind)
	}
	if final.Chat != "hello" {
		t.Fatalf("Chat = %q, want %q", final.Chat, "hello")
	}
	if ic.InChat() {
		t.Fatal("expected chat mode to have ended")
	}
}

func TestBackspaceShrinksBuffer(t *testing.T) {
	ic := NewInterceptor(':', NewTimeGapGuard(1000))
	base := time.Unix(300, 0)
	ic.Feed(':', base)
	feedString(ic, "ab", base)
	a := ic.Feed(bsByte, base)
	if a.Kind != ActionBackspace {
		t.Fatalf("expected Backspace, got %v", a.Kind)
	}
	if a.Buffer != ":a" {
		t.Fatalf("Buffer = %q, want %q", a.Buffer, ":a")
	}
}

func TestBareEscCancelsChat(t *testing.T) {
	ic := NewInterceptor(':', NewTimeGapGuard(1000))
	base := time.Unix(400, 0)
	ic.Feed(':', base)
	feedString(ic, "oops", base)
	ic.Feed(escByte, base) // pending
	a := ic.Feed('x', base)
	if a.Kind != ActionCancel {
		t.Fatalf("expected Cancel after bare ESC, got %v", a.Kind)
	}
	if ic.InChat() {
		t.Fatal("expected chat mode cancelled")
	}
}

func TestCSISequenceSwallowedWithoutCancel(t *testing.T) {
	ic := NewInterceptor(':', NewTimeGapGuard(1000))
	base := time.Unix(500, 0)
	ic.Feed(':', base)
	feedString(ic, "ab", base)
	acts := feedString(ic, "\x1b[A", base) // up-arrow CSI sequence
	for _, a := range acts {
		if a.Kind != ActionPending {
			t.Fatalf("expected Pending while swallowing CSI, got %v", a.Kind)
		}
	}
	if !ic.InChat() {
		t.Fatal("expected chat mode to remain active across CSI sequence")
	}
	final := ic.Feed('\r', base)
	if final.Chat != "ab" {
		t.Fatalf("Chat = %q, want %q (CSI bytes must not appear in buffer)", final.Chat, "ab")
	}
}

func TestBracketedPasteForwardedWhenNotInChat(t *testing.T) {
	ic := NewInterceptor(':', NewTimeGapGuard(1000))
	base := time.Unix(600, 0)
	acts := feedString(ic, "\x1b[200~:not chat~\x1b[201~", base)
	for _, a := range acts {
		if a.Kind != ActionForward {
			t.Fatalf("expected Forward during bracketed paste, got %v", a.Kind)
		}
	}
	if ic.InChat() {
		t.Fatal("bracketed-paste prefix byte must not trigger chat mode")
	}
}

func TestSuppressionForcesForward(t *testing.T) {
	ic := NewInterceptor(':', NewTimeGapGuard(1000))
	ic.SetSuppressed(true)
	base := time.Unix(700, 0)
	a := ic.Feed(':', base)
	if a.Kind != ActionForward {
		t.Fatalf("expected Forward while suppressed, got %v", a.Kind)
	}
	if ic.InChat() {
		t.Fatal("expected chat mode not entered while suppressed")
	}
}

func TestAltScreenDetectorTracksSetAndReset(t *testing.T) {
	d := NewAltScreenDetector()
	if d.Active() {
		t.Fatal("expected inactive initially")
	}
	changed := d.Feed([]byte("\x1b[?1049h"))
	if !changed || !d.Active() {
		t.Fatal("expected active after alt-screen set sequence")
	}
	changed = d.Feed([]byte("some screen contents"))
	if changed {
		t.Fatal("ordinary bytes must not change alt-screen state")
	}
	changed = d.Feed([]byte("\x1b[?1049l"))
	if !changed || d.Active() {
		t.Fatal("expected inactive after alt-screen reset sequence")
	}
}

func TestTabEmitsTabAction(t *testing.T) {
	ic := NewInterceptor(':', NewTimeGapGuard(1000))
	base := time.Unix(800, 0)
	ic.Feed(':', base)
	a := ic.Feed(tabByte, base)
	if a.Kind != ActionTab {
		t.Fatalf("expected Tab, got %v", a.Kind)
	}
}
