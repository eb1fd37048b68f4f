package policy

import (
	"strings"
	"testing"
)

func TestRedactPIIEmail(t *testing.T) {
	out, changed := RedactPII("weather for the city in jane.doe@example.com profile")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if strings.Contains(out, "jane.doe@example.com") {
		t.Fatalf("email survived redaction: %q", out)
	}
	if !strings.Contains(out, "[REDACTED_EMAIL]") {
		t.Fatalf("missing email marker: %q", out)
	}
}

func TestRedactPIIPhoneAndCard(t *testing.T) {
	out, changed := RedactPII("call me at +39 333 123 4567, card 4111 1111 1111 1111")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if !strings.Contains(out, "[REDACTED_CARD]") {
		t.Fatalf("missing card marker: %q", out)
	}
}

func TestRedactPIILeavesPlainQueriesAlone(t *testing.T) {
	in := "What's the weather in London today?"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = (%q, %v), want unchanged", in, out, changed)
	}
}
