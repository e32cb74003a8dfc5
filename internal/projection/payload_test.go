package projection

import (
	"testing"
	"time"
)

func TestPayload_String(t *testing.T) {
	p := Payload{"name": "Acme", "count": float64(3)}
	if p.String("name") != "Acme" {
		t.Fatalf("string field: %q", p.String("name"))
	}
	if p.String("count") != "" {
		t.Fatalf("mistyped field must read as empty")
	}
	if p.String("missing") != "" {
		t.Fatalf("missing field must read as empty")
	}
	if p.StringDefault("missing", "fallback") != "fallback" {
		t.Fatalf("default not applied")
	}
}

func TestPayload_StringPtr(t *testing.T) {
	p := Payload{"name": "Acme"}
	if ptr := p.StringPtr("name"); ptr == nil || *ptr != "Acme" {
		t.Fatalf("present field must yield pointer")
	}
	if p.StringPtr("missing") != nil {
		t.Fatalf("missing field must yield nil for partial updates")
	}
}

func TestPayload_StringFallback(t *testing.T) {
	p := Payload{"reason": "superseded"}
	if got := p.StringFallback("discontinue_reason", "reason"); got != "superseded" {
		t.Fatalf("fallback chain: %q", got)
	}
	p2 := Payload{"discontinue_reason": "adverse reaction", "reason": "old"}
	if got := p2.StringFallback("discontinue_reason", "reason"); got != "adverse reaction" {
		t.Fatalf("first key must win: %q", got)
	}
}

func TestPayload_Int(t *testing.T) {
	p := Payload{"quantity": float64(30), "refills": int64(2)}
	if p.Int("quantity") != 30 {
		t.Fatalf("json number: %d", p.Int("quantity"))
	}
	if p.Int("refills") != 2 {
		t.Fatalf("int64: %d", p.Int("refills"))
	}
	if p.Int("missing") != 0 {
		t.Fatalf("missing must read as zero")
	}
	if ptr := p.IntPtr("quantity"); ptr == nil || *ptr != 30 {
		t.Fatalf("present number must yield pointer")
	}
	if p.IntPtr("missing") != nil {
		t.Fatalf("missing number must yield nil")
	}
}

func TestPayload_Time(t *testing.T) {
	p := Payload{"at": "2026-02-11T08:30:00Z", "bad": "yesterday"}
	want := time.Date(2026, 2, 11, 8, 30, 0, 0, time.UTC)
	if !p.Time("at").Equal(want) {
		t.Fatalf("time parse: %v", p.Time("at"))
	}
	if !p.Time("bad").IsZero() {
		t.Fatalf("unparseable time must be zero")
	}
	if !p.Time("missing").IsZero() {
		t.Fatalf("missing time must be zero")
	}
}

func TestPayload_Map(t *testing.T) {
	p := Payload{"metadata": map[string]any{"ward": "3"}}
	m := p.Map("metadata")
	if m == nil || m["ward"] != "3" {
		t.Fatalf("nested map: %v", m)
	}
	if p.Map("missing") != nil {
		t.Fatalf("missing map must be nil")
	}
}
