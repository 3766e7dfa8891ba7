package catalog

import (
	"encoding/json"
	"strings"
	"testing"
)

func schemaOf(t *testing.T, s string) json.RawMessage {
	t.Helper()
	return json.RawMessage(s)
}

func TestAdd_TagsServerAndPreservesOrder(t *testing.T) {
	c := New()
	c.Add("b", []Tool{{Name: "t1"}, {Name: "t2"}})
	c.Add("a", []Tool{{Name: "t3"}})

	entries := c.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Server != "b" || entries[2].Server != "a" {
		t.Errorf("expected insertion order preserved, got %+v", entries)
	}
}

func TestEntriesByServer(t *testing.T) {
	c := New()
	c.Add("a", []Tool{{Name: "t1"}})
	c.Add("b", []Tool{{Name: "t2"}})
	c.Add("a", []Tool{{Name: "t3"}})

	got := c.EntriesByServer("a")
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for server a, got %d", len(got))
	}
}

func TestSummary(t *testing.T) {
	c := New()
	c.Add("canva", []Tool{{Name: "t1"}, {Name: "t2"}})
	c.Add("figma", []Tool{{Name: "t1"}})

	got := c.Summary()
	want := "3 total tools (canva: 2 tools, figma: 1 tools)"
	if got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

func TestSummary_Empty(t *testing.T) {
	if got := New().Summary(); got != "0 total tools" {
		t.Errorf("Summary() = %q, want %q", got, "0 total tools")
	}
}

func TestToJSON(t *testing.T) {
	c := New()
	c.Add("a", []Tool{{Name: "t1", Description: "desc", InputSchema: schemaOf(t, `{"type":"object"}`)}})

	raw, err := c.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	var decoded []Tool
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("round-trip unmarshal failed: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Name != "t1" {
		t.Errorf("unexpected round-trip result: %+v", decoded)
	}
}

func TestIsLegalIdentifier(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"chrome_devtools", true},
		{"_foo", true},
		{"$bar", true},
		{"chrome-devtools", false},
		{"123abc", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsLegalIdentifier(tt.name); got != tt.want {
			t.Errorf("IsLegalIdentifier(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestProjectServerName(t *testing.T) {
	if got := ProjectServerName("chrome-devtools"); got != "chrome_devtools" {
		t.Errorf("ProjectServerName() = %q, want %q", got, "chrome_devtools")
	}
}

func TestTypeHeader_HyphenatedServerProjectsButDispatchRetainsOriginal(t *testing.T) {
	c := New()
	c.Add("chrome-devtools", []Tool{
		{Name: "take_screenshot", Description: "Take a screenshot", InputSchema: schemaOf(t, `{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`)},
	})

	header := c.TypeHeader()
	if !strings.Contains(header, "declare const chrome_devtools:") {
		t.Errorf("expected projected identifier in header, got: %s", header)
	}
	if !strings.Contains(header, "take_screenshot(params: { url: string; }): Promise<any>;") {
		t.Errorf("expected method signature in header, got: %s", header)
	}
	// Dispatch target (catalog entry) keeps the original hyphenated name.
	if c.Entries()[0].Server != "chrome-devtools" {
		t.Errorf("expected dispatch name to remain 'chrome-devtools', got %q", c.Entries()[0].Server)
	}
}

func TestTypeHeader_EnumProjection(t *testing.T) {
	c := New()
	c.Add("srv", []Tool{
		{Name: "export", InputSchema: schemaOf(t, `{"type":"object","properties":{"format":{"type":"string","enum":["png","jpeg"]}}}`)},
	})

	header := c.TypeHeader()
	if !strings.Contains(header, `format?: "png" | "jpeg"`) {
		t.Errorf("expected enum union projection, got: %s", header)
	}
}

func TestTypeHeader_OptionalVsRequired(t *testing.T) {
	c := New()
	c.Add("srv", []Tool{
		{Name: "t", InputSchema: schemaOf(t, `{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"number"}},"required":["a"]}`)},
	})

	header := c.TypeHeader()
	if !strings.Contains(header, "a: string;") {
		t.Errorf("expected required field without '?', got: %s", header)
	}
	if !strings.Contains(header, "b?: number;") {
		t.Errorf("expected optional field with '?', got: %s", header)
	}
}

func TestTypeHeader_MissingSchemaYieldsEmptyParams(t *testing.T) {
	c := New()
	c.Add("srv", []Tool{{Name: "t", InputSchema: nil}})

	header := c.TypeHeader()
	if !strings.Contains(header, "t(params: {}): Promise<any>;") {
		t.Errorf("expected empty params object for missing schema, got: %s", header)
	}
}

func TestTypeHeader_NonIdentifierServerOmittedFromTypedSurface(t *testing.T) {
	c := New()
	c.Add("a/b", []Tool{{Name: "t"}})

	header := c.TypeHeader()
	if strings.Contains(header, "declare const a/b") {
		t.Errorf("did not expect an illegal identifier to be emitted: %s", header)
	}
	// Still present in the raw catalog.
	if len(c.EntriesByServer("a/b")) != 1 {
		t.Error("expected tool to remain in raw catalog entries")
	}
}

func TestTypeHeader_ArrayAndNestedObject(t *testing.T) {
	c := New()
	c.Add("srv", []Tool{
		{Name: "t", InputSchema: schemaOf(t, `{"type":"object","properties":{"tags":{"type":"array","items":{"type":"string"}},"meta":{"type":"object","properties":{"id":{"type":"number"}}}}}`)},
	})

	header := c.TypeHeader()
	if !strings.Contains(header, "tags?: string[];") {
		t.Errorf("expected array projection, got: %s", header)
	}
	if !strings.Contains(header, "meta?: { id") {
		t.Errorf("expected nested object projection, got: %s", header)
	}
}
