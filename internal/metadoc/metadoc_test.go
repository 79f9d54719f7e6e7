package metadoc

import (
	"errors"
	"strings"
	"testing"
)

const sampleDoc = `# query metadata
name: revenue  # owner: data team

description: "old"  # keep this
tags:
  - finance
  - weekly

options: {}
`

func mustParse(t *testing.T, input string) *Document {
	t.Helper()
	doc, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestRoundTrip(t *testing.T) {
	cases := []string{
		sampleDoc,
		"",
		"name: a\n",
		"name: a", // no trailing newline
		"# only a comment\n",
		"\n\n",
		"a: 1\n\n# standalone\nb: 2\n",
		"schedule:\n  interval: 3600\n  until: null\n",
		"options:\n  params:\n    - x\n\n    - y\n", // blank line inside block
		"'quoted: key': value\n",
		"empty:\n",
		"options: {a: 1,\nb: 2}\n", // flow mapping continued at column 0
		"tags: [a,\nb, c]\nname: x\n",
		"options: {s: \"}\",\nb: 2}\n", // closing brace inside a quoted string
	}
	for _, c := range cases {
		doc, err := Parse([]byte(c))
		if err != nil {
			t.Errorf("Parse(%q): %v", c, err)
			continue
		}
		if got := string(doc.Serialize()); got != c {
			t.Errorf("Serialize(Parse(%q)) = %q, want identical input", c, got)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	cases := []string{
		"key: [unclosed\n",
		"just a scalar\n",
		"- a\n- b\n",
		"  indented: first\n",
		"a: 1\na: 2\n",
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Errorf("Parse(%q): expected error", c)
		} else {
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("Parse(%q): error %v is not a *ParseError", c, err)
			}
		}
	}
}

func TestSet_NoOpLeavesBytesAlone(t *testing.T) {
	doc := mustParse(t, sampleDoc)

	// Values semantically equal to what the document holds, in various
	// decoded shapes (JSON-style float64, []string, etc.).
	sets := map[string]any{
		"name":        "revenue",
		"description": "old",
		"tags":        []string{"finance", "weekly"},
		"options":     map[string]any{},
	}
	for k, v := range sets {
		if err := doc.Set(k, v); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}
	if got := string(doc.Serialize()); got != sampleDoc {
		t.Errorf("no-op sets changed output:\n%s", got)
	}
}

func TestSet_ScalarKeepsCommentAndQuote(t *testing.T) {
	doc := mustParse(t, sampleDoc)
	if err := doc.Set("description", "new"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	out := string(doc.Serialize())
	want := strings.Replace(sampleDoc, `description: "old"  # keep this`, `description: "new"  # keep this`, 1)
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestSet_SingleQuoteKept(t *testing.T) {
	doc := mustParse(t, "greeting: 'hi'\n")
	if err := doc.Set("greeting", "bye"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(doc.Serialize()); got != "greeting: 'bye'\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSet_PlainScalarStaysPlain(t *testing.T) {
	doc := mustParse(t, "name: revenue  # note\n")
	if err := doc.Set("name", "costs"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(doc.Serialize()); got != "name: costs  # note\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSet_OnlyTargetEntryChanges(t *testing.T) {
	doc := mustParse(t, sampleDoc)
	if err := doc.Set("name", "costs"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	out := string(doc.Serialize())
	want := strings.Replace(sampleDoc, "name: revenue  # owner: data team", "name: costs  # owner: data team", 1)
	if out != want {
		t.Errorf("output =\n%s\nwant\n%s", out, want)
	}
}

func TestSet_BlockValueRewrittenCommentOnKeyLineKept(t *testing.T) {
	doc := mustParse(t, "options:  # tuned by hand\n  a: 1\n")
	if err := doc.Set("options", map[string]any{"b": 2}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(doc.Serialize()); got != "options:  # tuned by hand\n  b: 2\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSet_ScalarToBlock(t *testing.T) {
	doc := mustParse(t, "tags: []\n")
	if err := doc.Set("tags", []string{"a", "b"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(doc.Serialize()); got != "tags:\n  - a\n  - b\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSet_BlockToScalar(t *testing.T) {
	doc := mustParse(t, "tags:\n  - a\n  - b\n")
	if err := doc.Set("tags", []string{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(doc.Serialize()); got != "tags: []\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSet_AppendsMissingKey(t *testing.T) {
	doc := mustParse(t, "name: a\n")
	if err := doc.Set("schedule", nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := doc.Set("is_draft", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(doc.Serialize()); got != "name: a\nschedule: null\nis_draft: true\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSet_AppendAfterUnterminatedLastLine(t *testing.T) {
	doc := mustParse(t, "name: a")
	if err := doc.Set("description", ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(doc.Serialize()); got != "name: a\ndescription: \"\"\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSet_BuildFreshDocument(t *testing.T) {
	doc := New()
	if err := doc.Set("name", "a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := doc.Set("options", map[string]any{"x": 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(doc.Serialize()); got != "name: a\noptions:\n  x: 1\n" {
		t.Errorf("output = %q", got)
	}

	// The fresh document must parse back to equal values, so a second merge
	// of the same fields is a no-op.
	again := mustParse(t, string(doc.Serialize()))
	if err := again.Set("name", "a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := again.Set("options", map[string]any{"x": 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(again.Serialize()); got != string(doc.Serialize()) {
		t.Errorf("re-merge changed output: %q", got)
	}
}

func TestSet_NumberShapesCompareEqual(t *testing.T) {
	doc := mustParse(t, "limit: 100\nratio: 0.5\n")
	// JSON decoding yields float64 for both.
	if err := doc.Set("limit", float64(100)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := doc.Set("ratio", 0.5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(doc.Serialize()); got != "limit: 100\nratio: 0.5\n" {
		t.Errorf("numeric no-op changed output: %q", got)
	}
}

func TestGetAndKeys(t *testing.T) {
	doc := mustParse(t, sampleDoc)
	if got := doc.Keys(); len(got) != 4 || got[0] != "name" || got[3] != "options" {
		t.Errorf("Keys = %v", got)
	}
	v, ok := doc.Get("description")
	if !ok || v != "old" {
		t.Errorf("Get(description) = %v, %v", v, ok)
	}
	if _, ok := doc.Get("missing"); ok {
		t.Error("Get(missing) should report absence")
	}
	if doc.Len() != 4 {
		t.Errorf("Len = %d, want 4", doc.Len())
	}
}

func TestMultilineFlowValue(t *testing.T) {
	input := "options: {a: 1,\nb: 2}\nname: x\n"
	doc := mustParse(t, input)

	v, ok := doc.Get("options")
	if !ok {
		t.Fatal("Get(options) missed the flow entry")
	}
	m, _ := v.(map[string]any)
	if m["a"] != int64(1) || m["b"] != int64(2) {
		t.Errorf("options = %v", v)
	}

	// Equal value: the odd hand formatting must survive untouched.
	if err := doc.Set("options", map[string]any{"a": 1, "b": 2}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(doc.Serialize()); got != input {
		t.Errorf("no-op set changed output: %q", got)
	}

	// A sibling update must not disturb the flow entry either.
	if err := doc.Set("name", "y"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := string(doc.Serialize()); got != "options: {a: 1,\nb: 2}\nname: y\n" {
		t.Errorf("output = %q", got)
	}
}

func TestUnknownKeysSurvive(t *testing.T) {
	input := "owner: me  # local-only\nname: a\n"
	doc := mustParse(t, input)
	if err := doc.Set("name", "b"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	out := string(doc.Serialize())
	if !strings.Contains(out, "owner: me  # local-only\n") {
		t.Errorf("unknown key lost: %q", out)
	}
}
