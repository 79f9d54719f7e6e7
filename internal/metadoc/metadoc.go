// Package metadoc implements a formatting-preserving model of the YAML
// metadata files written next to each query.
//
// A Document is an ordered list of nodes: top-level key/value entries,
// standalone comments, and blank lines. Every node keeps its verbatim source
// text, so serializing an unmodified document reproduces the input byte for
// byte. Set replaces only the value token of the entry it targets; comments,
// quote styles, key order and spacing elsewhere are never touched.
package metadoc

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError reports malformed or unsupported metadata content.
type ParseError struct {
	Line int // 1-based line of the offending node, 0 when unknown
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("metadoc: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("metadoc: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type nodeKind int

const (
	nodeEntry nodeKind = iota
	nodeComment
	nodeBlank
)

// node is one piece of the document. raw holds the exact source text,
// including the trailing newline when the source had one.
type node struct {
	kind  nodeKind
	key   string // entries only
	value any    // entries only, normalized
	raw   string
}

// Document is the parsed, formatting-preserving form of a metadata file.
type Document struct {
	nodes []*node
}

// New returns an empty document.
func New() *Document {
	return &Document{}
}

// Parse builds a Document from raw YAML bytes. The input must be a top-level
// mapping (or empty). Unsupported layouts and malformed YAML yield a
// *ParseError.
func Parse(data []byte) (*Document, error) {
	// Whole-document sanity check before any structural splitting.
	var whole map[string]any
	if err := yaml.Unmarshal(data, &whole); err != nil {
		return nil, &ParseError{Err: err}
	}

	lines := splitLines(data)
	doc := &Document{}
	seen := map[string]int{}

	for i := 0; i < len(lines); {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			doc.nodes = append(doc.nodes, &node{kind: nodeBlank, raw: line})
			i++
		case strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t"):
			doc.nodes = append(doc.nodes, &node{kind: nodeComment, raw: line})
			i++
		case strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t"):
			return nil, &ParseError{Line: i + 1, Err: fmt.Errorf("indented content outside an entry")}
		default:
			end := entryEnd(lines, i)
			raw := strings.Join(lines[i:end], "")
			key, value, err := decodeEntry(raw, i+1)
			if err != nil {
				return nil, err
			}
			if prev, dup := seen[key]; dup {
				return nil, &ParseError{Line: i + 1, Err: fmt.Errorf("duplicate key %q (first at line %d)", key, prev)}
			}
			seen[key] = i + 1
			doc.nodes = append(doc.nodes, &node{kind: nodeEntry, key: key, value: value, raw: raw})
			i = end
		}
	}
	return doc, nil
}

// entryEnd returns the index one past the last line belonging to the entry
// that starts at lines[start]. A flow collection left open on the key line
// claims every following line until its brackets balance, even at column 0.
// After that, indented lines always belong to the entry; blank lines and
// column-0 comments belong to it only when more indented content follows,
// otherwise they are standalone nodes between entries.
func entryEnd(lines []string, start int) int {
	i := start + 1
	depth := openFlowDepth(lines[start])
	for i < len(lines) && depth > 0 {
		depth = flowDepthDelta(lines[i], depth)
		i++
	}
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
			i++
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			// Look past the blank/comment run: does indented content resume?
			j := i + 1
			for j < len(lines) {
				t := strings.TrimSpace(lines[j])
				if t == "" || (strings.HasPrefix(t, "#") && !strings.HasPrefix(lines[j], " ") && !strings.HasPrefix(lines[j], "\t")) {
					j++
					continue
				}
				break
			}
			if j < len(lines) && (strings.HasPrefix(lines[j], " ") || strings.HasPrefix(lines[j], "\t")) {
				i = j + 1
				continue
			}
		}
		break
	}
	return i
}

// openFlowDepth reports how many flow brackets the value on a key line
// leaves unclosed. Brackets only count when the value actually starts a flow
// collection; a plain scalar containing braces opens nothing.
func openFlowDepth(line string) int {
	text := strings.TrimSuffix(line, "\n")
	colon := keyColonIndex(text)
	if colon < 0 {
		return 0
	}
	rest := strings.TrimLeft(text[colon+1:], " \t")
	if rest == "" || (rest[0] != '{' && rest[0] != '[') {
		return 0
	}
	return flowDepthDelta(rest, 0)
}

// flowDepthDelta scans one line already inside a flow collection and returns
// the bracket depth after it, ignoring brackets inside quoted strings and
// anything after a comment.
func flowDepthDelta(s string, depth int) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote == '"':
			if c == '\\' {
				i++
			} else if c == '"' {
				quote = 0
			}
		case quote == '\'':
			if c == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					i++
				} else {
					quote = 0
				}
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#' && (i == 0 || s[i-1] == ' ' || s[i-1] == '\t'):
			return depth
		case c == '{' || c == '[':
			depth++
		case (c == '}' || c == ']') && depth > 0:
			depth--
		}
	}
	return depth
}

// decodeEntry extracts the single key and its normalized value from an
// entry's verbatim text.
func decodeEntry(raw string, line int) (string, any, error) {
	var m map[string]any
	if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
		return "", nil, &ParseError{Line: line, Err: err}
	}
	if len(m) != 1 {
		return "", nil, &ParseError{Line: line, Err: fmt.Errorf("unsupported entry layout (%d keys)", len(m))}
	}
	for k, v := range m {
		return k, normalize(v), nil
	}
	return "", nil, &ParseError{Line: line, Err: fmt.Errorf("empty entry")}
}

// Serialize renders the document. For an unmodified document this is the
// exact bytes Parse consumed.
func (d *Document) Serialize() []byte {
	var buf bytes.Buffer
	for _, n := range d.nodes {
		buf.WriteString(n.raw)
	}
	return buf.Bytes()
}

// Get returns the decoded (normalized) value for key.
func (d *Document) Get(key string) (any, bool) {
	for _, n := range d.nodes {
		if n.kind == nodeEntry && n.key == key {
			return n.value, true
		}
	}
	return nil, false
}

// Keys lists entry keys in document order.
func (d *Document) Keys() []string {
	var out []string
	for _, n := range d.nodes {
		if n.kind == nodeEntry {
			out = append(out, n.key)
		}
	}
	return out
}

// Len returns the number of key/value entries.
func (d *Document) Len() int {
	c := 0
	for _, n := range d.nodes {
		if n.kind == nodeEntry {
			c++
		}
	}
	return c
}

// Set updates or inserts the entry for key.
//
// When the entry exists and already holds a semantically equal value, the
// document is untouched. When the value differs and both old and new values
// fit on the entry's single line, only the value token is replaced: the key,
// the inline comment and the spacing before it survive, and a quoted string
// keeps its quote character. Block values are re-rendered in default style,
// preserving a comment on the key line. Absent keys are appended.
func (d *Document) Set(key string, value any) error {
	norm := normalize(value)

	for _, n := range d.nodes {
		if n.kind != nodeEntry || n.key != key {
			continue
		}
		if reflect.DeepEqual(n.value, norm) {
			return nil
		}
		raw, err := rewriteEntry(n.raw, norm)
		if err != nil {
			return err
		}
		n.raw = raw
		n.value = norm
		return nil
	}

	// Appending: the previous last line must terminate before we add one.
	if last := d.lastContent(); last != nil && !strings.HasSuffix(last.raw, "\n") {
		last.raw += "\n"
	}
	raw, err := renderEntry(key, norm)
	if err != nil {
		return err
	}
	d.nodes = append(d.nodes, &node{kind: nodeEntry, key: key, value: norm, raw: raw})
	return nil
}

func (d *Document) lastContent() *node {
	for i := len(d.nodes) - 1; i >= 0; i-- {
		if d.nodes[i].raw != "" {
			return d.nodes[i]
		}
	}
	return nil
}

// rewriteEntry replaces the value of an existing entry while keeping as much
// of its formatting as possible.
func rewriteEntry(raw string, value any) (string, error) {
	lines := splitLines([]byte(raw))
	keyLine := lines[0]
	keyText := strings.TrimSuffix(keyLine, "\n")

	colon := keyColonIndex(keyText)
	if colon < 0 {
		return "", fmt.Errorf("metadoc: entry has no key separator: %q", keyText)
	}
	rest := keyText[colon+1:]
	lead := rest[:len(rest)-len(strings.TrimLeft(rest, " \t"))]
	body := rest[len(lead):]
	cIdx := commentIndex(body)

	token, err := scalarToken(value, quoteStyle(body))
	if err == nil && len(lines) == 1 {
		// Single-line entry, single-line replacement: splice the token in.
		var trailer string
		if cIdx >= 0 {
			val := body[:cIdx]
			trailer = val[len(strings.TrimRight(val, " \t")):] + body[cIdx:]
			if strings.HasPrefix(trailer, "#") {
				trailer = " " + trailer
			}
		}
		nl := ""
		if strings.HasSuffix(keyLine, "\n") {
			nl = "\n"
		}
		if lead == "" {
			lead = " "
		}
		return keyText[:colon+1] + lead + token + trailer + nl, nil
	}

	// Everything else: re-render in default style, keep a key-line comment.
	comment := ""
	if cIdx >= 0 {
		comment = strings.TrimRight(body[cIdx:], " \t")
	}
	return renderEntryWithComment(keyText[:colon+1], value, comment)
}

// renderEntry renders a brand-new entry in default style.
func renderEntry(key string, value any) (string, error) {
	keyToken, err := scalarToken(key, 0)
	if err != nil {
		return "", fmt.Errorf("metadoc: render key %q: %w", key, err)
	}
	return renderEntryWithComment(keyToken+":", value, "")
}

// renderEntryWithComment renders "keyPart value" with an optional trailing
// comment, switching to block layout for non-empty maps and sequences.
func renderEntryWithComment(keyPart string, value any, comment string) (string, error) {
	suffix := ""
	if comment != "" {
		suffix = "  " + comment
	}
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 {
			return keyPart + " {}" + suffix + "\n", nil
		}
		return keyPart + suffix + "\n" + indentBlock(marshalValue(value)), nil
	case []any:
		if len(v) == 0 {
			return keyPart + " []" + suffix + "\n", nil
		}
		return keyPart + suffix + "\n" + indentBlock(marshalValue(value)), nil
	default:
		text := strings.TrimSuffix(marshalValue(value), "\n")
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			// Multi-line scalar: the comment goes after the block header.
			return keyPart + " " + text[:i] + suffix + text[i:] + "\n", nil
		}
		return keyPart + " " + text + suffix + "\n", nil
	}
}

// scalarToken renders value as a single-line YAML scalar token, applying the
// requested quote style to strings. It fails when the value does not fit on
// one line.
func scalarToken(value any, quote byte) (string, error) {
	switch value.(type) {
	case nil, bool, int64, float64, string:
	default:
		return "", fmt.Errorf("metadoc: not a scalar: %T", value)
	}

	n := &yaml.Node{Kind: yaml.ScalarNode}
	if err := n.Encode(value); err != nil {
		return "", fmt.Errorf("metadoc: encode scalar: %w", err)
	}
	if s, ok := value.(string); ok {
		switch quote {
		case '"':
			n.Style = yaml.DoubleQuotedStyle
		case '\'':
			if !strings.Contains(s, "\n") {
				n.Style = yaml.SingleQuotedStyle
			}
		}
	}
	text := strings.TrimSuffix(marshalValue(n), "\n")
	if strings.Contains(text, "\n") {
		return "", fmt.Errorf("metadoc: scalar does not fit on one line")
	}
	return text, nil
}

// quoteStyle returns the quote character the current value token uses, or 0.
func quoteStyle(body string) byte {
	if body != "" && (body[0] == '"' || body[0] == '\'') {
		return body[0]
	}
	return 0
}

func marshalValue(v any) string {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	_ = enc.Close()
	return buf.String()
}

func indentBlock(text string) string {
	var b strings.Builder
	for _, line := range strings.SplitAfter(strings.TrimSuffix(text, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			b.WriteString(line)
			continue
		}
		b.WriteString("  ")
		b.WriteString(line)
	}
	b.WriteString("\n")
	return b.String()
}

// keyColonIndex finds the colon terminating the key of a top-level entry
// line, honouring quoted keys.
func keyColonIndex(line string) int {
	if line == "" {
		return -1
	}
	if line[0] == '"' || line[0] == '\'' {
		q := line[0]
		for i := 1; i < len(line); i++ {
			if line[i] == '\\' && q == '"' {
				i++
				continue
			}
			if line[i] == q {
				// For single quotes a doubled quote is an escape.
				if q == '\'' && i+1 < len(line) && line[i+1] == '\'' {
					i++
					continue
				}
				rest := strings.IndexByte(line[i:], ':')
				if rest < 0 {
					return -1
				}
				return rest + i
			}
		}
		return -1
	}
	return strings.IndexByte(line, ':')
}

// commentIndex finds where an inline comment starts in the text after the
// key separator, or -1. A '#' only opens a comment outside quotes and when
// preceded by whitespace (or at the start).
func commentIndex(body string) int {
	var quote byte
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case quote == '"':
			if c == '\\' {
				i++
			} else if c == '"' {
				quote = 0
			}
		case quote == '\'':
			if c == '\'' {
				if i+1 < len(body) && body[i+1] == '\'' {
					i++
				} else {
					quote = 0
				}
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#':
			if i == 0 || body[i-1] == ' ' || body[i-1] == '\t' {
				return i
			}
		}
	}
	return -1
}

// splitLines splits data into physical lines, each keeping its trailing
// newline. The final line may lack one.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			out = append(out, string(data))
			break
		}
		out = append(out, string(data[:i+1]))
		data = data[i+1:]
	}
	return out
}
