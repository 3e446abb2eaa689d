// Package extract decides whether a completed assistant turn encodes a tool
// invocation request, and decodes it if so. The wire encoding the model was
// instructed to use is a deployment choice, so each supported encoding is one
// Strategy implementation selected by configuration.
//
// Extraction is deliberately permissive: zero matches, multiple matches, and
// malformed payloads after a pattern match all resolve to "no tool call" and
// the turn falls through as a plain answer. An over-eager false positive is
// worse than missing a real tool call.
package extract

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// Request is a decoded tool invocation: the tool's name and a uniform
// string-keyed argument mapping. It is transient and consumed at most once.
type Request struct {
	Tool      string            `json:"tool"`
	Arguments map[string]string `json:"arguments"`
}

// Strategy is one wire encoding for tool calls. Extract returns the decoded
// request and true on exactly one well-formed match, or a zero Request and
// false otherwise. Instructions returns the system-prompt snippet that tells
// the model how to emit a call in this encoding.
type Strategy interface {
	Extract(turn string) (Request, bool)
	Instructions() string
}

// NewStrategy selects a Strategy by configuration name. Unknown names fall
// back to raw JSON, the original deployment default.
func NewStrategy(encoding string) Strategy {
	switch strings.ToLower(encoding) {
	case "fenced":
		return NewFenced("", "")
	case "markup":
		return NewMarkup("")
	default:
		return RawJSON{}
	}
}

// =================================================================================
// Raw JSON
// =================================================================================

// RawJSON matches when the entire turn is a single JSON object of the shape
// {"tool": ..., "arguments": {...}}.
type RawJSON struct{}

var _ Strategy = RawJSON{}

func (RawJSON) Extract(turn string) (Request, bool) {
	return decodeToolJSON(strings.TrimSpace(turn))
}

func (RawJSON) Instructions() string {
	return "IMPORTANT: When you need to use a tool, you must ONLY respond with " +
		"the exact JSON object format below, nothing else, especially no " +
		"markdown tags around the response:\n" + toolJSONExample
}

// =================================================================================
// Fenced
// =================================================================================

// Fenced matches a JSON object enclosed between a literal begin marker and
// end marker; everything outside the markers is ignored. Exactly one begin
// marker must appear in the turn.
type Fenced struct {
	Begin string
	End   string
}

var _ Strategy = Fenced{}

// NewFenced builds a Fenced strategy; empty markers default to a markdown
// JSON code fence.
func NewFenced(begin, end string) Fenced {
	if begin == "" {
		begin = "```json"
	}
	if end == "" {
		end = "```"
	}
	return Fenced{Begin: begin, End: end}
}

func (f Fenced) Extract(turn string) (Request, bool) {
	if strings.Count(turn, f.Begin) != 1 {
		return Request{}, false
	}
	_, rest, _ := strings.Cut(turn, f.Begin)
	inner, _, found := strings.Cut(rest, f.End)
	if !found {
		return Request{}, false
	}
	return decodeToolJSON(strings.TrimSpace(inner))
}

func (f Fenced) Instructions() string {
	return fmt.Sprintf(
		"IMPORTANT: When you need to use a tool, respond with exactly one block "+
			"delimited by %q and %q containing only the JSON object format below:\n%s",
		f.Begin, f.End, toolJSONExample)
}

// =================================================================================
// Markup
// =================================================================================

// Markup matches a single XML-like element whose children name the tool and
// its arguments:
//
//	<use_tool>
//	    <name>list_files</name>
//	    <path>.</path>
//	</use_tool>
//
// The <name> child carries the tool name; every other child element becomes
// one argument, its tag the argument name and its character data the value.
type Markup struct {
	Tag string
}

var _ Strategy = Markup{}

// NewMarkup builds a Markup strategy; an empty tag defaults to "use_tool".
func NewMarkup(tag string) Markup {
	if tag == "" {
		tag = "use_tool"
	}
	return Markup{Tag: tag}
}

func (m Markup) Extract(turn string) (Request, bool) {
	opening := "<" + m.Tag + ">"
	closing := "</" + m.Tag + ">"
	if strings.Count(turn, opening) != 1 || strings.Count(turn, closing) != 1 {
		return Request{}, false
	}
	start := strings.Index(turn, opening)
	end := strings.Index(turn, closing)
	if end < start {
		return Request{}, false
	}
	element := turn[start : end+len(closing)]

	req := Request{Arguments: map[string]string{}}
	decoder := xml.NewDecoder(bytes.NewReader([]byte(element)))

	// Skip the opening tag of the container element.
	if _, err := decoder.Token(); err != nil {
		return Request{}, false
	}

	for {
		tok, err := decoder.Token()
		if err != nil {
			return Request{}, false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var value string
			if err := decoder.DecodeElement(&value, &t); err != nil {
				return Request{}, false
			}
			if t.Name.Local == "name" {
				req.Tool = value
			} else {
				req.Arguments[t.Name.Local] = value
			}
		case xml.EndElement:
			if t.Name.Local == m.Tag {
				if req.Tool == "" {
					return Request{}, false
				}
				return req, true
			}
		}
	}
}

func (m Markup) Instructions() string {
	return fmt.Sprintf(
		"IMPORTANT: When you need to use a tool, you must ONLY respond with a "+
			"single <%[1]s> element: a <name> child holding the tool name and one "+
			"child element per argument, for example:\n"+
			"<%[1]s>\n    <name>tool-name</name>\n    <argument-name>value</argument-name>\n</%[1]s>",
		m.Tag)
}

// =================================================================================
// Shared decoding
// =================================================================================

const toolJSONExample = "{\n" +
	"    \"tool\": \"tool-name\",\n" +
	"    \"arguments\": {\n" +
	"        \"argument-name\": \"value\"\n" +
	"    }\n" +
	"}"

// decodeToolJSON parses a {"tool", "arguments"} object. Argument values are
// coerced to text regardless of their original JSON type so tool servers see
// a uniform string-keyed mapping; json.Number keeps integers readable
// ("1" rather than a float rendering).
func decodeToolJSON(text string) (Request, bool) {
	var raw struct {
		Tool      string         `json:"tool"`
		Arguments map[string]any `json:"arguments"`
	}
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return Request{}, false
	}
	// Trailing content after the object means the turn was prose, not a call.
	if decoder.More() {
		return Request{}, false
	}
	if raw.Tool == "" || raw.Arguments == nil {
		return Request{}, false
	}

	req := Request{Tool: raw.Tool, Arguments: make(map[string]string, len(raw.Arguments))}
	for k, v := range raw.Arguments {
		req.Arguments[k] = coerceString(v)
	}
	return req, true
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		// Arrays and nested objects keep their JSON rendering.
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
