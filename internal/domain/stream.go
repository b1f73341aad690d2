package domain

import "encoding/json"

// StreamEventKind tags a StreamEvent.
type StreamEventKind int

const (
	StreamTextDelta StreamEventKind = iota + 1
	StreamCallNameDelta
	StreamCallArgsDelta
	StreamDone
)

func (k StreamEventKind) String() string {
	switch k {
	case StreamTextDelta:
		return "text-delta"
	case StreamCallNameDelta:
		return "call-name-delta"
	case StreamCallArgsDelta:
		return "call-args-delta"
	case StreamDone:
		return "done"
	}
	return "unknown"
}

// StreamEvent is one partial-response event. Only the field matching Kind is set.
type StreamEvent struct {
	Kind     StreamEventKind
	Text     string
	Name     string
	Fragment string
}

func TextDelta(s string) StreamEvent     { return StreamEvent{Kind: StreamTextDelta, Text: s} }
func CallNameDelta(s string) StreamEvent { return StreamEvent{Kind: StreamCallNameDelta, Name: s} }
func CallArgsDelta(s string) StreamEvent { return StreamEvent{Kind: StreamCallArgsDelta, Fragment: s} }
func Done() StreamEvent                  { return StreamEvent{Kind: StreamDone} }

// FunctionCall is a completed call reassembled from a stream.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Valid reports whether Arguments is well-formed JSON. An empty argument
// string counts as an empty object.
func (c FunctionCall) Valid() bool {
	return c.Arguments == "" || json.Valid([]byte(c.Arguments))
}
