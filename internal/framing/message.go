package framing

// Message is the tagged-union RPC payload from spec §3. Type selects
// which of the payload fields is populated; the rest stay nil. This
// mirrors the teacher's Envelope{Type string} + per-type struct
// pattern (internal/ws/protocol.go) but is carried over CBOR instead
// of JSON, and one Go struct holds every variant instead of a separate
// decode-by-type step, since cbor.Unmarshal needs a concrete target.
type Type string

const (
	TypeSessionStart       Type = "session_start"
	TypeSessionEnd         Type = "session_end"
	TypeIoData             Type = "io_data"
	TypeEvent              Type = "event"
	TypeRequest            Type = "request"
	TypeResponse           Type = "response"
	TypeCommandComplete    Type = "command_complete"
	TypeCompletionRequest  Type = "completion_request"
	TypeCompletionResponse Type = "completion_response"
	TypeAck                Type = "ack"
	TypeErrorMsg           Type = "error"
)

// RequestScopeKind selects which sessions an LLM Request applies to.
type RequestScopeKind string

const (
	ScopeCurrentSession RequestScopeKind = "current_session"
	ScopeAllSessions    RequestScopeKind = "all_sessions"
	ScopeSessions       RequestScopeKind = "sessions"
)

// RequestScope narrows a Request to a subset of sessions.
type RequestScope struct {
	Kind       RequestScopeKind `cbor:"kind"`
	SessionIDs []string         `cbor:"session_ids,omitempty"`
}

// CommandRecord mirrors spec §3 exactly: immutable once emitted.
type CommandRecord struct {
	CommandID      string  `cbor:"command_id" json:"command_id"`
	SessionID      string  `cbor:"session_id" json:"session_id"`
	CommandLine    *string `cbor:"command_line,omitempty" json:"command_line,omitempty"`
	Cwd            *string `cbor:"cwd,omitempty" json:"cwd,omitempty"`
	StartedAtMs    int64   `cbor:"started_at" json:"started_at"`
	EndedAtMs      *int64  `cbor:"ended_at,omitempty" json:"ended_at,omitempty"`
	OutputSummary  string  `cbor:"output_summary" json:"output_summary"`
	StreamOffset   uint64  `cbor:"stream_offset" json:"stream_offset"`
	StreamLength   uint64  `cbor:"stream_length" json:"stream_length"`
	ExitCode       *int    `cbor:"exit_code,omitempty" json:"exit_code,omitempty"`
}

// Message carries exactly one populated field selected by Type.
type Message struct {
	Type Type `cbor:"type"`

	SessionStart *SessionStartPayload `cbor:"session_start,omitempty"`
	SessionEnd   *SessionEndPayload   `cbor:"session_end,omitempty"`
	IoData       *IoDataPayload       `cbor:"io_data,omitempty"`
	Event        *EventPayload        `cbor:"event,omitempty"`
	Request      *RequestPayload      `cbor:"request,omitempty"`
	Response     *ResponsePayload     `cbor:"response,omitempty"`
	CommandComplete     *CommandComplete     `cbor:"command_complete,omitempty"`
	CompletionRequest   *CompletionRequest   `cbor:"completion_request,omitempty"`
	CompletionResponse  *CompletionResponse  `cbor:"completion_response,omitempty"`
	Ack                 *AckPayload          `cbor:"ack,omitempty"`
	Error               *ErrorPayload        `cbor:"error_payload,omitempty"`
}

type SessionStartPayload struct {
	SessionID       string            `cbor:"session_id"`
	ParentSessionID *string           `cbor:"parent_session_id,omitempty"`
	StartedAtMs     int64             `cbor:"started_at"`
	Attrs           map[string]string `cbor:"attrs,omitempty"`
}

type SessionEndPayload struct {
	SessionID string `cbor:"session_id"`
	EndedAtMs int64  `cbor:"ended_at"`
}

// Direction matches the on-disk StreamEntry direction byte (0=input, 1=output).
type Direction uint8

const (
	DirInput  Direction = 0
	DirOutput Direction = 1
)

type IoDataPayload struct {
	SessionID string    `cbor:"session_id"`
	TsMs      int64     `cbor:"ts"`
	Direction Direction `cbor:"direction"`
	Data      []byte    `cbor:"data"`
}

// EventPayload carries a detected event from the per-session event
// detector (spec §4.8).
type EventPayload struct {
	SessionID string `cbor:"session_id"`
	Kind      string `cbor:"kind"` // "pattern_match" | "nonzero_exit"
	Detail    string `cbor:"detail"`
	ExitCode  *int   `cbor:"exit_code,omitempty"`
}

type RequestPayload struct {
	Scope RequestScope `cbor:"scope"`
	Query string       `cbor:"query"`
}

type ResponsePayload struct {
	Text string `cbor:"text"`
}

type CommandComplete struct {
	Record CommandRecord `cbor:"record"`
}

type CompletionRequest struct {
	SessionID string `cbor:"session_id"`
	Prefix    string `cbor:"prefix"`
}

type CompletionResponse struct {
	Suggestion string `cbor:"suggestion"`
}

// AckPayload acknowledges a request. For io_data requests it also
// carries any CommandRecords the server's tracker finalized as a
// result of this chunk, and any events the per-session detector
// raised, so the client learns of them without a separate push
// channel (the wire protocol is strictly call/response per §4.3).
type AckPayload struct {
	Records []CommandRecord `cbor:"records,omitempty"`
	Events  []EventPayload  `cbor:"events,omitempty"`
}

type ErrorPayload struct {
	Kind    string `cbor:"kind"`
	Message string `cbor:"message"`
}
