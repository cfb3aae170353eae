package agent

import "github.com/gweta-ai/gweta/synthesis"

// Event types, in grammar order: meta precedes everything, final (or
// error) closes the stream.
const (
	EventMeta      = "meta"
	EventRetrieval = "retrieval"
	EventToken     = "token"
	EventCitation  = "citation"
	EventFinal     = "final"
	EventError     = "error"
)

// Event is one element of the stream produced by StreamQuery.
type Event struct {
	Type      string              `json:"type"`
	Meta      *MetaInfo           `json:"meta,omitempty"`
	Retrieval *RetrievalInfo      `json:"retrieval,omitempty"`
	Token     string              `json:"token,omitempty"`
	Citation  *synthesis.Citation `json:"citation,omitempty"`
	Final     *Response           `json:"final,omitempty"`
	Error     *ErrorInfo          `json:"error,omitempty"`
}

// MetaInfo opens every stream with the request identity and labels.
type MetaInfo struct {
	RequestID  string `json:"request_id"`
	TraceID    string `json:"trace_id"`
	Intent     string `json:"intent"`
	Complexity string `json:"complexity"`
	UserType   string `json:"user_type"`
}

// RetrievalInfo reports progress through the retrieval stages.
type RetrievalInfo struct {
	Stage      string   `json:"stage"` // retrieve, rerank, gap_retrieve
	Candidates int      `json:"candidates"`
	Warnings   []string `json:"warnings,omitempty"`
}

// ErrorInfo closes a failed stream. Message carries no stack traces.
type ErrorInfo struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	TraceID   string `json:"trace_id"`
}

func metaEvent(st *State) Event {
	meta := &MetaInfo{RequestID: st.RequestID, TraceID: st.TraceID}
	// Labels stay empty when the request dies before classification.
	if st.Classification != nil {
		meta.Intent = st.Classification.Intent
		meta.Complexity = st.Classification.Complexity
		meta.UserType = st.Classification.UserType
	}
	return Event{Type: EventMeta, Meta: meta}
}

func retrievalEvent(stage string, candidates int, warnings []string) Event {
	return Event{Type: EventRetrieval, Retrieval: &RetrievalInfo{
		Stage: stage, Candidates: candidates, Warnings: warnings,
	}}
}

func errorEvent(st *State, kind string, err error) Event {
	return Event{Type: EventError, Error: &ErrorInfo{
		Kind: kind, Message: err.Error(), RequestID: st.RequestID, TraceID: st.TraceID,
	}}
}
