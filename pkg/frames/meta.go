package frames

// Meta keys shared across transports, sessions, and observers.
const (
	MetaStreamID      = "stream_id"
	MetaCallSID       = "call_sid"
	MetaTraceID       = "trace_id"
	MetaFromNumber    = "from_number"
	MetaSource        = "source"
	MetaReason        = "reason"
	MetaEncoding      = "encoding"
	MetaCallEndReason = "call_end_reason"
	MetaMarkName      = "mark_name"
)

// System frame names emitted by transports.
const (
	SystemCallStart = "call_start"
	SystemCallEnd   = "call_end"
	SystemMark      = "mark"
)
