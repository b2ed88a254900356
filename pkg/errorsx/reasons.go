package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonTransportClosed           ReasonCode = "transport_closed"
	ReasonTransportMalformedFrame   ReasonCode = "transport_malformed_frame"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"

	ReasonDecodeChunk ReasonCode = "decode_chunk"
	ReasonDecodeAbort ReasonCode = "decode_abort"

	ReasonTranscribe       ReasonCode = "transcribe"
	ReasonGenerate         ReasonCode = "generate"
	ReasonGenerateStream   ReasonCode = "generate_stream"
	ReasonSynthesize       ReasonCode = "synthesize"
	ReasonGatewayRateLimit ReasonCode = "gateway_rate_limit"

	ReasonInvalidTransition ReasonCode = "invalid_state_transition"
	ReasonStreamTimeout     ReasonCode = "stream_timeout"
)
