package tracing

// Span attribute keys for coordination tracing.
// These constants define the semantic conventions for span attributes
// across the server and store.
const (
	// HTTP attributes
	AttrHTTPMethod = "http.method"
	AttrHTTPRoute  = "http.route"
	AttrHTTPStatus = "http.status_code"

	// Swarm attributes
	AttrSwarmID     = "swarm.id"
	AttrSwarmStatus = "swarm.status"

	// Worker attributes
	AttrPacketID   = "packet.id"
	AttrPacketName = "packet.name"

	// Task attributes
	AttrTaskID = "task.id"

	// Event attributes
	AttrEventType = "event.type"
	AttrEventID   = "event.id"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// Span name prefixes for consistent naming.
const (
	SpanPrefixHTTP  = "http."
	SpanPrefixStore = "store."
)

// Event names for span events.
const (
	EventRequestValidated = "request.validated"
	EventEventAppended    = "event.appended"
	EventStreamReplay     = "stream.replay"
	EventStreamEOF        = "stream.eof"
	EventErrorOccurred    = "error.occurred"
)
