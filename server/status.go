package server

// EventKind identifies a lifecycle milestone of a server run.
type EventKind int

const (
	EventSocketCreated EventKind = iota
	EventBound
	EventListening
	EventAccepted
	EventRequest
	EventAborted
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSocketCreated:
		return "socket_created"
	case EventBound:
		return "bound"
	case EventListening:
		return "listening"
	case EventAccepted:
		return "accepted"
	case EventRequest:
		return "request"
	case EventAborted:
		return "aborted"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is delivered to the StatusFunc synchronously, before the server moves on to its next blocking step.
// Request is set only for EventRequest and Err only for EventError.
type Event struct {
	Kind    EventKind
	Message string
	Request *Request
	Err     error
}

// StatusFunc receives status events in the order they occur.
type StatusFunc func(Event)

var fixedMessages = map[EventKind]string{
	EventSocketCreated: "socket created successfully",
	EventBound:         "socket successfully bound to address",
	EventListening:     "server listening for connections",
	EventAccepted:      "connection accepted",
	EventAborted:       "aborted",
}

func newEvent(k EventKind) Event {
	return Event{Kind: k, Message: fixedMessages[k]}
}

func requestEvent(req *Request) Event {
	return Event{Kind: EventRequest, Message: req.PeerIP, Request: req}
}

func errorEvent(err error) Event {
	return Event{Kind: EventError, Message: err.Error(), Err: err}
}

// Lines adapts a plain string callback into a StatusFunc.
// A request event is expanded into four lines: peer IP, method, target and version.
func Lines(f func(string)) StatusFunc {
	if f == nil {
		return nil
	}
	return func(e Event) {
		if e.Kind == EventRequest && e.Request != nil {
			f(e.Request.PeerIP)
			f(e.Request.Method)
			f(e.Request.Target)
			f(e.Request.Version)
			return
		}
		f(e.Message)
	}
}
