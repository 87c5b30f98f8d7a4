package transport

type ErrorKind string

const (
	// ErrorKindNetwork covers requests that never produced a response;
	// user-retriable.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindAuthorization covers missing or rejected credentials; fatal
	// for the current client instance.
	ErrorKindAuthorization ErrorKind = "authorization"
	// ErrorKindApplication covers well-formed error payloads from the server.
	ErrorKindApplication ErrorKind = "application"
)

type Error struct {
	Kind    ErrorKind
	Message string
	// WidgetError marks a server-reported widget misconfiguration so the UI
	// can show configuration guidance instead of a retry prompt.
	WidgetError bool
	StatusCode  int
	Err         error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retriable reports whether the caller should offer a retry affordance.
func (e *Error) Retriable() bool {
	return e.Kind == ErrorKindNetwork
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}
