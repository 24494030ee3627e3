package event

// Observer receives dispatch statistics from a Bus. Implementations
// must be safe for concurrent use; the prometheus-backed implementation
// lives host-side so the SDK carries no metrics dependency.
type Observer interface {
	// Subscribed is called once per successful handler registration.
	Subscribed(event string)
	// Published is called once per publish that found at least one handler.
	Published(event string)
	// HandlerError is called when a handler returns a non-nil error.
	HandlerError(event, source string)
	// TypeMismatch is called when a stored handler's registered type did
	// not match the published event and the handler was skipped.
	TypeMismatch(event string)
}

type nopObserver struct{}

func (nopObserver) Subscribed(string)           {}
func (nopObserver) Published(string)            {}
func (nopObserver) HandlerError(string, string) {}
func (nopObserver) TypeMismatch(string)         {}
