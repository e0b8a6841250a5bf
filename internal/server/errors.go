package server

// notLoadedError signals a predict/status against an unknown or
// not-ready model id, for 404 mapping.
type notLoadedError struct{ id string }

func (e notLoadedError) Error() string { return "model not loaded: " + e.id }

// IsNotLoaded reports whether err indicates a missing/unready model.
func IsNotLoaded(err error) bool {
	_, ok := err.(notLoadedError)
	return ok
}

// alreadyLoadedError signals a LoadModel for an id that is already serving.
type alreadyLoadedError struct{ id string }

func (e alreadyLoadedError) Error() string {
	return "model already loaded: " + e.id + " (unload first)"
}

// IsAlreadyLoaded reports whether err indicates a duplicate load.
func IsAlreadyLoaded(err error) bool {
	_, ok := err.(alreadyLoadedError)
	return ok
}

// timeoutError signals that a backend call exceeded its bound. The
// request degrades to an error; the instance stays Ready.
type timeoutError struct{ op string }

func (e timeoutError) Error() string { return "timeout: " + e.op }

// IsTimeout reports whether err indicates a bounded-call timeout.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}
