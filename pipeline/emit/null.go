package emit

// NullEmitter discards all events. Useful as a default when callers do not
// care about observability, avoiding nil checks at every emit site.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}
