package twain

// EntryPoint is the single synchronous call every driver interaction funnels through.
// dest is nil for messages addressed to the driver manager itself.
type EntryPoint interface {
	Call(origin *Identity, dest *Identity, dg DataGroup, dat DataArgType, msg Message, data any) ReturnCode
}

// Loader locates the platform driver manager module and resolves its entry point
type Loader interface {
	Load() (EntryPoint, error)
	Unload() error
}

// ImageSink receives each acquired image. Delivery transfers ownership of the handle.
type ImageSink interface {
	Deliver(img NativeImage)
}

// BatchObserver is an optional interface for sinks that want to know how a batch ended.
// err is nil for a complete batch, wraps ErrCancelled for a user cancel and
// ErrTransferAborted otherwise.
type BatchObserver interface {
	ImageSink

	BatchComplete(delivered int, err error)
}

// SinkFunc adapts a plain function to ImageSink
type SinkFunc func(img NativeImage)

// Deliver calls f(img)
func (f SinkFunc) Deliver(img NativeImage) {
	f(img)
}
