package upload

// Event is the completion side-effect handed to the live-notification
// subsystem. It is delivered for the destination folder and its ancestor.
type Event struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// EventFileCreated is the only event type the engine emits.
const EventFileCreated = "file_created"

// Notifier fans a completion event out to live subscribers. Implementations
// must not block the finalization path.
type Notifier interface {
	FileCreated(event Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) FileCreated(Event) {}
