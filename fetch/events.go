package fetch

// EventKind tells what a progress Event reports.
type EventKind int

const (
	EventInit EventKind = iota
	EventStarting
	EventContentType
	EventFileSize
	EventProgress
	EventFilepath
	EventSuccess
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventInit:
		return "init"
	case EventStarting:
		return "starting"
	case EventContentType:
		return "content-type"
	case EventFileSize:
		return "filesize"
	case EventProgress:
		return "progress"
	case EventFilepath:
		return "filepath"
	case EventSuccess:
		return "success"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one advisory progress report of a download. Only the fields that
// belong to Kind are set.
type Event struct {
	Kind        EventKind
	URL         string
	Attempt     int
	ContentType string
	Size        int64 // Total bytes expected, -1 if unknown
	Read        int64 // Bytes on disk so far, including a resumed prefix
	Path        string
	Status      string
}

// Observer receives events. It is called from download goroutines and must
// not block for long.
type Observer func(Event)

// ChanObserver forwards events to ch, dropping progress events when the
// channel is full so a slow consumer never stalls a transfer.
func ChanObserver(ch chan<- Event) Observer {
	return func(ev Event) {
		if ev.Kind == EventProgress {
			select {
			case ch <- ev:
			default:
			}
			return
		}
		ch <- ev
	}
}
