package poll

// Event is emitted when a poll starts or ends. The caller may relay it to
// chat; the engine does not talk to chat itself.
type Event struct {
	Type            string   `json:"type"` // poll_started or poll_ended
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	DurationSeconds int      `json:"durationSeconds,omitempty"`
	Winner          string   `json:"winner,omitempty"`
}

const (
	EventPollStarted = "poll_started"
	EventPollEnded   = "poll_ended"
)

// EventSink receives lifecycle events. Implementations must not block.
type EventSink interface {
	Emit(e Event)
}

// EventFunc adapts a function to EventSink.
type EventFunc func(e Event)

func (f EventFunc) Emit(e Event) { f(e) }
