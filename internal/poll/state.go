// Package poll owns the poll data model and its lifecycle: idle (no record in
// the shared store) -> active -> winner -> idle. Every transition is evaluated
// against the shared store so any number of stateless invocations can run the
// same decision concurrently.
package poll

import (
	"errors"
	"strings"
	"time"
)

// Shared store keys owned by this package.
const (
	KeyState       = "poll_state"
	KeyModifiedAt  = "poll_modified_at"
	KeyQueue       = "poll_queue"
	KeySettings    = "poll_settings"
	KeyLastEndedAt = "last_poll_ended_at"
)

// Sentinel errors. LockNotAcquired is deliberately not here: losing the
// resolution lock is a normal outcome, reported as a bool.
var (
	ErrAlreadyActive = errors.New("a poll is already running")
	ErrInvalidPoll   = errors.New("poll needs a question and at least two non-empty options")
	ErrNoActivePoll  = errors.New("no poll is currently active")
	ErrPollExpired   = errors.New("poll voting time is over")
	ErrInvalidOption = errors.New("option index out of range")
)

// Status of a stored poll. Idle has no stored value: the absence of the
// poll_state key means no poll is running.
type Status string

const (
	StatusActive Status = "active"
	StatusWinner Status = "winner"
)

// Option is one answer a viewer can vote for. Voters maps voter ID to the
// option index they chose; it is the source of truth for counts, so a voter
// can change their vote and never be counted twice. Votes is derived from it
// on every read.
type Option struct {
	Label  string         `json:"label"`
	Votes  int            `json:"votes"`
	Voters map[string]int `json:"voters"`
}

// State is the stored poll record.
type State struct {
	ID                 string     `json:"id"`
	Question           string     `json:"question"`
	Options            []Option   `json:"options"`
	StartedAt          time.Time  `json:"startedAt"`
	DurationSeconds    int        `json:"durationSeconds"`
	Status             Status     `json:"status"`
	WinnerIndex        *int       `json:"winnerIndex,omitempty"`
	WinnerDisplayUntil *time.Time `json:"winnerDisplayUntil,omitempty"`
}

// EndsAt returns the instant voting closes.
func (s *State) EndsAt() time.Time {
	return s.StartedAt.Add(time.Duration(s.DurationSeconds) * time.Second)
}

// Expired reports whether the voting timer has elapsed.
func (s *State) Expired(now time.Time) bool {
	return now.After(s.EndsAt())
}

// WinnerExpired reports whether the winner display window has elapsed.
func (s *State) WinnerExpired(now time.Time) bool {
	return s.Status == StatusWinner && s.WinnerDisplayUntil != nil && now.After(*s.WinnerDisplayUntil)
}

// TotalVotes returns the vote count across all options.
func (s *State) TotalVotes() int {
	total := 0
	for i := range s.Options {
		total += s.Options[i].Votes
	}
	return total
}

// normalize recomputes every option's count from its voters map, so a torn
// concurrent write can skew a count only until the next read. Records written
// by external tools may omit the voters maps entirely; those are allocated
// here so a later vote never hits a nil map.
func (s *State) normalize() {
	for i := range s.Options {
		if s.Options[i].Voters == nil {
			s.Options[i].Voters = make(map[string]int)
		}
		s.Options[i].Votes = len(s.Options[i].Voters)
	}
}

// winnerIndex returns the option with the highest vote count. Ties resolve to
// the first-declared option: the scan uses a strict greater-than.
func (s *State) winnerIndex() int {
	best := 0
	for i := 1; i < len(s.Options); i++ {
		if s.Options[i].Votes > s.Options[best].Votes {
			best = i
		}
	}
	return best
}

// QueuedPoll is a pre-built poll awaiting activation, consumed strictly FIFO.
type QueuedPoll struct {
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	DurationSeconds int      `json:"durationSeconds,omitempty"`
}

// validateContent checks question and option labels before anything is
// persisted. Malformed polls are rejected at the edge.
func validateContent(question string, options []string) error {
	if strings.TrimSpace(question) == "" || len(options) < 2 {
		return ErrInvalidPoll
	}
	for _, label := range options {
		if strings.TrimSpace(label) == "" {
			return ErrInvalidPoll
		}
	}
	return nil
}
