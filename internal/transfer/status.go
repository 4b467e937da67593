package transfer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
)

const (
	DefaultConcurrency = 5
	HardCap            = 20
)

// State is the live state of a transfer. Done and Error are terminal.
type State string

const (
	StateWaiting     State = "waiting"
	StateDownloading State = "downloading"
	StateDone        State = "done"
	StateError       State = "error"
)

// IsTerminal reports whether no further transitions follow.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateError
}

// Phase is the part of a transfer currently running.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseUpload   Phase = "upload"
)

// Mode selects what a transfer does.
type Mode int

const (
	ModeDownload            Mode = iota // Fetch media into the download directory
	ModeDownloadThenUpload              // Fetch when missing, then back up to the object store
	ModeUpload                          // Back up files already on disk; tracks without one are skipped
)

func (m Mode) String() string {
	switch m {
	case ModeDownload:
		return "download"
	case ModeDownloadThenUpload:
		return "download+upload"
	case ModeUpload:
		return "upload"
	default:
		return ""
	}
}

func (m Mode) uploads() bool {
	return m == ModeDownloadThenUpload || m == ModeUpload
}

// Status is a snapshot of one live transfer.
type Status struct {
	Track       models.Track
	State       State
	Phase       Phase
	Progress    float64 // Overall progress in [0, 1] across both phases
	Transferred int64   // Bytes moved in the current phase
	Total       int64   // Expected bytes in the current phase, 0 when unknown
}

// Event is published on [events.TopicTransferStatus] for every state change and progress step.
type Event struct {
	Key         models.MediaKey `json:"key"`
	Title       string          `json:"title"`
	Artist      string          `json:"artist"`
	State       State           `json:"state"`
	Phase       Phase           `json:"phase,omitempty"`
	Progress    float64         `json:"progress"`
	Transferred int64           `json:"transferred,omitempty"`
	Total       int64           `json:"total,omitempty"`
	Skipped     bool            `json:"skipped,omitempty"` // Upload found the object already present
	Error       string          `json:"error,omitempty"`
	Kind        string          `json:"kind,omitempty"`
}

func (s *Status) event() Event {
	return Event{
		Key:         s.Track.Key(),
		Title:       s.Track.Title,
		Artist:      s.Track.Artist,
		State:       s.State,
		Phase:       s.Phase,
		Progress:    s.Progress,
		Transferred: s.Transferred,
		Total:       s.Total,
	}
}

// Rescale maps a phase-local fraction into the overall range starting at offset and spanning scale.
func Rescale(fraction, offset, scale float64) float64 {
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	return offset + fraction*scale
}

// ClampConcurrency bounds n to [1, HardCap].
func ClampConcurrency(n int) int {
	return min(max(n, 1), HardCap)
}

// ParseConcurrency parses a concurrency setting and clamps it to [1, HardCap].
func ParseConcurrency(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", shared.ErrInvalidConcurrency, s)
	}
	return ClampConcurrency(n), nil
}

// TaskError is the terminal failure of a transfer.
type TaskError struct {
	Key   models.MediaKey
	Phase Phase
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Key, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies the failure for observers.
func (e *TaskError) ErrorKind() string {
	switch {
	case errors.Is(e.Err, shared.ErrCancelled):
		return "cancelled"
	case errors.Is(e.Err, shared.ErrNoPlayableSource):
		return "resolve"
	case errors.Is(e.Err, shared.ErrUploadAfterDownload):
		return "upload_after_download"
	case e.Phase == PhaseUpload:
		return "upload"
	default:
		return "download"
	}
}

// ErrorKind returns the classification of err, or "" when err is not a [*TaskError].
func ErrorKind(err error) string {
	var te *TaskError
	if errors.As(err, &te) {
		return te.ErrorKind()
	}
	return ""
}
