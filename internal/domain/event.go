package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RawEvent represents an unprocessed message from the request topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutputEvent is the serialized form destined for the completion topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// ProcessRequest is the wire form of a request, shared by the HTTP API and
// the request topic.
type ProcessRequest struct {
	Date string `json:"date"`
	Lake string `json:"lake"`
}

// Parse validates the wire form into a Request.
func (p ProcessRequest) Parse() (Request, error) {
	t, err := ParseTimestamp(p.Date)
	if err != nil {
		return Request{}, Wrap(KindInvalidRequest, "parse date", err)
	}
	return NewRequest(t, p.Lake)
}

// ParseRawEvent decodes a request message.
func ParseRawEvent(raw RawEvent) (Request, error) {
	var pr ProcessRequest
	if err := json.Unmarshal(raw.Value, &pr); err != nil {
		return Request{}, Wrap(KindInvalidRequest, "decode request", err)
	}
	return pr.Parse()
}

// CompletionStatus is the terminal state of a request.
type CompletionStatus string

const (
	StatusDone     CompletionStatus = "done"
	StatusFailed   CompletionStatus = "failed"
	StatusConflict CompletionStatus = "conflict"
)

// CompletionEvent announces the outcome of a request.
type CompletionEvent struct {
	ID          string           `json:"id"`
	Dirname     string           `json:"dirname"`
	Lake        string           `json:"lake"`
	ValidTime   time.Time        `json:"valid_time"`
	Status      CompletionStatus `json:"status"`
	FilePath    string           `json:"file_path,omitempty"`
	Error       string           `json:"error,omitempty"`
	Attempts    int              `json:"attempts"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// NewCompletionEvent builds the event for a finished Process call.
func NewCompletionEvent(req Request, res Result, err error) CompletionEvent {
	ev := CompletionEvent{
		ID:          uuid.NewString(),
		Dirname:     req.Key(),
		Lake:        req.Lake,
		ValidTime:   req.Hour(),
		Status:      StatusDone,
		FilePath:    res.Path,
		Attempts:    res.Attempts,
		ProcessedAt: clock.Now().UTC(),
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		ev.Status = StatusConflict
		ev.Error = err.Error()
	default:
		ev.Status = StatusFailed
		ev.Error = err.Error()
	}
	return ev
}

// SerializeCompletion encodes a completion event for the completion topic.
func SerializeCompletion(ev CompletionEvent) (OutputEvent, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize completion event: %w", err)
	}
	return OutputEvent{
		Key:   []byte(ev.Dirname),
		Value: data,
		Headers: map[string]string{
			"status":       string(ev.Status),
			"processed_at": ev.ProcessedAt.Format(time.RFC3339),
		},
	}, nil
}
