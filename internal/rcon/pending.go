package rcon

import (
	"bytes"
	"time"
)

// RequestState tracks a command through its response.
type RequestState int

const (
	RequestAwaiting RequestState = iota
	RequestPartiallyReceived
	RequestComplete
	RequestFailed
)

var requestStateStrings = map[RequestState]string{
	RequestAwaiting:          "awaiting",
	RequestPartiallyReceived: "partially_received",
	RequestComplete:          "complete",
	RequestFailed:            "failed",
}

func (s RequestState) String() string {
	if str, ok := requestStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes the state as a JSON string.
func (s RequestState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// PendingRequest is the command currently on the wire. A Session holds at
// most one.
type PendingRequest struct {
	ID          int32
	ProbeID     int32
	Command     string
	SubmittedAt time.Time

	payload   bytes.Buffer
	fragments int
	state     RequestState
}

func newPendingRequest(id, probeID int32, command string) *PendingRequest {
	return &PendingRequest{
		ID:          id,
		ProbeID:     probeID,
		Command:     command,
		SubmittedAt: time.Now(),
		state:       RequestAwaiting,
	}
}

func (r *PendingRequest) append(body []byte) {
	r.payload.Write(body)
	r.fragments++
	r.state = RequestPartiallyReceived
}

func (r *PendingRequest) complete() string {
	r.state = RequestComplete
	return r.payload.String()
}

func (r *PendingRequest) fail() {
	if r.state != RequestComplete {
		r.state = RequestFailed
	}
}

// PendingInfo is a read-only view of a PendingRequest.
type PendingInfo struct {
	ID        int32        `json:"id"`
	ProbeID   int32        `json:"probe_id"`
	Command   string       `json:"command"`
	State     RequestState `json:"state"`
	Fragments int          `json:"fragments"`
	Received  int          `json:"received_bytes"`
	Age       string       `json:"age"`
}

func (r *PendingRequest) info() PendingInfo {
	return PendingInfo{
		ID:        r.ID,
		ProbeID:   r.ProbeID,
		Command:   r.Command,
		State:     r.state,
		Fragments: r.fragments,
		Received:  r.payload.Len(),
		Age:       time.Since(r.SubmittedAt).Round(time.Millisecond).String(),
	}
}
