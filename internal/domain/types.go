package domain

import (
	"encoding/json"
	"math"
	"time"
)

// BlinkRecord is one pending observation of the cumulative blink count,
// queued locally until it is uploaded to the backend.
type BlinkRecord struct {
	BlinkCount int    `json:"blink_count"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// Valid reports whether the record may be uploaded. Records that fail
// this check are dropped and never reach the network.
func (r BlinkRecord) Valid() bool {
	return r.BlinkCount >= 0
}

// DecodeQueue decodes a persisted queue leniently: elements that do not
// carry a finite, integral, numeric blink_count are dropped rather than
// failing the whole queue. Returns the decodable records in order and
// the number of elements dropped.
func DecodeQueue(raw []byte) ([]BlinkRecord, int) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, 0
	}
	records := make([]BlinkRecord, 0, len(elems))
	dropped := 0
	for _, elem := range elems {
		var probe struct {
			BlinkCount *float64 `json:"blink_count"`
			Timestamp  string   `json:"timestamp"`
		}
		if err := json.Unmarshal(elem, &probe); err != nil || probe.BlinkCount == nil {
			dropped++
			continue
		}
		v := *probe.BlinkCount
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			dropped++
			continue
		}
		records = append(records, BlinkRecord{
			BlinkCount: int(v),
			Timestamp:  probe.Timestamp,
		})
	}
	return records, dropped
}

// BlinkSample is one point of the rolling on-screen history, recorded
// only when the backend marks the count as changed.
type BlinkSample struct {
	Count           int       `json:"count"`
	LocalTime       time.Time `json:"local_time"`
	ServerTimestamp string    `json:"server_timestamp"`
}

// FrameMessage is one inbound frame on the eye-tracker websocket. The
// backend sends three shapes: an error notice, a stop confirmation, and
// frame data; error notices have no Type.
type FrameMessage struct {
	Type         string `json:"type"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
	BlinkCount   int    `json:"blink_count"`
	BlinkChanged bool   `json:"blink_changed"`
	VideoFrame   string `json:"video_frame,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// UploadedBlink is one row of the user's server-side blink history.
type UploadedBlink struct {
	ID         int    `json:"id"`
	UserID     int    `json:"user_id"`
	BlinkCount int    `json:"blink_count"`
	Timestamp  string `json:"timestamp"`
}

// TrackerState is the lifecycle state of the streaming session.
type TrackerState string

const (
	TrackerIdle       TrackerState = "idle"
	TrackerConnecting TrackerState = "connecting"
	TrackerActive     TrackerState = "active"
)

type EventType string

const (
	EventLoggedIn       EventType = "LoggedIn"
	EventLoggedOut      EventType = "LoggedOut"
	EventRegistered     EventType = "Registered"
	EventSyncCompleted  EventType = "SyncCompleted"
	EventSyncFailed     EventType = "SyncFailed"
	EventTrackerStarted EventType = "TrackerStarted"
	EventTrackerStopped EventType = "TrackerStopped"
	EventTrackerError   EventType = "TrackerError"
)

type Event struct {
	ID        string                 `json:"event_id"`
	Type      EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// Status is the single user-visible status line.
type Status struct {
	Message string    `json:"message"`
	Error   bool      `json:"error"`
	At      time.Time `json:"at"`
}
