// Package tracker manages the live eye-tracking session: a websocket
// stream of frame data from the backend, the rolling on-screen history,
// and the dual-channel stop handshake.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"blinkd/internal/buffer"
	"blinkd/internal/domain"
	"blinkd/internal/events"
	"blinkd/internal/store"
)

var ErrAlreadyRunning = errors.New("tracker session already running")
var ErrNotLoggedIn = errors.New("not logged in")

// Syncer schedules a debounced sync after counts are buffered.
type Syncer interface {
	ScheduleSync()
}

// RestStopper is the out-of-band stop channel: a REST call telling the
// backend to release the camera. It is issued in addition to the
// in-band websocket stop command because either channel alone might not
// reach the backend.
type RestStopper interface {
	StopTracker(ctx context.Context, token string) (string, error)
}

// Snapshot is the display state the dashboard polls.
type Snapshot struct {
	State           domain.TrackerState  `json:"state"`
	BlinkCount      int                  `json:"blink_count"`
	StartedAt       time.Time            `json:"started_at,omitempty"`
	SessionSeconds  float64              `json:"session_seconds"`
	BlinksPerMinute float64              `json:"blinks_per_minute"`
	LastUpdate      time.Time            `json:"last_update,omitempty"`
	VideoFrame      string               `json:"video_frame,omitempty"`
	History         []domain.BlinkSample `json:"history"`
}

type Controller struct {
	wsBaseURL    string
	st           store.Store
	buf          *buffer.Buffer
	syncer       Syncer
	rest         RestStopper
	log          *events.Log
	bufferEvery  int
	historyLimit int

	mu           sync.Mutex
	state        domain.TrackerState
	conn         *websocket.Conn
	closedByUser bool
	startedAt    time.Time
	blinkCount   int
	videoFrame   string
	lastUpdate   time.Time
	history      []domain.BlinkSample
}

func NewController(wsBaseURL string, st store.Store, buf *buffer.Buffer, syncer Syncer, rest RestStopper, evlog *events.Log, bufferEvery, historyLimit int) *Controller {
	if bufferEvery <= 0 {
		bufferEvery = 5
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Controller{
		wsBaseURL:    wsBaseURL,
		st:           st,
		buf:          buf,
		syncer:       syncer,
		rest:         rest,
		log:          evlog,
		bufferEvery:  bufferEvery,
		historyLimit: historyLimit,
		state:        domain.TrackerIdle,
	}
}

// Start opens the per-user streaming session. The bearer token is
// embedded in the connection URI, as the backend contract demands.
// There is no automatic reconnect: a dropped session stays Idle until
// the user starts again.
func (c *Controller) Start(ctx context.Context) error {
	token, err := c.st.LoadToken()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.log.SetStatus("Please login first", true)
			return ErrNotLoggedIn
		}
		c.log.SetStatus("Could not read saved credentials", true)
		return fmt.Errorf("load token: %w", err)
	}

	c.mu.Lock()
	if c.state != domain.TrackerIdle {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = domain.TrackerConnecting
	c.closedByUser = false
	c.mu.Unlock()

	c.log.SetStatus("Connecting to eye tracker...", false)

	url := c.wsBaseURL + "/ws/eye-tracker/" + token
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = domain.TrackerIdle
		c.mu.Unlock()
		c.log.SetStatus("WebSocket connection failed - click Start to retry", true)
		return fmt.Errorf("dial eye tracker: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = domain.TrackerActive
	c.startedAt = time.Now()
	c.blinkCount = 0
	c.videoFrame = ""
	c.lastUpdate = time.Time{}
	c.history = nil
	c.mu.Unlock()

	c.log.Append(domain.EventTrackerStarted, nil)
	c.log.SetStatus("Live eye tracking started - video streaming", false)

	go c.readLoop(conn)
	return nil
}

func (c *Controller) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(err)
			return
		}
		var msg domain.FrameMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("unparseable tracker message: %v", err)
			c.log.SetStatus("Error processing video data", true)
			continue
		}
		switch {
		case msg.Error != "":
			c.log.Append(domain.EventTrackerError, map[string]interface{}{"error": msg.Error})
			c.log.SetStatus("Error: "+msg.Error, true)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.Stop(ctx)
			cancel()
			return
		case msg.Type == "stop_confirmed":
			c.log.SetStatus("Eye tracker stopped - camera released on server", false)
		case msg.Type == "frame_data":
			c.handleFrame(msg)
		default:
			log.Printf("ignoring tracker message of type %q", msg.Type)
		}
	}
}

func (c *Controller) handleFrame(msg domain.FrameMessage) {
	c.mu.Lock()
	c.blinkCount = msg.BlinkCount
	if msg.VideoFrame != "" {
		c.videoFrame = msg.VideoFrame
	}
	c.lastUpdate = time.Now()

	changed := msg.BlinkChanged
	if changed {
		c.history = append(c.history, domain.BlinkSample{
			Count:           msg.BlinkCount,
			LocalTime:       time.Now(),
			ServerTimestamp: msg.Timestamp,
		})
		if len(c.history) > c.historyLimit {
			c.history = c.history[len(c.history)-c.historyLimit:]
		}
	}
	count := c.blinkCount
	c.mu.Unlock()

	c.log.SetStatus(fmt.Sprintf("Tracking active - Blinks: %d", count), false)

	// Buffer every Nth changed count (and the very first) so the
	// upload endpoint is not hammered once per blink.
	if changed && (count == 1 || count%c.bufferEvery == 0) {
		if c.buf.Append(domain.BlinkRecord{BlinkCount: count}) {
			c.syncer.ScheduleSync()
		}
	}
}

func (c *Controller) handleClosed(err error) {
	c.mu.Lock()
	byUser := c.closedByUser
	alreadyIdle := c.state == domain.TrackerIdle
	c.state = domain.TrackerIdle
	c.conn = nil
	c.mu.Unlock()

	if alreadyIdle {
		return
	}
	if byUser || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.log.Append(domain.EventTrackerStopped, nil)
		c.log.SetStatus("Eye tracker stopped - ready to restart", false)
		return
	}
	log.Printf("tracker connection lost: %v", err)
	c.log.Append(domain.EventTrackerError, map[string]interface{}{"error": err.Error()})
	c.log.SetStatus("Connection lost - click Start to reconnect", true)
}

// Stop ends the session over both channels: a stop command on the still
// open socket followed by a normal closure, plus the REST stop call so
// the camera is released even if the socket is already half-closed.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.state == domain.TrackerIdle {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.closedByUser = true
	c.state = domain.TrackerIdle
	c.blinkCount = 0
	c.videoFrame = ""
	c.history = nil
	c.startedAt = time.Time{}
	c.mu.Unlock()

	if conn != nil {
		stopCmd := map[string]string{
			"type":    "stop_command",
			"message": "User requested stop",
		}
		if err := conn.WriteJSON(stopCmd); err != nil {
			log.Printf("send stop command: %v", err)
		}
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "User stopped tracking")
		if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil {
			log.Printf("send close frame: %v", err)
		}
		_ = conn.Close()
	}

	if token, err := c.st.LoadToken(); err == nil {
		if _, err := c.rest.StopTracker(ctx, token); err != nil {
			log.Printf("rest stop failed: %v", err)
			c.log.SetStatus("Eye tracker stopped locally (check server)", false)
		} else {
			c.log.SetStatus("Eye tracker stopped - camera released on server", false)
		}
	}

	c.log.Append(domain.EventTrackerStopped, nil)
}

func (c *Controller) State() domain.TrackerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current display state, history included.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:      c.state,
		BlinkCount: c.blinkCount,
		StartedAt:  c.startedAt,
		LastUpdate: c.lastUpdate,
		VideoFrame: c.videoFrame,
		History:    append([]domain.BlinkSample(nil), c.history...),
	}
	if !c.startedAt.IsZero() {
		elapsed := time.Since(c.startedAt).Seconds()
		snap.SessionSeconds = elapsed
		if elapsed > 0 {
			snap.BlinksPerMinute = float64(c.blinkCount) / elapsed * 60
		}
	}
	return snap
}
