// Package websocket provides the in-process WebSocket broadcaster for
// binlogd's per-job decode progress feed. The Broadcaster fans progress and
// completion events out to every browser client watching a given job without
// blocking the decode goroutine that produces them.
//
// Design notes
//
//   - Each connected client has a dedicated buffered channel of JSON-encoded
//     frames. A non-blocking send means a slow or disconnected client never
//     applies back-pressure to the decode goroutine driving the job.
//   - Clients are grouped by job ID so a progress event for one job is never
//     delivered to clients watching another.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ProgressMessage is the JSON envelope pushed to browser clients watching a
// job. Type is "progress" for an in-flight update and "done" for the
// terminal frame. Sending "done" does not close the connection; it stays
// open until the client disconnects or the client is unregistered.
type ProgressMessage struct {
	Type           string `json:"type"`
	JobID          string `json:"job_id"`
	RecordsDecoded int    `json:"records_decoded,omitempty"`
	Stats          any    `json:"stats,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Client represents a single connected WebSocket client watching one job.
type Client struct {
	id      string
	jobID   string
	send    chan []byte
	Dropped atomic.Int64
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Send returns a receive-only channel on which JSON-encoded frames are
// delivered. The channel is closed when the client is unregistered.
func (c *Client) Send() <-chan []byte { return c.send }

// Broadcaster fans ProgressMessage events out to every client currently
// registered against a job ID. It is safe for concurrent use.
type Broadcaster struct {
	mu   sync.RWMutex
	jobs map[string]map[string]*Client

	bufSize int
	logger  *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewBroadcaster creates a Broadcaster. bufSize is the per-client channel
// buffer depth; a value <= 0 uses a default of 32.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Broadcaster{
		jobs:    make(map[string]map[string]*Client),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Register creates a new Client watching jobID and returns it. The caller
// must call Unregister when the client disconnects.
func (b *Broadcaster) Register(jobID, clientID string) *Client {
	c := &Client{
		id:    clientID,
		jobID: jobID,
		send:  make(chan []byte, b.bufSize),
	}
	if b.closed.Load() {
		close(c.send)
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	clients, ok := b.jobs[jobID]
	if !ok {
		clients = make(map[string]*Client)
		b.jobs[jobID] = clients
	}
	clients[clientID] = c
	return c
}

// Unregister removes the client and closes its Send channel so the
// associated write goroutine exits cleanly. A call for an unknown
// (jobID, clientID) pair is a no-op.
func (b *Broadcaster) Unregister(jobID, clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	clients, ok := b.jobs[jobID]
	if !ok {
		return
	}
	c, ok := clients[clientID]
	if !ok {
		return
	}
	delete(clients, clientID)
	if len(clients) == 0 {
		delete(b.jobs, jobID)
	}
	close(c.send)
}

// ClientCount returns the number of clients currently watching jobID.
func (b *Broadcaster) ClientCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.jobs[jobID])
}

// Publish marshals msg and delivers it to every client watching msg.JobID
// using a non-blocking send; a client whose buffer is full has the message
// dropped and its Dropped counter incremented.
func (b *Broadcaster) Publish(msg ProgressMessage) {
	if b.closed.Load() {
		return
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("websocket broadcaster: marshal failed", slog.Any("error", err))
		return
	}

	b.mu.RLock()
	clients := b.jobs[msg.JobID]
	targets := make([]*Client, 0, len(clients))
	for _, c := range clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- raw:
		default:
			c.Dropped.Add(1)
			b.logger.Warn("websocket broadcaster: client buffer full, dropping frame",
				slog.String("client_id", c.id),
				slog.String("job_id", msg.JobID),
			)
		}
	}
}

// Close unregisters and closes every client's channel. After Close returns,
// Publish is a no-op and Register returns an already-closed client.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.mu.Lock()
		defer b.mu.Unlock()
		for jobID, clients := range b.jobs {
			for id, c := range clients {
				close(c.send)
				delete(clients, id)
			}
			delete(b.jobs, jobID)
		}
	})
}
