// Package feed pushes newly recorded execution rows to connected browsers
// over websockets.
package feed

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/louisbranch/benchhistory/internal/platform/timeouts"
	"github.com/louisbranch/benchhistory/internal/services/shared/i18nhttp"
	"golang.org/x/net/websocket"
	"golang.org/x/text/language"
)

const (
	// FrameReady is sent once a connection is subscribed.
	FrameReady = "feed.ready"
	// FrameExecutionRecorded carries one rendered row.
	FrameExecutionRecorded = "execution.recorded"
	// FramePing and FramePong keep idle connections alive.
	FramePing = "ping"
	FramePong = "pong"

	maxDecodeErrorsPerConn = 3
	peerSendBuffer         = 16
)

// Frame is the JSON envelope exchanged on the feed.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RecordedPayload is the payload of an execution.recorded frame.
type RecordedPayload struct {
	UUID string `json:"uuid"`
	HTML string `json:"html"`
}

// RenderFunc renders a row's HTML in the given language.
type RenderFunc func(tag language.Tag) (string, error)

type peer struct {
	conn    *websocket.Conn
	encoder *json.Encoder
	tag     language.Tag
	send    chan Frame
	done    chan struct{}
	once    sync.Once
}

func newPeer(conn *websocket.Conn, tag language.Tag) *peer {
	return &peer{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		tag:     tag,
		send:    make(chan Frame, peerSendBuffer),
		done:    make(chan struct{}),
	}
}

// enqueue hands frame to the peer's writer without blocking. It reports
// false when the peer is closed or its buffer is full.
func (p *peer) enqueue(frame Frame) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

// writeLoop is the only goroutine that writes to the connection.
func (p *peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(timeouts.FeedWrite))
			if err := p.encoder.Encode(frame); err != nil {
				p.close()
				return
			}
		}
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// Hub tracks connected peers and broadcasts rows to them.
type Hub struct {
	mu     sync.Mutex
	peers  map[*peer]struct{}
	closed bool
	conns  sync.WaitGroup
	logger *log.Logger
}

// NewHub returns an empty hub. A nil logger uses the standard logger.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		peers:  make(map[*peer]struct{}),
		logger: logger,
	}
}

// Handler returns the websocket endpoint. Each connection receives rows
// rendered in the language resolved from its upgrade request.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serveConn)
}

// Subscribers returns the number of connected peers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Publish renders the row once per connected language and queues it as an
// execution.recorded frame. It never waits on a peer's socket: peers whose
// send buffer is full are dropped.
func (h *Hub) Publish(uuid string, render RenderFunc) {
	if render == nil {
		return
	}
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	if len(peers) == 0 {
		return
	}

	frames := make(map[language.Tag]Frame)
	for _, p := range peers {
		frame, ok := frames[p.tag]
		if !ok {
			html, err := render(p.tag)
			if err != nil {
				h.logger.Printf("feed render failed uuid=%s lang=%s err=%v", uuid, p.tag, err)
				continue
			}
			payload, err := json.Marshal(RecordedPayload{UUID: uuid, HTML: html})
			if err != nil {
				h.logger.Printf("feed encode failed uuid=%s err=%v", uuid, err)
				return
			}
			frame = Frame{Type: FrameExecutionRecorded, Payload: payload}
			frames[p.tag] = frame
		}
		if !p.enqueue(frame) {
			h.logger.Printf("feed peer dropped uuid=%s lang=%s reason=slow", uuid, p.tag)
			h.leave(p)
			p.close()
		}
	}
}

// Close disconnects every peer, refuses new connections and waits for the
// connection handlers to return.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	clear(h.peers)
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	h.conns.Wait()
}

func (h *Hub) serveConn(conn *websocket.Conn) {
	tag := i18nhttp.Default()
	if request := conn.Request(); request != nil {
		tag, _ = i18nhttp.ResolveTag(request)
	}
	p := newPeer(conn, tag)
	if !h.join(p) {
		_ = conn.Close()
		return
	}
	defer h.conns.Done()
	defer h.leave(p)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		p.writeLoop()
	}()
	defer func() {
		p.close()
		<-writerDone
	}()

	if !p.enqueue(Frame{Type: FrameReady}) {
		return
	}

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || isClosed(p) {
				return
			}
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0
		if frame.Type == FramePing {
			if !p.enqueue(Frame{Type: FramePong}) {
				return
			}
		}
	}
}

func isClosed(p *peer) bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (h *Hub) join(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.peers[p] = struct{}{}
	h.conns.Add(1)
	return true
}

func (h *Hub) leave(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
}
