package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/switchboard/internal/hub"
)

const (
	// streamBuffer is how far a client may fall behind before it is dropped.
	streamBuffer   = 64
	pingInterval   = 30 * time.Second
	readTimeout    = 60 * time.Second
	writeTimeout   = 5 * time.Second
	sseHeartbeat   = 15 * time.Second
	wsReadLimit    = 4096
	defaultSSEName = "message"
)

var errSlowConsumer = errors.New("api: event buffer full")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamSubscriber queues hub payloads for one connection. A full queue
// fails Send, the hub drops the subscriber and dropped is closed so the
// connection ends instead of silently missing events.
type streamSubscriber struct {
	ch      chan []byte
	dropped chan struct{}
	once    sync.Once
}

func newStreamSubscriber() *streamSubscriber {
	return &streamSubscriber{
		ch:      make(chan []byte, streamBuffer),
		dropped: make(chan struct{}),
	}
}

func (s *streamSubscriber) Send(payload []byte) error {
	select {
	case s.ch <- payload:
		return nil
	default:
		s.once.Do(func() { close(s.dropped) })
		return errSlowConsumer
	}
}

func (s *Server) channelParam(c *gin.Context) (string, bool) {
	channel := c.Param("channel")
	if !hub.ValidChannel(channel) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown channel %q", channel)})
		return "", false
	}
	return channel, true
}

// handleEventsWS streams a hub channel over a WebSocket. Client frames are
// read only to service pongs and detect disconnects.
func (s *Server) handleEventsWS(c *gin.Context) {
	channel, ok := s.channelParam(c)
	if !ok {
		return
	}
	sub := newStreamSubscriber()
	unsubscribe := s.hub.Subscribe(channel, sub)
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("api: websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	admin := currentOperator(c)
	s.logger.Info("api: websocket subscribed", "channel", channel, "admin_id", admin.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-done:
			return
		case <-sub.dropped:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
				time.Now().Add(writeTimeout))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case payload := <-sub.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// handleEventsSSE streams a hub channel as server-sent events.
func (s *Server) handleEventsSSE(c *gin.Context) {
	channel, ok := s.channelParam(c)
	if !ok {
		return
	}
	sub := newStreamSubscriber()
	unsubscribe := s.hub.Subscribe(channel, sub)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeSSE(c.Writer, "connected", map[string]string{"channel": channel})
	c.Writer.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.dropped:
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case payload := <-sub.ch:
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventName(payload), payload)
			c.Writer.Flush()
		}
	}
}

// eventName reads the "event" field of an encoded hub payload.
func eventName(payload []byte) string {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Event == "" {
		return defaultSSEName
	}
	return head.Event
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
}
