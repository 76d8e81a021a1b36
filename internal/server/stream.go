package server

import (
	"encoding/json"
	"strconv"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/farid/autostrike/internal/session"
)

// streamEvents is the push adapter: it replays the session's event log from
// the client's last seen sequence number, then streams new events as they
// are appended. Replay makes terminal-event delivery at-least-once: a client
// that reconnects after a drop catches up from where it left off, or falls
// back to the poll endpoint.
func (s *Server) streamEvents(c *gin.Context) {
	m, err := s.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	lastSeq := parseLastSeq(c)

	log := m.Events()
	ch, cancel := log.Subscribe(64)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Flush()

	// Replay history the client has not seen. Events appended between
	// Since and Subscribe arrive on the channel too; the seq guard below
	// drops the duplicates.
	for _, ev := range log.Since(lastSeq) {
		if !writeEvent(c, ev) {
			return
		}
		lastSeq = ev.Seq
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Seq <= lastSeq {
				continue
			}
			if !writeEvent(c, ev) {
				return
			}
			lastSeq = ev.Seq
		case <-c.Request.Context().Done():
			return
		}
	}
}

// writeEvent encodes one event; returns false when the client is gone.
func writeEvent(c *gin.Context, ev session.Event) bool {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return true
	}

	err = sse.Encode(c.Writer, sse.Event{
		Id:    strconv.FormatInt(ev.Seq, 10),
		Event: string(ev.Type),
		Data:  string(payload),
	})
	if err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

// parseLastSeq honors both the standard Last-Event-ID header and an
// explicit ?last_seq query parameter.
func parseLastSeq(c *gin.Context) int64 {
	raw := c.GetHeader("Last-Event-ID")
	if q := c.Query("last_seq"); q != "" {
		raw = q
	}
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
