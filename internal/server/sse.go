package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/strandworks/strand/pkg/models"
)

// defaultKeepAlive is the SSE comment interval on an idle stream.
const defaultKeepAlive = 30 * time.Second

// doneFrame terminates every SSE stream.
const doneFrame = "data: [DONE]\n\n"

// streamSSE writes the SSE protocol: a connected handshake, optional
// replayed chunks, then live chunks until the channel closes or the
// client goes away. Keep-alive comments flow while the stream is idle.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request,
	live <-chan *models.StreamChunk, replay []*models.StreamChunk) {

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for _, chunk := range replay {
		writeChunk(w, chunk)
	}
	if len(replay) > 0 {
		flusher.Flush()
	}

	interval := s.cfg.KeepAliveInterval
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	keepAlive := time.NewTicker(interval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case chunk, open := <-live:
			if !open {
				fmt.Fprint(w, doneFrame)
				flusher.Flush()
				return
			}
			writeChunk(w, chunk)
			flusher.Flush()
			keepAlive.Reset(interval)
		}
	}
}

// writeChunk encodes one chunk as an SSE frame: event: <type>, data:
// <json>.
func writeChunk(w http.ResponseWriter, chunk *models.StreamChunk) {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", chunk.Type, payload)
}
