package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SetHeaders prepares a response for event streaming.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
}

// WriteFrame writes v as a single data line followed by a blank line.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s %s\n\n", DataPrefix, data); err != nil {
		return err
	}
	flush(w)
	return nil
}

// WriteComment writes a comment line, used as a keep-alive.
func WriteComment(w io.Writer, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	flush(w)
	return nil
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// WriteDone writes the end-of-stream sentinel.
func WriteDone(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s %s\n\n", DataPrefix, DoneSentinel); err != nil {
		return err
	}
	flush(w)
	return nil
}
