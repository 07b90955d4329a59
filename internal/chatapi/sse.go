package chatapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeSSEData writes a single `data: <payload>\n\n` frame. payload is
// marshaled as a single JSON line; multi-line bodies are never produced by
// ChatCompletionChunk, so this is simpler than the teacher's multi-line
// WriteSSE and deliberately doesn't support an `event:` field, which the
// OpenAI-compatible chat streaming protocol doesn't use.
func writeSSEData(w http.ResponseWriter, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func writeSSEDone(w http.ResponseWriter) error {
	_, err := fmt.Fprint(w, "data: [DONE]\n\n")
	return err
}

func prepareSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}
