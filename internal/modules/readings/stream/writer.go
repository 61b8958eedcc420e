package stream

import (
	"errors"
	"net/http"
	"time"
)

// EventWriter is the client side of a session.
type EventWriter interface {
	// Open sends the event-stream response headers.
	Open() error
	// Write sends one framed event and flushes it.
	Write(event []byte) error
}

type httpEventWriter struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
}

// NewHTTPEventWriter streams events over w. Each write must complete within
// writeTimeout when the underlying connection supports deadlines.
func NewHTTPEventWriter(w http.ResponseWriter, writeTimeout time.Duration) EventWriter {
	return &httpEventWriter{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
	}
}

func (h *httpEventWriter) Open() error {
	header := h.w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	h.w.WriteHeader(http.StatusOK)
	return h.flush()
}

func (h *httpEventWriter) Write(event []byte) error {
	if h.writeTimeout > 0 {
		err := h.rc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if _, err := h.w.Write(event); err != nil {
		return err
	}
	return h.flush()
}

func (h *httpEventWriter) flush() error {
	if err := h.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
