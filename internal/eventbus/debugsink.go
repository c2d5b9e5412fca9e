package eventbus

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// DebugSink writes events to a writer as they're published, either as
// human-readable text or as one JSON object per line. Adapted from the
// teacher's emit.LogEmitter dual-mode writer; installed on the Bus via
// SetDebugSink as the fallback observed when no SSE client is connected.
type DebugSink struct {
	writer   io.Writer
	jsonMode bool
}

// NewDebugSink builds a DebugSink writing to writer (os.Stderr if nil).
func NewDebugSink(writer io.Writer, jsonMode bool) *DebugSink {
	if writer == nil {
		writer = os.Stderr
	}
	return &DebugSink{writer: writer, jsonMode: jsonMode}
}

// Send writes one line describing event. It never returns an error for a
// working writer, so the bus never evicts it as dead.
func (d *DebugSink) Send(event Event) error {
	if d.jsonMode {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(d.writer, "%s\n", data)
		return err
	}
	_, err := fmt.Fprintf(d.writer, "[%s] exchangeId=%s routeId=%s\n", event.Type, event.ExchangeID, event.RouteID)
	return err
}
