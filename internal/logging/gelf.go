package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGELFHandler returns a handler shipping each record to a Graylog GELF UDP
// input at addr. The returned closer releases the socket.
func NewGELFHandler(addr, level string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("gelf writer for %s: %w", addr, err)
	}
	return slog.NewTextHandler(w, handlerOptions(parseLevel(level))), w, nil
}
