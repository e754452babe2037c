// Package lines carries bridge calls as newline-delimited JSON: one request
// per input line, one response per output line.
package lines

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// maxLine bounds a single request line.
const maxLine = 4 << 20

// Handler processes one request payload. *host.Bridge implements it.
type Handler interface {
	HandleRequest(ctx context.Context, requestPayload []byte) ([]byte, error)
}

// Serve reads requests from r until EOF and writes each response to w.
// Blank lines are skipped.
func Serve(ctx context.Context, h Handler, r io.Reader, w io.Writer, logger zerolog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		resp, err := h.HandleRequest(ctx, line)
		if err != nil {
			return fmt.Errorf("handle request: %w", err)
		}
		if _, err := out.Write(resp); err != nil {
			return err
		}
		if err := out.WriteByte('\n'); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	logger.Debug().Msg("Request stream closed")
	return nil
}
