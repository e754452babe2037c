// Package encode turns result rows into the JSON payloads returned to
// callers.
//
// Array results are written by a RowWriter that keeps a running byte count.
// Once the aggregate grows past the writer's limit it stops accepting rows,
// so a large result comes back as a valid prefix instead of an error. The
// transport to the caller fails on payloads of roughly 12000 characters.
package encode

import (
	"bytes"
	"database/sql"
	"encoding/json"
)

// DefaultLimit is the aggregate size after which no further rows are added.
const DefaultLimit = 7000

var null = []byte("null")

// Result is an encoded array of rows.
type Result struct {
	Data      json.RawMessage
	Rows      int  // rows included in Data
	Truncated bool // rows were left unconsumed because the limit was reached
}

// RowWriter builds an array of row arrays under a byte budget. The zero
// value has no limit.
type RowWriter struct {
	limit int
	buf   bytes.Buffer
	enc   *json.Encoder
	rows  int
	full  bool
}

// NewRowWriter returns a writer that stops accepting rows once the
// aggregate exceeds limit bytes. A limit <= 0 disables the check.
func NewRowWriter(limit int) *RowWriter {
	return &RowWriter{limit: limit}
}

// WriteRow appends one row and reports whether the writer will accept
// another. The row that crosses the limit is kept.
func (w *RowWriter) WriteRow(cols []sql.NullString) bool {
	if w.full {
		return false
	}
	if w.buf.Len() == 0 {
		w.buf.WriteByte('[')
	} else {
		w.buf.WriteByte(',')
	}
	w.buf.WriteByte('[')
	for i, col := range cols {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		w.writeScalar(col)
	}
	w.buf.WriteByte(']')
	w.rows++

	if w.limit > 0 && w.buf.Len() > w.limit {
		w.full = true
	}
	return !w.full
}

// Finish closes the aggregate. A writer that saw no rows yields "[]".
func (w *RowWriter) Finish() Result {
	if w.buf.Len() == 0 {
		w.buf.WriteByte('[')
	}
	w.buf.WriteByte(']')
	data := make(json.RawMessage, w.buf.Len())
	copy(data, w.buf.Bytes())
	return Result{Data: data, Rows: w.rows}
}

func (w *RowWriter) writeScalar(v sql.NullString) {
	if !v.Valid {
		w.buf.Write(null)
		return
	}
	if w.enc == nil {
		w.enc = json.NewEncoder(&w.buf)
		w.enc.SetEscapeHTML(false)
	}
	// Encoding a string cannot fail.
	_ = w.enc.Encode(v.String)
	w.buf.Truncate(w.buf.Len() - 1) // Encode appends a newline
}

// Scalar encodes a single nullable value.
func Scalar(v sql.NullString) json.RawMessage {
	var w RowWriter
	w.writeScalar(v)
	return json.RawMessage(w.buf.Bytes())
}
