package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tomyedwab/sqlbridge/sqlbridge/client"
)

// ErrTruncated is returned after the last row of a truncated result.
var ErrTruncated = errors.New("sqlbridge: result truncated by the bridge")

// OpenDB returns a *sql.DB whose statements run through c. The pool is
// limited to one connection because the bridge has only one.
func OpenDB(c *client.Client) *sql.DB {
	db := sql.OpenDB(&Connector{Client: c})
	db.SetMaxOpenConns(1)
	return db
}

// Connector implements driver.Connector over a bridge client.
type Connector struct {
	Client *client.Client
}

func (c *Connector) Connect(context.Context) (driver.Conn, error) {
	if c.Client == nil {
		return nil, errors.New("sqlbridge: connector has no client")
	}
	return &Conn{client: c.Client}, nil
}

func (c *Connector) Driver() driver.Driver {
	return Driver{}
}

// Driver only exists to satisfy driver.Connector; use OpenDB.
type Driver struct{}

func (Driver) Open(string) (driver.Conn, error) {
	return nil, errors.New("sqlbridge: open databases with driver.OpenDB")
}

// Conn implements driver.Conn.
type Conn struct {
	client *client.Client
	inTx   bool
}

func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{conn: c, query: query}, nil
}

// Close does not close the bridge's database.
func (c *Conn) Close() error {
	return nil
}

func (c *Conn) Begin() (driver.Tx, error) {
	if c.inTx {
		return nil, errors.New("sqlbridge: transaction already active on this connection")
	}
	if err := c.client.ExecBatch("BEGIN"); err != nil {
		return nil, err
	}
	c.inTx = true
	return &Tx{conn: c}, nil
}

// Stmt implements driver.Stmt. Nothing is prepared on the bridge; the query
// text is sent with every execution.
type Stmt struct {
	conn  *Conn
	query string
}

func (s *Stmt) Close() error {
	return nil
}

func (s *Stmt) NumInput() int {
	return -1
}

// Exec runs the statement, then asks the same connection for changes() and
// last_insert_rowid().
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	params, err := formatArgs(args)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		err = s.conn.client.ExecBatch(s.query)
	} else {
		_, _, err = s.conn.client.QueryArray(s.query, params...)
	}
	if err != nil {
		return nil, err
	}

	rows, _, err := s.conn.client.QueryArray("SELECT changes(), last_insert_rowid()")
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 || len(rows[0]) != 2 {
		return nil, errors.New("sqlbridge: unexpected shape for changes() result")
	}
	var res result
	if res.rowsAffected, err = parseInt(rows[0][0]); err != nil {
		return nil, err
	}
	if res.lastInsertID, err = parseInt(rows[0][1]); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	params, err := formatArgs(args)
	if err != nil {
		return nil, err
	}
	data, truncated, err := s.conn.client.QueryArray(s.query, params...)
	if err != nil {
		return nil, err
	}
	width := 0
	if len(data) > 0 {
		width = len(data[0])
	}
	cols := make([]string, width)
	for i := range cols {
		cols[i] = "column" + strconv.Itoa(i+1)
	}
	return &rows{columns: cols, data: data, truncated: truncated}, nil
}

// Tx implements driver.Tx.
type Tx struct {
	conn *Conn
	done bool
}

func (t *Tx) Commit() error {
	return t.finish("COMMIT")
}

func (t *Tx) Rollback() error {
	return t.finish("ROLLBACK")
}

func (t *Tx) finish(stmt string) error {
	if t.done {
		return errors.New("sqlbridge: transaction already committed or rolled back")
	}
	t.done = true
	t.conn.inTx = false
	return t.conn.client.ExecBatch(stmt)
}

type result struct {
	lastInsertID int64
	rowsAffected int64
}

func (r result) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r result) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type rows struct {
	columns   []string
	data      [][]*string
	pos       int
	truncated bool
}

func (r *rows) Columns() []string {
	return r.columns
}

func (r *rows) Close() error {
	r.data = nil
	return nil
}

func (r *rows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		if r.truncated {
			return ErrTruncated
		}
		return io.EOF
	}
	row := r.data[r.pos]
	if len(row) != len(dest) {
		return fmt.Errorf("sqlbridge: column count mismatch, expected %d, got %d", len(dest), len(row))
	}
	for i, v := range row {
		if v == nil {
			dest[i] = nil
		} else {
			dest[i] = *v
		}
	}
	r.pos++
	return nil
}

// formatArgs renders driver values as the text the bridge binds. NULL has
// no text form, so it is rejected.
func formatArgs(args []driver.Value) ([]string, error) {
	out := make([]string, len(args))
	for i, v := range args {
		switch val := v.(type) {
		case nil:
			return nil, fmt.Errorf("sqlbridge: argument %d is NULL; the bridge only binds text", i+1)
		case string:
			out[i] = val
		case []byte:
			out[i] = string(val)
		case int64:
			out[i] = strconv.FormatInt(val, 10)
		case float64:
			out[i] = strconv.FormatFloat(val, 'g', -1, 64)
		case bool:
			if val {
				out[i] = "1"
			} else {
				out[i] = "0"
			}
		case time.Time:
			out[i] = val.Format(time.RFC3339Nano)
		default:
			return nil, fmt.Errorf("sqlbridge: unsupported argument type %T", v)
		}
	}
	return out, nil
}

func parseInt(s *string) (int64, error) {
	if s == nil {
		return 0, nil
	}
	return strconv.ParseInt(*s, 10, 64)
}
