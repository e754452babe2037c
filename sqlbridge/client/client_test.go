package client

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomyedwab/sqlbridge/sqlbridge/host"
)

func newTestClient(t *testing.T) *Client {
	b := host.NewDefault(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return New(func(req []byte) ([]byte, error) {
		return b.HandleRequest(context.Background(), req)
	})
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	path := filepath.Join(t.TempDir(), "client.db")

	if err := c.Open("file://"+path, true); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := c.ExecBatch(
		"CREATE TABLE notes(id INTEGER PRIMARY KEY, body TEXT)",
		`INSERT INTO notes(body) VALUES ('first'), ('with "quotes"'), (NULL)`,
	); err != nil {
		t.Fatalf("ExecBatch failed: %v", err)
	}

	rows, truncated, err := c.QueryArray("SELECT id, body FROM notes ORDER BY id")
	if err != nil {
		t.Fatalf("QueryArray failed: %v", err)
	}
	if truncated {
		t.Error("Unexpected truncation")
	}
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	if *rows[0][0] != "1" || *rows[1][1] != `with "quotes"` || rows[2][1] != nil {
		t.Errorf("Unexpected rows: %v %v %v", rows[0], rows[1], rows[2])
	}

	v, err := c.QueryScalar("SELECT body FROM notes WHERE id = ?", "1")
	if err != nil {
		t.Fatalf("QueryScalar failed: %v", err)
	}
	if v == nil || *v != "first" {
		t.Errorf("Expected first, got %v", v)
	}

	v, err = c.QueryScalar("SELECT body FROM notes WHERE id = ?", "99")
	if err != nil {
		t.Fatalf("QueryScalar failed: %v", err)
	}
	if v != nil {
		t.Errorf("Expected nil for no rows, got %q", *v)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}

func TestClientHostError(t *testing.T) {
	c := newTestClient(t)

	err := c.Open(filepath.Join(t.TempDir(), "missing.db"), false)
	var hostErr *HostError
	if !errors.As(err, &hostErr) {
		t.Fatalf("Expected HostError, got %v", err)
	}
	if hostErr.Kind != "engine_failure" || hostErr.Message == "" {
		t.Errorf("Unexpected host error %+v", hostErr)
	}

	_, err = c.QueryScalar("SELECT 1")
	if !errors.As(err, &hostErr) || hostErr.Kind != "engine_failure" {
		t.Errorf("Expected engine failure without a connection, got %v", err)
	}
}

func TestClientTransportError(t *testing.T) {
	c := New(func([]byte) ([]byte, error) { return nil, errors.New("pipe closed") })
	if err := c.Close(); err == nil {
		t.Fatal("Expected transport error")
	}

	c = New(func([]byte) ([]byte, error) { return []byte("garbage"), nil })
	if err := c.Close(); err == nil {
		t.Fatal("Expected decode error")
	}

	c = New(nil)
	if err := c.Close(); err == nil {
		t.Fatal("Expected error without CallHost")
	}
}
