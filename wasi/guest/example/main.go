//go:build wasip1

// Command example is a guest script that exercises every bridge operation.
// Build it with
//
//	GOOS=wasip1 GOARCH=wasm go build -o example.wasm ./wasi/guest/example
//
// and run it with `sqlbridge serve-wasm --module example.wasm --db notes.db --create`.
package main

import (
	"fmt"
	"os"

	"github.com/tomyedwab/sqlbridge/sqlbridge/driver"
	"github.com/tomyedwab/sqlbridge/wasi/guest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "example: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	c := guest.NewClient()

	err := c.ExecBatch(
		"CREATE TABLE IF NOT EXISTS notes (id INTEGER PRIMARY KEY, body TEXT)",
		"INSERT INTO notes (body) VALUES ('first'), ('second'), (NULL)",
	)
	if err != nil {
		return err
	}

	count, err := c.QueryScalar("SELECT count(*) FROM notes")
	if err != nil {
		return err
	}
	fmt.Printf("notes: %s\n", deref(count))

	rows, truncated, err := c.QueryArray("SELECT id, body FROM notes WHERE id >= ? ORDER BY id", "1")
	if err != nil {
		return err
	}
	for _, row := range rows {
		fmt.Printf("%s\t%s\n", deref(row[0]), deref(row[1]))
	}
	if truncated {
		fmt.Println("(result truncated)")
	}

	db := driver.OpenDB(c)
	defer db.Close()
	var withBody int
	if err := db.QueryRow("SELECT count(*) FROM notes WHERE body IS NOT NULL").Scan(&withBody); err != nil {
		return err
	}
	fmt.Printf("notes with a body: %d\n", withBody)
	return c.Close()
}

func deref(s *string) string {
	if s == nil {
		return "NULL"
	}
	return *s
}
