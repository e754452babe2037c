// Package driver exposes a bridge client as a database/sql database so
// guest code can use *sql.DB instead of the raw client calls.
//
// Usage:
//
//	db := driver.OpenDB(guest.NewClient())
//	defer db.Close()
//	rows, err := db.Query("SELECT id, name FROM users WHERE id > ?", 10)
//
// The bridge only speaks text parameters, so arguments are formatted as
// strings before they are sent and every non-NULL column comes back as a
// string. database/sql converts them on Scan.
//
// Limitations:
//
//   - The bridge reports no column names; Columns returns column1, column2
//     and so on, sized from the first row.
//   - A result cut short by the bridge's size limit ends with ErrTruncated
//     from Rows.Err rather than silently.
//   - Closing the *sql.DB leaves the bridge's database open; call the
//     client's Close for that.
//   - Transactions are plain BEGIN/COMMIT/ROLLBACK statements on the bridge's
//     single connection.
package driver
