// Package repository persists reservations in MySQL.  Errors returned to
// the ledger are mapped onto the ledger's sentinel values so that handlers
// can distinguish a missing reservation from a storage failure.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a unique/primary key violation.
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
