package storage

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

const (
	pqUndefinedColumn   = pq.ErrorCode("42703")
	mysqlBadFieldNumber = 1054
)

var (
	pqMissingColumn    = regexp.MustCompile(`column "?([\w.]+)"? (?:of relation "\w+" )?does not exist`)
	mysqlMissingColumn = regexp.MustCompile(`Unknown column '([\w.]+)'`)
)

var migrationHints = map[string]string{
	"orders.customer_snapshot": "ALTER TABLE orders ADD COLUMN customer_snapshot TEXT;",
	"orders.customer_email":    "ALTER TABLE orders ADD COLUMN customer_email VARCHAR(255) NOT NULL DEFAULT '';",
	"orders.user_id":           "ALTER TABLE orders ADD COLUMN user_id VARCHAR(64) NOT NULL DEFAULT '';",
	"products.version":         "ALTER TABLE products ADD COLUMN version INTEGER NOT NULL DEFAULT 0;",
	"products.min_stock":       "ALTER TABLE products ADD COLUMN min_stock INTEGER NOT NULL DEFAULT 0;",
	"products.status":          "ALTER TABLE products ADD COLUMN status VARCHAR(32) NOT NULL DEFAULT 'out_of_stock';",
}

// missingColumn reports the column named by an undefined-column error from
// either driver.
func missingColumn(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUndefinedColumn {
		return columnFrom(pqMissingColumn, pqErr.Message), true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlBadFieldNumber {
		return columnFrom(mysqlMissingColumn, myErr.Message), true
	}

	return "", false
}

func columnFrom(re *regexp.Regexp, msg string) string {
	m := re.FindStringSubmatch(msg)
	if len(m) < 2 {
		return ""
	}
	col := m[1]
	if i := strings.LastIndex(col, "."); i >= 0 {
		col = col[i+1:]
	}
	return col
}

// classify turns driver errors into domain errors: undefined columns become
// SchemaDriftError, everything else UpstreamError.
func classify(op, table string, err error) error {
	if err == nil {
		return nil
	}
	if col, ok := missingColumn(err); ok {
		return &domain.SchemaDriftError{
			Table:        table,
			Column:       col,
			MigrationSQL: migrationHints[table+"."+col],
			Err:          err,
		}
	}
	return &domain.UpstreamError{Op: op, Err: err}
}

func isSnapshotDrift(err error) bool {
	var drift *domain.SchemaDriftError
	return errors.As(err, &drift) && drift.Table == "orders" && drift.Column == "customer_snapshot"
}
