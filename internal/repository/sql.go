package repository

import (
	"github.com/jmoiron/sqlx"
)

// expandIn expands slice arguments bound to "IN (?)" and rebinds the
// placeholders for the driver behind ext.
func expandIn(ext sqlx.ExtContext, query string, args ...interface{}) (string, []interface{}, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return ext.Rebind(q), a, nil
}
