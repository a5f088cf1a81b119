package repository

import (
	"errors"

	"github.com/lib/pq"
)

// ErrSlugConflict は組織slugの一意制約違反を表す。
var ErrSlugConflict = errors.New("organization slug already exists")

// ErrDuplicate はslug以外の一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate record")

// ErrLastOwner は組織の最後のownerを削除しようとしたことを表す。
var ErrLastOwner = errors.New("last owner of organization")

// uniqueViolation はPostgreSQLのunique_violation(23505)エラーかどうかを返す。
func uniqueViolation(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr, true
	}
	return nil, false
}
