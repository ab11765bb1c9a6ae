package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrorClass groups driver errors by how a writer should react to them.
type ErrorClass int

const (
	ErrorOther ErrorClass = iota
	// ErrorDuplicateKey is a unique violation; the row already exists.
	ErrorDuplicateKey
	// ErrorConstraint is any other integrity violation. Replaying the same
	// write fails the same way.
	ErrorConstraint
	// ErrorTransient covers lock conflicts and dropped connections.
	ErrorTransient
)

var pgCodes = map[string]ErrorClass{
	"23505": ErrorDuplicateKey,
	"23502": ErrorConstraint, // not_null_violation
	"23503": ErrorConstraint, // foreign_key_violation
	"23514": ErrorConstraint, // check_violation
	"22001": ErrorConstraint, // string_data_right_truncation
	"22003": ErrorConstraint, // numeric_value_out_of_range
	"40001": ErrorTransient,  // serialization_failure
	"40P01": ErrorTransient,  // deadlock_detected
	"55P03": ErrorTransient,  // lock_not_available
	"57P01": ErrorTransient,  // admin_shutdown
}

// message fragments for mysql and sqlite, which report through plain strings.
var messageClasses = []struct {
	fragment string
	class    ErrorClass
}{
	{"duplicate key value violates unique constraint", ErrorDuplicateKey},
	{"Error 1062", ErrorDuplicateKey},
	{"UNIQUE constraint failed", ErrorDuplicateKey},
	{"NOT NULL constraint failed", ErrorConstraint},
	{"CHECK constraint failed", ErrorConstraint},
	{"Error 1048", ErrorConstraint},
	{"Error 1406", ErrorConstraint},
	{"Error 1213", ErrorTransient},
	{"database is locked", ErrorTransient},
	{"SQLITE_BUSY", ErrorTransient},
}

// Classify inspects err from gorm or the underlying driver.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorOther
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrorDuplicateKey
	}
	if errors.Is(err, gorm.ErrCheckConstraintViolated) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return ErrorConstraint
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if class, ok := pgCodes[pgErr.Code]; ok {
			return class
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return ErrorTransient
		}
		return ErrorOther
	}

	msg := err.Error()
	for _, mc := range messageClasses {
		if strings.Contains(msg, mc.fragment) {
			return mc.class
		}
	}
	return ErrorOther
}

func IsDuplicateKeyErr(err error) bool {
	return Classify(err) == ErrorDuplicateKey
}

// IsConstraintViolation reports integrity errors other than duplicate keys.
func IsConstraintViolation(err error) bool {
	return Classify(err) == ErrorConstraint
}
