package schema

import "fmt"

// Dialect selects the physical type vocabulary of an engine.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ColumnType maps a non relational field variant to its physical column type.
func ColumnType(d Dialect, f Field) (string, error) {
	switch f.Kind {
	case CharField:
		n := f.MaxLength
		if n <= 0 {
			n = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", n), nil
	case TextField:
		return "TEXT", nil
	case IntegerField:
		return "INTEGER", nil
	case BigIntegerField:
		return "BIGINT", nil
	case DecimalField:
		digits, places := f.MaxDigits, f.DecimalPlaces
		if digits <= 0 {
			digits = 10
		}
		if places < 0 {
			places = 0
		}
		return fmt.Sprintf("DECIMAL(%d, %d)", digits, places), nil
	case BooleanField:
		return "BOOLEAN", nil
	case DateField:
		return "DATE", nil
	case DatetimeField:
		if d == SQLite {
			return "DATETIME", nil
		}
		return "TIMESTAMP WITH TIME ZONE", nil
	case TimeField:
		return "TIME", nil
	case UUIDField:
		if d == SQLite {
			return "TEXT", nil
		}
		return "UUID", nil
	case AutoField:
		if d == SQLite {
			return "INTEGER", nil
		}
		return "SERIAL", nil
	case BigAutoField:
		if d == SQLite {
			return "INTEGER", nil
		}
		return "BIGSERIAL", nil
	case ForeignKeyField, OneToOneField:
		return "", fmt.Errorf("%w: relational field %q takes the type of its target key", ErrInvalidFieldKind, f.Name)
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFieldKind, f.Kind)
}

// ReferenceType returns the column type of a foreign key pointing at target.
func ReferenceType(d Dialect, target Field) (string, error) {
	switch target.Kind {
	case AutoField:
		return "INTEGER", nil
	case BigAutoField:
		return "BIGINT", nil
	}
	return ColumnType(d, target)
}
