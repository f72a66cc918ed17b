// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"
)

// EpochMillis is an absolute instant in milliseconds since the Unix epoch.
// It is stored as an INTEGER column; zero is stored as NULL.
type EpochMillis int64

// Millis converts a time.Time to EpochMillis.
func Millis(t time.Time) EpochMillis {
	if t.IsZero() {
		return 0
	}
	return EpochMillis(t.UnixMilli())
}

// Time returns the instant as a UTC time.Time, or the zero time if unset.
func (m EpochMillis) Time() time.Time {
	if m == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(m)).UTC()
}

// IsZero reports whether the instant is unset.
func (m EpochMillis) IsZero() bool {
	return m == 0
}

// Before reports whether m lies strictly before t.
func (m EpochMillis) Before(t time.Time) bool {
	return int64(m) < t.UnixMilli()
}

// Value implements driver.Valuer.
func (m EpochMillis) Value() (driver.Value, error) {
	if m == 0 {
		return nil, nil
	}
	return int64(m), nil
}

// Scan implements sql.Scanner.
func (m *EpochMillis) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = 0
	case int64:
		*m = EpochMillis(v)
	case float64:
		*m = EpochMillis(int64(v))
	case []byte:
		return m.parse(string(v))
	case string:
		return m.parse(v)
	case time.Time:
		*m = Millis(v)
	default:
		return fmt.Errorf("models: cannot scan %T into EpochMillis", src)
	}
	return nil
}

func (m *EpochMillis) parse(s string) error {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("models: invalid epoch millis %q: %w", s, err)
	}
	*m = EpochMillis(n)
	return nil
}

// AllTables returns the tables owned by this service, in dependency order.
func AllTables() []string {
	return []string{"users", "tokens", "otps"}
}
