package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleID accepts an identifier on the wire as either a JSON number
// or a string. How a string resolves depends on the entity: service
// strings resolve by name, person strings accept "person-<digits>" or a
// username, permission strings resolve by name.
type FlexibleID struct {
	intValue int64
	strValue string
	isInt    bool
	present  bool
}

// FlexibleIDFromInt builds a numeric identifier
func FlexibleIDFromInt(value int64) FlexibleID {
	return FlexibleID{intValue: value, isInt: true, present: true}
}

// FlexibleIDFromString builds a string identifier
func FlexibleIDFromString(value string) FlexibleID {
	trimmed := strings.TrimSpace(value)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return FlexibleID{intValue: n, isInt: true, present: true}
	}
	return FlexibleID{strValue: trimmed, present: true}
}

// IsZero reports whether the identifier was absent from the request
func (f FlexibleID) IsZero() bool { return !f.present }

// UnmarshalJSON accepts a number or a string
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleIDFromInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleIDFromString(s)
		return nil
	}
	return fmt.Errorf("identifier must be an integer or a string")
}

// Int returns the numeric value when the identifier is numeric
func (f FlexibleID) Int() (int64, bool) {
	return f.intValue, f.present && f.isInt
}

// String returns the raw string when the identifier is textual
func (f FlexibleID) String() (string, bool) {
	if !f.present || f.isInt {
		return "", false
	}
	return f.strValue, true
}

func extractDigits(value string) (int64, bool) {
	var digits strings.Builder
	for _, c := range value {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ResolveServiceID maps a flexible identifier to a service id. Numeric
// input passes through; strings look up by name. createIfMissing only
// applies on explicit admin create paths.
func (s *Store) ResolveServiceID(ctx context.Context, id FlexibleID, createIfMissing bool) (int64, error) {
	if n, ok := id.Int(); ok {
		return n, nil
	}
	name, ok := id.String()
	if !ok || name == "" {
		return 0, ErrInvalidServiceID
	}

	var serviceID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM auth.services WHERE name = $1`, name).Scan(&serviceID)
	if err == nil {
		return serviceID, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to resolve service: %w", err)
	}
	if !createIfMissing {
		return 0, ErrInvalidServiceID
	}

	// Insert-or-select to absorb a concurrent create of the same name
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO auth.services (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id`,
		name,
	).Scan(&serviceID)
	if err == nil {
		return serviceID, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to create service: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT id FROM auth.services WHERE name = $1`, name).Scan(&serviceID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve service: %w", err)
	}
	return serviceID, nil
}

// ResolvePersonID maps a flexible identifier to a person id. Strings of
// the form person-<digits> decode directly; any other string is a
// username lookup over non-removed persons.
func (s *Store) ResolvePersonID(ctx context.Context, id FlexibleID) (int64, error) {
	if n, ok := id.Int(); ok {
		return n, nil
	}
	value, ok := id.String()
	if !ok || value == "" {
		return 0, ErrInvalidPersonID
	}
	if strings.HasPrefix(value, "person-") {
		if n, ok := extractDigits(value); ok {
			return n, nil
		}
	}

	var personID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM auth.person WHERE username = $1 AND removed_at IS NULL`,
		value,
	).Scan(&personID)
	if err == sql.ErrNoRows {
		return 0, ErrPersonNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve person: %w", err)
	}
	return personID, nil
}

// ResolvePermissionID maps a flexible identifier to a permission id;
// strings look up by name.
func (s *Store) ResolvePermissionID(ctx context.Context, id FlexibleID) (int64, error) {
	if n, ok := id.Int(); ok {
		return n, nil
	}
	name, ok := id.String()
	if !ok || name == "" {
		return 0, ErrInvalidPermissionID
	}

	var permissionID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM auth.permission WHERE name = $1`, name).Scan(&permissionID)
	if err == sql.ErrNoRows {
		return 0, ErrPermissionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve permission: %w", err)
	}
	return permissionID, nil
}
