package sessionware

import (
	"errors"
	"fmt"
	"regexp"
)

// DefaultTableName is the table sessions are stored in unless overridden.
const DefaultTableName = "sessions"

// ErrInvalidTableName is returned for a table name that is not a plain SQL identifier.
var ErrInvalidTableName = errors.New("invalid session table name")

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// tableName validates a table name override. Table names are spliced into
// SQL text, so only plain identifiers are accepted.
func tableName(name string) (string, error) {
	if name == "" {
		return DefaultTableName, nil
	}
	if !identifierRE.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return name, nil
}
