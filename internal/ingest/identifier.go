package ingest

import (
	"fmt"
	"regexp"
	"strings"
)

// maxIdentifierLen is PostgreSQL's NAMEDATALEN-1.
const maxIdentifierLen = 63

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects anything that is not safe to use unquoted as a
// SQL identifier or as a single process argument.
func ValidateIdentifier(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidIdentifier, kind)
	}
	if len(s) > maxIdentifierLen {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidIdentifier, kind, maxIdentifierLen)
	}
	if !identifierPattern.MatchString(s) {
		return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, kind, s)
	}
	return nil
}

// TableName is a validated, lower-cased schema-qualified table name.
type TableName struct {
	Schema string
	Table  string
}

// NewTableName derives <department_lower>.<layer_lower> after validating both parts.
func NewTableName(department, layer string) (TableName, error) {
	if err := ValidateIdentifier("department", department); err != nil {
		return TableName{}, err
	}
	if err := ValidateIdentifier("layer", layer); err != nil {
		return TableName{}, err
	}
	return TableName{
		Schema: strings.ToLower(department),
		Table:  strings.ToLower(layer),
	}, nil
}

// String is the form shp2pgsql expects as its table argument.
func (t TableName) String() string {
	return t.Schema + "." + t.Table
}

// LockKey identifies the (department, layer) pair for serialisation.
func (t TableName) LockKey() string {
	return "layer:" + t.String()
}
