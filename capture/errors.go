package capture

import (
	"errors"
	"fmt"
)

// ErrNoStartFile is returned when no file of a recording set can anchor the
// run: the set is empty, the chain is cyclic, or every file points to a
// predecessor that was not supplied.
var ErrNoStartFile = errors.New("no start file")

// UnsupportedTypeError reports a catalog or row value type string the decoder
// does not know how to cast.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported value type %q", e.Type)
}

// UnrecognizedGroupError reports a payload key outside the known groups, or a
// catalog-driven group whose catalog is missing from the header.
type UnrecognizedGroupError struct {
	Group  string
	Reason string
}

func (e *UnrecognizedGroupError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unrecognized data key %q in payload", e.Group)
	}
	return fmt.Sprintf("unrecognized data key %q in payload: %s", e.Group, e.Reason)
}

// RowShapeError reports a positional row whose length differs from its catalog.
type RowShapeError struct {
	Group   string
	Row     int
	Got     int
	Catalog int
}

func (e *RowShapeError) Error() string {
	return fmt.Sprintf("%s row %d: %d values for %d catalog entries", e.Group, e.Row, e.Got, e.Catalog)
}

// KeyError reports a group or column that does not exist in a payload.
type KeyError struct {
	Group string
	Key   string
}

func (e *KeyError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("group %q not in payload", e.Group)
	}
	return fmt.Sprintf("key %q not in %s", e.Key, e.Group)
}
