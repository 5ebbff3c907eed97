package correlate

import (
	"fmt"
	"strings"
)

// DataError means an entire load call produced zero usable rows across all
// of its inputs.
type DataError struct {
	Source string
	Msg    string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s: %s", e.Source, e.Msg)
}

// StateError means a stage was invoked before its required predecessor
// completed. Stages never silently return empty results.
type StateError struct {
	Stage    string
	Requires string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s requires %s first", e.Stage, e.Requires)
}

// SchemaError means none of the known column aliases for a canonical field
// exist in the loaded table.
type SchemaError struct {
	Source    string
	Canonical string
	Aliases   []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: no column for %q (known aliases: %s)",
		e.Source, e.Canonical, strings.Join(e.Aliases, ", "))
}
