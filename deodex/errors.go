package deodex

import "fmt"

// UnresolvedQuickRefError reports an odex-only instruction whose canonical
// form could not be recovered. The instruction is left quickened.
type UnresolvedQuickRefError struct {
	Class  string
	Method string
	Offset uint32
	Opcode string
	Reason string
}

func (e *UnresolvedQuickRefError) Error() string {
	return fmt.Sprintf("cannot deodex %s at code offset %#x in %s: %s", e.Opcode, e.Offset, e.Method, e.Reason)
}

// MissingEntryError reports a boot classpath entry found in none of the
// search directories.
type MissingEntryError struct {
	Entry string
	Dirs  []string
}

func (e *MissingEntryError) Error() string {
	return fmt.Sprintf("boot classpath entry %s not found in %v", e.Entry, e.Dirs)
}
