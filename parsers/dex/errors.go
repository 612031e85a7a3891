package dex

import "fmt"

// MalformedContainerError reports input that cannot be a dex container at
// all: truncation, bad magic, checksum mismatch, sections outside the file.
// It is always fatal for the file being read.
type MalformedContainerError struct {
	Offset uint32
	Reason string
}

func (e *MalformedContainerError) Error() string {
	if e.Offset == 0 {
		return "malformed container: " + e.Reason
	}
	return fmt.Sprintf("malformed container at %#x: %s", e.Offset, e.Reason)
}

// DanglingReferenceError reports an index that does not fit its pool.
// Owner names the class (and member) that holds the bad index.
type DanglingReferenceError struct {
	Pool  string
	Index uint32
	Size  uint32
	Owner string
}

func (e *DanglingReferenceError) Error() string {
	msg := fmt.Sprintf("dangling %s reference %d (pool size %d)", e.Pool, e.Index, e.Size)
	if e.Owner != "" {
		msg += " in " + e.Owner
	}
	return msg
}

func malformed(format string, a ...interface{}) error {
	return &MalformedContainerError{Reason: fmt.Sprintf(format, a...)}
}
