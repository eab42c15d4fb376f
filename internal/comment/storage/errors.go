package storage

import "fmt"

// ReadError means the backend could not be read.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError means a mutation was not applied.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// StorageError reports corrupt or unavailable local persistence.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
