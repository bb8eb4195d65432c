package storage

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("capture not found")

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string // sqlite database file, or file-driver prefix
	DSN         string // postgres connection string
	BusyTimeout time.Duration
	MaxConns    int // postgres pool size; 0 means 4
}

// StoreError wraps any driver failure. Callers treat it as transient.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
