// Package env loads and validates the Ingestor/Gateway process
// configuration from environment variables, per spec.md §6's variable
// list.
package env

import (
	"fmt"
	"os"
	"strconv"
)

// Loader accumulates every error encountered across a sequence of
// reads, so a composition root can read every variable and report all
// missing ones at once rather than failing on the first.
type Loader struct {
	errs []error
}

// New returns a ready-to-use Loader.
func New() *Loader { return &Loader{} }

// String returns the value of key, or def if unset or empty.
func (l *Loader) String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Required returns the value of key, recording an error if unset or empty.
func (l *Loader) Required(key string) string {
	v := os.Getenv(key)
	if v == "" {
		l.errs = append(l.errs, fmt.Errorf("env: %s is required", key))
	}
	return v
}

// Int returns the integer value of key, or def if unset. A present but
// unparseable value is recorded as an error.
func (l *Loader) Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("env: %s: %w", key, err))
		return def
	}
	return n
}

// Bool interprets key as "1"/"0" per spec.md §6 (MOBILE, VERBOSE).
// Parsing uses strconv.ParseBool, so "true"/"false" and the other forms
// it knows are accepted too; any value it rejects is recorded as an
// error and def is returned.
func (l *Loader) Bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("env: %s: %w", key, err))
		return def
	}
	return b
}

// Err returns a combined error if any read recorded a problem, else nil.
func (l *Loader) Err() error {
	if len(l.errs) == 0 {
		return nil
	}
	msg := "env: invalid configuration:"
	for _, e := range l.errs {
		msg += "\n  " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
