package utils

import (
	"fmt"
	"runtime"
)

// WrapError annotates err with the caller's file and line so log records
// point at the operation that failed, not the logging site.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return err
	}
	return fmt.Errorf("error at %s:%d: %v", file, line, err)
}
