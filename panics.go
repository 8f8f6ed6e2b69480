package pipeline

import (
	"fmt"
	"runtime"
	"strings"
)

// PanicError is a recovered panic value with the stack below the panic site.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// SafeCall runs fn and turns a panic into a *PanicError.
func SafeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 8192)
			buf = buf[:runtime.Stack(buf, false)]
			err = &PanicError{Value: r, Stack: trimPanicStack(buf)}
		}
	}()
	return fn()
}

func trimPanicStack(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			// drop the panic() frame and its file line
			if i+2 < len(lines) {
				lines = lines[i+2:]
			}
			break
		}
	}
	return []byte(strings.Join(lines, "\n"))
}
