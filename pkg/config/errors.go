package config

import "fmt"

// ValidationError ties a configuration problem to the file that carries it.
// A store holding one is never returned; callers keep the previous snapshot.
type ValidationError struct {
	File string
	Msg  string
	Err  error
}

func (e *ValidationError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	return fmt.Sprintf("config: %s: %s", e.File, msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }
