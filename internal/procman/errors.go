package procman

import (
	"errors"
	"fmt"
	"time"
)

// LaunchError reports that the external tool could not be started at all.
type LaunchError struct {
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Binary, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TimeoutError reports that the process outlived its wall clock budget and
// was terminated by the supervisor.
type TimeoutError struct {
	Binary string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded %s budget", e.Binary, e.Budget)
}

// IsLaunch reports whether err represents a failed process start.
func IsLaunch(err error) bool {
	var launch *LaunchError
	return errors.As(err, &launch)
}

// IsTimeout reports whether err represents a supervisor-enforced timeout.
func IsTimeout(err error) bool {
	var timeout *TimeoutError
	return errors.As(err, &timeout)
}
