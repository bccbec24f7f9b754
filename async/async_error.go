package async

// AsyncError is an async value that will eventually return an error.
// It is similar to a Promise/Future which returns an error.
// The value is supplied by calling SetValue; once supplied the AsyncError is
// completed and the value can be read with TryGetValue.
type AsyncError struct {
	errCh     chan error
	val       error
	completed bool
}

func newAsyncError() *AsyncError {
	return &AsyncError{
		errCh: make(chan error, 1),
	}
}

// SetValue completes the AsyncError. Calling it more than once panics.
func (e *AsyncError) SetValue(err error) {
	e.errCh <- err
	close(e.errCh)
}

// TryGetValue reports whether the AsyncError is completed and, if so, its value.
// It never blocks and may be called any number of times.
func (e *AsyncError) TryGetValue() (bool, error) {
	if e.completed {
		return true, e.val
	}
	select {
	case err := <-e.errCh:
		e.val = err
		e.completed = true
		return true, err
	default:
		return false, nil
	}
}
