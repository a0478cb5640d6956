package machine

import (
	"io"
	"os"

	"github.com/teal-lang/tealvm/values"
)

// callForeign pops n arguments (restoring source order), resolves and
// invokes the host callable, and pushes its converted result. Any output
// the callable writes to stdout during the call is captured and
// forwarded to the controller's stdout sink rather than leaking onto the
// process's real stdout.
func (m *Machine) callForeign(f *values.Value, n int) error {
	fp, _ := f.AsForeignPtr()
	args := make([]*values.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := m.state.Pop()
		if err != nil {
			return err
		}
		args[i] = v
	}

	callable, err := m.Foreign.Resolve(fp.Module, fp.Identifier)
	if err != nil {
		return &ForeignError{Err: err}
	}

	hostArgs := make([]interface{}, len(args))
	for i, a := range args {
		h, err := values.ToHost(a)
		if err != nil {
			return &ForeignError{Err: err}
		}
		hostArgs[i] = h
	}

	captured, result, callErr := m.captureStdout(func() (interface{}, error) {
		return callable(hostArgs)
	})
	if captured != "" {
		m.Ctrl.WriteStdout(captured)
	}
	if callErr != nil {
		return &ForeignError{Err: callErr}
	}

	out, convErr := values.FromHost(result)
	if convErr != nil {
		return &ForeignError{Err: convErr}
	}
	m.state.Push(out)
	return nil
}

// captureStdout redirects the process-global os.Stdout for the duration
// of fn, serialised behind the controller's foreign-call mutex: stdout is
// a single process-wide resource shared by every concurrently running
// machine's foreign calls, so only one capture may be in flight at a
// time, mirroring the reference implementation's StringIO swap around
// sys.stdout.
func (m *Machine) captureStdout(fn func() (interface{}, error)) (string, interface{}, error) {
	mu := m.Ctrl.ForeignMutex()
	mu.Lock()
	defer mu.Unlock()

	r, w, pipeErr := os.Pipe()
	if pipeErr != nil {
		result, err := fn()
		return "", result, err
	}
	saved := os.Stdout
	os.Stdout = w
	result, err := fn()
	os.Stdout = saved
	w.Close()
	buf, _ := io.ReadAll(r)
	r.Close()
	return string(buf), result, err
}
