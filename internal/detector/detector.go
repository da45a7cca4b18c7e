// Package detector holds the probes used to decide whether a server process
// is alive (PID based) and whether it is ready to serve (TCP, HTTP, marker
// file, command).
package detector

// Detector is a strategy that determines if a process is running or ready.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the probe succeeds.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Any succeeds when at least one of its detectors does. Errors from failing
// detectors are ignored as long as another one succeeds.
type Any []Detector

func (a Any) Alive() (bool, error) {
	var firstErr error
	for _, d := range a {
		ok, err := d.Alive()
		if ok {
			return true, nil
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return false, firstErr
}

func (a Any) Describe() string {
	s := "any("
	for i, d := range a {
		if i > 0 {
			s += ","
		}
		s += d.Describe()
	}
	return s + ")"
}
