package driver

// State is what the install directory holds at the start of a pipeline attempt.
type State int

const (
	// Missing means neither executable is present.
	Missing State = iota
	// Raw means the downloaded executable is present but not yet patched.
	Raw
	// Patched means the scrubbed executable is ready to run.
	Patched
)

func (s State) String() string {
	switch s {
	case Missing:
		return "missing"
	case Raw:
		return "raw"
	case Patched:
		return "patched"
	default:
		return "unknown"
	}
}
