package acquire

// State is a step of the acquisition state machine.
type State int

const (
	StateNoLocalFile State = iota
	StateLocalPresent
	StateCheckingUpdate
	StateDownloading
	StateBackingUp
	StateReplacing
	StateResolved
	StateFailed
)

var stateNames = map[State]string{
	StateNoLocalFile:    "NO_LOCAL_FILE",
	StateLocalPresent:   "LOCAL_PRESENT",
	StateCheckingUpdate: "CHECKING_UPDATE",
	StateDownloading:    "DOWNLOADING",
	StateBackingUp:      "BACKING_UP",
	StateReplacing:      "REPLACING",
	StateResolved:       "RESOLVED",
	StateFailed:         "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText renders the state name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
