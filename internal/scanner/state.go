package scanner

import (
	"encoding/json"
	"fmt"
)

// State is the session phase.
type State int

const (
	Ready State = iota
	Scanning
	Viewing
)

var stateNames = map[State]string{
	Ready:    "ready",
	Scanning: "scanning",
	Viewing:  "viewing",
}

var stateFromName = map[string]State{
	"ready":    Ready,
	"scanning": Scanning,
	"viewing":  Viewing,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, ok := stateFromName[name]
	if !ok {
		return fmt.Errorf("unknown session state %q", name)
	}
	*s = v
	return nil
}

// Command names a session command. The names double as the wire names used by
// the transport.
type Command string

const (
	CmdPrepare    Command = "prepare"
	CmdStart      Command = "start"
	CmdFinish     Command = "finish"
	CmdCancel     Command = "cancel"
	CmdRescan     Command = "rescan"
	CmdFinalize   Command = "finalize"
	CmdShowViewer Command = "show_viewer"
	CmdCountdown  Command = "countdown"
)

// Commands lists every command in a stable order.
func Commands() []Command {
	return []Command{CmdPrepare, CmdStart, CmdFinish, CmdCancel, CmdRescan, CmdFinalize, CmdShowViewer, CmdCountdown}
}

// ParseCommand resolves a wire name.
func ParseCommand(name string) (Command, error) {
	for _, c := range Commands() {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}
