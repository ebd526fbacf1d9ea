package proxy

import "strconv"

// State is a step of the per-connection protocol state machine.
type State int

const (
	StateNew State = iota
	StateNegotiatingMethod
	StateAuthenticating
	StateParsingCommand
	StateConnectingUpstream
	StateRelaying
	StateClosed
)

var stateNames = [...]string{
	StateNew:                "new",
	StateNegotiatingMethod:  "negotiating_method",
	StateAuthenticating:     "authenticating",
	StateParsingCommand:     "parsing_command",
	StateConnectingUpstream: "connecting_upstream",
	StateRelaying:           "relaying",
	StateClosed:             "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}
