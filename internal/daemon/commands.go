package daemon

import (
	"fmt"
	"strings"

	"github.com/danmuck/qmuxd/internal/inject"
	"github.com/danmuck/qmuxd/internal/protocol"
)

const commandHelp = "commands: help, status, call me, hangup, record next, cb single|random|stream|off, trace <service>, untrace"

// runCommand executes one text command sent to the daemon's own number and
// returns the reply.
func (s *Service) runCommand(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return commandHelp
	}
	switch fields[0] {
	case "help":
		return commandHelp
	case "status":
		return s.statusText()
	case "call":
		if s.Shared.CallSimulation() || s.Injector.CallPending() {
			return "a call is already in progress"
		}
		s.Injector.RequestCall("")
		return ""
	case "hangup":
		s.Injector.EndCall()
		return "ok"
	case "record":
		s.Calls.RecordNextCall(true)
		return "next call will be recorded"
	case "cb":
		if len(fields) < 2 {
			return "usage: cb single|random|stream|off"
		}
		mode, err := inject.ParseCBMode(fields[1])
		if err != nil {
			return err.Error()
		}
		if mode == inject.CBOff {
			s.Injector.StopCB()
			return "cell broadcast stopped"
		}
		s.Injector.RequestCB(mode)
		return "cell broadcast " + mode.String()
	case "trace":
		if len(fields) < 2 {
			return "usage: trace <service>"
		}
		svc, err := protocol.ParseServiceID(fields[1])
		if err != nil {
			return err.Error()
		}
		s.Router.EnableTrace(svc)
		return "tracing " + svc.String()
	case "untrace":
		s.Router.DisableAllTrace()
		return "tracing off"
	}
	return fmt.Sprintf("unknown command %q. %s", fields[0], commandHelp)
}

func (s *Service) statusText() string {
	var b strings.Builder
	if s.Rmnet != nil {
		st := s.Rmnet.Stats().Snapshot()
		fmt.Fprintf(&b, "rmnet ok=%d bypass=%d drop=%d fail=%d. ", st.Allowed, st.Bypassed, st.Discarded, st.Failed)
	}
	if s.Location != nil {
		st := s.Location.Stats().Snapshot()
		fmt.Fprintf(&b, "gps ok=%d drop=%d. ", st.Allowed, st.Discarded)
	}
	fmt.Fprintf(&b, "calls=%d suspended=%v", len(s.Calls.Snapshot()), s.Shared.TransceiverSuspended())
	return b.String()
}
