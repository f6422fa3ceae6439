package admin

import (
	"fmt"

	"github.com/arzzra/callrouter/pkg/call"
	"github.com/arzzra/callrouter/pkg/router"
)

// State состояние порта в выводе администрирования
type State uint32

const (
	StateIdle State = iota
	StateInSetup
	StateOutSetup
	StateInOverlap
	StateOutOverlap
	StateInProceeding
	StateOutProceeding
	StateInAlerting
	StateOutAlerting
	StateConnect
	StateInDisconnect
	StateOutDisconnect
	StateRelease
)

var stateNames = map[State]string{
	StateIdle:          "IDLE",
	StateInSetup:       "IN_SETUP",
	StateOutSetup:      "OUT_SETUP",
	StateInOverlap:     "IN_OVERLAP",
	StateOutOverlap:    "OUT_OVERLAP",
	StateInProceeding:  "IN_PROCEEDING",
	StateOutProceeding: "OUT_PROCEEDING",
	StateInAlerting:    "IN_ALERTING",
	StateOutAlerting:   "OUT_ALERTING",
	StateConnect:       "CONNECT",
	StateInDisconnect:  "IN_DISCONNECT",
	StateOutDisconnect: "OUT_DISCONNECT",
	StateRelease:       "RELEASE",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// FromCallState переводит состояние автомата вызова в состояние порта
func FromCallState(s string) State {
	switch s {
	case call.StateInSetup:
		return StateInSetup
	case call.StateInProceeding:
		return StateInProceeding
	case call.StateInAlerting:
		return StateInAlerting
	case call.StateOutSetup:
		return StateOutSetup
	case call.StateOutDialing:
		return StateOutOverlap
	case call.StateOutProceeding:
		return StateOutProceeding
	case call.StateOutAlerting:
		return StateOutAlerting
	case call.StateConnect:
		return StateConnect
	case call.StateRelease:
		return StateRelease
	default:
		return StateIdle
	}
}

// Info сведения о процессе для сводки
type Info struct {
	Version string
	LogFile string
}

// Report полный ответ на REQUEST_STATE
type Report struct {
	Summary    Summary
	Interfaces []Interface
	Remotes    []Remote
	Joins      []Join
	Endpoints  []Endpoint
	Ports      []Port
}

// BuildReport собирает ответ из снимка маршрутизатора
func BuildReport(s router.Snapshot, info Info) Report {
	var rep Report
	for _, i := range s.Interfaces {
		rep.Interfaces = append(rep.Interfaces, Interface{
			Name:     i.Name,
			Number:   i.Number,
			Channels: i.Channels,
			Assigned: i.Assigned,
			Busy:     i.Busy,
			Blocked:  i.Blocked,
		})
	}
	if s.App != "" {
		rep.Remotes = append(rep.Remotes, Remote{App: s.App, Peer: s.RemoteApp, Linked: s.Linked})
	}
	for _, b := range s.Bridges {
		rep.Joins = append(rep.Joins, Join{ID: b.ID, Members: b.Members})
	}
	for _, e := range s.Endpoints {
		rep.Endpoints = append(rep.Endpoints, Endpoint{Ref: e.Ref, Call: e.Call})
	}
	for _, c := range s.Calls {
		rep.Ports = append(rep.Ports, Port{
			Serial:  c.Serial,
			Name:    c.Name,
			State:   FromCallState(c.State),
			Channel: c.Channel,
			Caller:  c.Caller,
			Dialed:  c.Dialed,
			Origin:  c.Origin,
		})
	}
	rep.Summary = Summary{
		Version:    info.Version,
		StartedAt:  s.StartedAt,
		LogFile:    info.LogFile,
		Interfaces: len(rep.Interfaces),
		Remotes:    len(rep.Remotes),
		Joins:      len(rep.Joins),
		Endpoints:  len(rep.Endpoints),
		Ports:      len(rep.Ports),
		Blocked:    s.Blocked,
	}
	return rep
}

// encode записи ответа в порядке протокола
func (rep Report) encode() [][]byte {
	out := make([][]byte, 0, 1+rep.Summary.count())
	out = append(out, encodeSummary(rep.Summary))
	for _, i := range rep.Interfaces {
		out = append(out, encodeInterface(i))
	}
	for _, r := range rep.Remotes {
		out = append(out, encodeRemote(r))
	}
	for _, j := range rep.Joins {
		out = append(out, encodeJoin(j))
	}
	for _, e := range rep.Endpoints {
		out = append(out, encodeEndpoint(e))
	}
	for _, p := range rep.Ports {
		out = append(out, encodePort(p))
	}
	return out
}
