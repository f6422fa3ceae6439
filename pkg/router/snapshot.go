package router

import (
	"sort"
	"time"

	"github.com/arzzra/callrouter/pkg/bchannel"
)

// Snapshot состояние маршрутизатора для администрирования
type Snapshot struct {
	StartedAt  time.Time
	Blocked    bool
	App        string
	RemoteApp  string
	Linked     bool
	Interfaces []bchannel.InterfaceState
	Bridges    []BridgeState
	Endpoints  []EndpointState
	Calls      []CallState
}

// BridgeState мост и число его участников
type BridgeState struct {
	ID      uint32
	Members int
}

// EndpointState ссылка маршрутизации и вызов, к которому она привязана
type EndpointState struct {
	Ref  uint32
	Call uint64
}

// CallState состояние одного вызова
type CallState struct {
	Serial  uint64
	Name    string
	State   string
	Origin  string
	Channel int
	Caller  string
	Dialed  string
}

// Snapshot собирает состояние. Вызывается только из цикла событий,
// снаружи через Do.
func (r *Router) Snapshot() Snapshot {
	s := Snapshot{
		StartedAt:  r.startedAt,
		Blocked:    r.blocked.IsSet(),
		App:        r.opts.AppName,
		RemoteApp:  r.remoteApp,
		Linked:     r.conn != nil,
		Interfaces: r.channels.Interfaces(),
	}
	for _, id := range r.channels.Bridges() {
		s.Bridges = append(s.Bridges, BridgeState{ID: id, Members: r.channels.BridgeMembers(id)})
	}
	for ref, c := range r.byRef {
		s.Endpoints = append(s.Endpoints, EndpointState{Ref: ref, Call: c.Serial()})
	}
	sort.Slice(s.Endpoints, func(i, j int) bool { return s.Endpoints[i].Ref < s.Endpoints[j].Ref })

	for _, c := range r.calls {
		if c == nil {
			continue
		}
		id := c.Identity()
		s.Calls = append(s.Calls, CallState{
			Serial:  c.Serial(),
			Name:    c.Name(),
			State:   c.State(),
			Origin:  c.Origin().String(),
			Channel: c.Channel(),
			Caller:  id.Caller,
			Dialed:  id.Dialed,
		})
	}
	sort.Slice(s.Calls, func(i, j int) bool { return s.Calls[i].Serial < s.Calls[j].Serial })
	return s
}
