package bchannel

import (
	"fmt"

	"github.com/gammazero/deque"
)

// Loopback программное оборудование: отсчеты, отправленные в канал моста,
// принимаются остальными активными каналами этого моста. Активация
// подтверждается асинхронно, на следующем Poll.
type Loopback struct {
	events  deque.Deque[Event]
	known   map[uint32]bool
	active  map[uint32]bool
	bridges map[uint32]uint32
	params  map[uint32]Params
	// PollLimit ограничивает число событий за один Poll; 0 без ограничения
	PollLimit int
}

// NewLoopback создает программное оборудование
func NewLoopback() *Loopback {
	return &Loopback{
		known:   make(map[uint32]bool),
		active:  make(map[uint32]bool),
		bridges: make(map[uint32]uint32),
		params:  make(map[uint32]Params),
	}
}

// Attach предоставляет каналы интерфейсов: по событию PrimAssign на слот
func (l *Loopback) Attach(ifaces []InterfaceConfig) {
	for _, iface := range ifaces {
		for slot := 1; slot <= iface.Channels; slot++ {
			h := MakeHandle(iface.Number, slot)
			l.known[h] = true
			l.events.PushBack(Event{Prim: PrimAssign, Handle: h})
		}
	}
}

// Detach изымает канал
func (l *Loopback) Detach(handle uint32) {
	delete(l.known, handle)
	delete(l.active, handle)
	delete(l.bridges, handle)
	l.events.PushBack(Event{Prim: PrimRemove, Handle: handle})
}

func (l *Loopback) Activate(handle uint32) error {
	l.known[handle] = true
	l.active[handle] = true
	l.events.PushBack(Event{Prim: PrimActivateInd, Handle: handle})
	return nil
}

func (l *Loopback) Deactivate(handle uint32) error {
	if !l.active[handle] {
		return nil
	}
	delete(l.active, handle)
	l.events.PushBack(Event{Prim: PrimDeactivateInd, Handle: handle})
	return nil
}

func (l *Loopback) Configure(handle uint32, p Params) error {
	l.known[handle] = true
	l.params[handle] = p
	return nil
}

func (l *Loopback) Join(handle uint32, bridge uint32) error {
	if bridge == 0 {
		delete(l.bridges, handle)
		return nil
	}
	l.bridges[handle] = bridge
	return nil
}

// Send раздает отсчеты остальным активным участникам моста
func (l *Loopback) Send(handle uint32, data []byte) error {
	if !l.active[handle] {
		return fmt.Errorf("канал %#x не активирован", handle)
	}
	if bridge := l.bridges[handle]; bridge != 0 {
		for h, b := range l.bridges {
			if h == handle || b != bridge || !l.active[h] {
				continue
			}
			frame := make([]byte, len(data))
			copy(frame, data)
			l.events.PushBack(Event{Prim: PrimDataInd, Handle: h, Data: frame})
		}
	}
	l.events.PushBack(Event{Prim: PrimDataCnf, Handle: handle})
	return nil
}

// Inject ставит в очередь принятые отсчеты, как если бы они пришли с линии
func (l *Loopback) Inject(handle uint32, data []byte) {
	l.events.PushBack(Event{Prim: PrimDataInd, Handle: handle, Data: data})
}

// Pending число событий в очереди
func (l *Loopback) Pending() int {
	return l.events.Len()
}

// Poll передает события, накопленные к моменту вызова
func (l *Loopback) Poll(dispatch func(Event)) int {
	n := l.events.Len()
	if l.PollLimit > 0 && n > l.PollLimit {
		n = l.PollLimit
	}
	for i := 0; i < n; i++ {
		dispatch(l.events.PopFront())
	}
	return n
}
