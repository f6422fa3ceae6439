package bchannel

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/arzzra/callrouter/pkg/metrics"
)

// DataHandler получает отсчеты, принятые каналом с владельцем
type DataHandler func(ch *Channel, data []byte)

// Manager таблица B-каналов процесса.
//
// Каналы хранятся в арене и адресуются стабильным индексом. Таблица
// изменяется только из цикла событий, поэтому блокировок нет.
type Manager struct {
	hw         Hardware
	interfaces []InterfaceConfig
	channels   []*Channel
	byHandle   map[uint32]int
	bridges    map[uint32]int
	onData     DataHandler
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// NewManager создает таблицу для интерфейсов ifaces.
// Каналы появляются только по событиям назначения от оборудования.
func NewManager(hw Hardware, ifaces []InterfaceConfig, m *metrics.Collector, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		hw:         hw,
		interfaces: append([]InterfaceConfig(nil), ifaces...),
		byHandle:   make(map[uint32]int),
		bridges:    make(map[uint32]int),
		metrics:    m,
		logger:     logger.With(slog.String("component", "bchannel")),
	}
}

// OnData задает получателя принятых отсчетов
func (m *Manager) OnData(h DataHandler) {
	m.onData = h
}

// Channel возвращает канал по индексу
func (m *Manager) Channel(index int) (*Channel, bool) {
	if index < 0 || index >= len(m.channels) || m.channels[index] == nil {
		return nil, false
	}
	return m.channels[index], true
}

// Lookup ищет канал по номеру
func (m *Manager) Lookup(handle uint32) (*Channel, bool) {
	idx, ok := m.byHandle[handle]
	if !ok {
		return nil, false
	}
	return m.channels[idx], true
}

// Assign создает канал по уведомлению о назначении
func (m *Manager) Assign(handle uint32, p Params) (*Channel, error) {
	if _, ok := m.byHandle[handle]; ok {
		return nil, fmt.Errorf("%w: %#x", ErrHandleAssigned, handle)
	}

	idx := -1
	for i, ch := range m.channels {
		if ch == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = len(m.channels)
		m.channels = append(m.channels, nil)
	}

	ch := &Channel{Index: idx, Handle: handle, Params: p}
	if err := m.hw.Configure(handle, p); err != nil {
		m.logger.Warn("Manager.Assign: ошибка настройки канала", slog.String("channel", ch.String()), slog.Any("error", err))
	}
	m.channels[idx] = ch
	m.byHandle[handle] = idx

	slog.Debug("Manager.Assign", slog.String("channel", ch.String()))
	return ch, nil
}

// Remove уничтожает канал по уведомлению об изъятии. Возвращает удаленную
// запись, чтобы владелец мог отвязаться от нее.
func (m *Manager) Remove(handle uint32) (*Channel, error) {
	idx, ok := m.byHandle[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrNotAssigned, handle)
	}
	ch := m.channels[idx]
	if ch.Owner != 0 {
		m.metrics.ChannelReleased()
	}
	m.leaveBridge(ch)
	m.channels[idx] = nil
	delete(m.byHandle, handle)

	slog.Debug("Manager.Remove", slog.String("channel", ch.String()))
	return ch, nil
}

// Hunt выбирает первый свободный канал: интерфейсы в порядке конфигурации,
// внутри интерфейса по возрастанию слота. Таблица не изменяется.
func (m *Manager) Hunt() (int, error) {
	for _, iface := range m.interfaces {
		if iface.Blocked {
			continue
		}
		for slot := 1; slot <= iface.Channels; slot++ {
			idx, ok := m.byHandle[MakeHandle(iface.Number, slot)]
			if !ok {
				continue
			}
			if m.channels[idx].Owner == 0 {
				return idx, nil
			}
		}
	}
	m.metrics.HuntFailed()
	return -1, ErrNoChannel
}

// Seize закрепляет канал за owner и запрашивает активацию.
// Данные идут только после ACTIVATE_IND.
func (m *Manager) Seize(index int, owner Owner, exclusive bool) error {
	ch, ok := m.Channel(index)
	if !ok {
		return fmt.Errorf("%w: индекс %d", ErrNotAssigned, index)
	}
	if owner == 0 {
		return fmt.Errorf("нулевой владелец для %s", ch)
	}
	if ch.Owner != 0 {
		return fmt.Errorf("%w: %s принадлежит %d", ErrAlreadySeized, ch, ch.Owner)
	}
	if err := m.hw.Activate(ch.Handle); err != nil {
		return fmt.Errorf("ошибка активации %s: %w", ch, err)
	}
	ch.Owner = owner
	ch.Exclusive = exclusive
	m.metrics.ChannelSeized()
	return nil
}

// Join включает канал в мост bridge; 0 означает прямое соединение без моста
func (m *Manager) Join(index int, bridge uint32) error {
	ch, ok := m.Channel(index)
	if !ok {
		return fmt.Errorf("%w: индекс %d", ErrNotAssigned, index)
	}
	if ch.BridgeID == bridge {
		return nil
	}
	m.leaveBridge(ch)
	if bridge != 0 {
		if err := m.hw.Join(ch.Handle, bridge); err != nil {
			return fmt.Errorf("ошибка подключения %s к мосту %d: %w", ch, bridge, err)
		}
		ch.BridgeID = bridge
		m.bridges[bridge]++
	}
	return nil
}

// leaveBridge выводит канал из моста и разбирает мост без участников
func (m *Manager) leaveBridge(ch *Channel) {
	if ch.BridgeID == 0 {
		return
	}
	bridge := ch.BridgeID
	ch.BridgeID = 0
	_ = m.hw.Join(ch.Handle, 0)
	m.bridges[bridge]--
	if m.bridges[bridge] <= 0 {
		delete(m.bridges, bridge)
		slog.Debug("Manager: мост разобран", slog.Uint64("bridgeID", uint64(bridge)))
	}
}

// Release освобождает канал, выводит его из моста и деактивирует
func (m *Manager) Release(index int) error {
	ch, ok := m.Channel(index)
	if !ok {
		return fmt.Errorf("%w: индекс %d", ErrNotAssigned, index)
	}
	if ch.Owner == 0 {
		return fmt.Errorf("%w: %s", ErrNotSeized, ch)
	}
	m.leaveBridge(ch)
	ch.Owner = 0
	ch.Exclusive = false
	ch.Active = false
	if err := m.hw.Deactivate(ch.Handle); err != nil {
		m.logger.Warn("Manager.Release: ошибка деактивации", slog.String("channel", ch.String()), slog.Any("error", err))
	}
	m.metrics.ChannelReleased()
	return nil
}

// NewBridgeID возвращает наименьший ненулевой номер моста, который не используется
func (m *Manager) NewBridgeID() uint32 {
	id := uint32(1)
	for {
		if _, used := m.bridges[id]; !used {
			return id
		}
		id++
	}
}

// BridgeMembers количество каналов в мосту
func (m *Manager) BridgeMembers(bridge uint32) int {
	return m.bridges[bridge]
}

// Bridges возвращает номера действующих мостов по возрастанию
func (m *Manager) Bridges() []uint32 {
	ids := make([]uint32, 0, len(m.bridges))
	for id := range m.bridges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Send передает отсчеты в канал. Пока канал не активирован, данные молча
// отбрасываются.
func (m *Manager) Send(index int, data []byte) error {
	ch, ok := m.Channel(index)
	if !ok {
		return fmt.Errorf("%w: индекс %d", ErrNotAssigned, index)
	}
	if !ch.Active {
		return nil
	}
	return m.hw.Send(ch.Handle, data)
}

// Activate запрашивает активацию канала, назначенного маршрутизацией
func (m *Manager) Activate(index int) error {
	ch, ok := m.Channel(index)
	if !ok {
		return fmt.Errorf("%w: индекс %d", ErrNotAssigned, index)
	}
	return m.hw.Activate(ch.Handle)
}

// Poll забирает события оборудования
func (m *Manager) Poll() int {
	return m.hw.Poll(m.HandleEvent)
}

// HandleEvent обрабатывает одно событие оборудования
func (m *Manager) HandleEvent(ev Event) {
	switch ev.Prim {
	case PrimAssign:
		if _, err := m.Assign(ev.Handle, Params{}); err != nil {
			m.logger.Error("Manager.HandleEvent", slog.String("prim", ev.Prim.String()), slog.Any("error", err))
		}
		return
	case PrimRemove:
		if _, err := m.Remove(ev.Handle); err != nil {
			m.logger.Error("Manager.HandleEvent", slog.String("prim", ev.Prim.String()), slog.Any("error", err))
		}
		return
	}

	ch, ok := m.Lookup(ev.Handle)
	if !ok {
		m.logger.Debug("Manager.HandleEvent: неизвестный канал", slog.String("prim", ev.Prim.String()), slog.Uint64("handle", uint64(ev.Handle)))
		return
	}

	switch ev.Prim {
	case PrimActivateInd:
		// подтверждение, опоздавшее после Release
		if ch.Owner == 0 {
			m.logger.Debug("Manager.HandleEvent: активация свободного канала", slog.String("channel", ch.String()))
			return
		}
		ch.Active = true
	case PrimDeactivateInd:
		ch.Active = false
	case PrimDataInd:
		if ch.Owner != 0 && ch.Active && m.onData != nil {
			m.onData(ch, ev.Data)
		}
	case PrimDataCnf:
	default:
		m.logger.Warn("Manager.HandleEvent: неизвестный примитив", slog.String("prim", ev.Prim.String()))
	}
}

// Validate проверяет обратные ссылки: владелец каждого занятого канала
// должен существовать и ссылаться на этот же индекс.
func (m *Manager) Validate(lookup func(owner Owner) (index int, ok bool)) error {
	for _, ch := range m.channels {
		if ch == nil || ch.Owner == 0 {
			continue
		}
		idx, ok := lookup(ch.Owner)
		if !ok {
			return fmt.Errorf("%s принадлежит несуществующему вызову %d", ch, ch.Owner)
		}
		if idx != ch.Index {
			return fmt.Errorf("%s принадлежит вызову %d, который ссылается на индекс %d", ch, ch.Owner, idx)
		}
	}
	return nil
}

// Interfaces возвращает состояние интерфейсов
func (m *Manager) Interfaces() []InterfaceState {
	states := make([]InterfaceState, 0, len(m.interfaces))
	for _, iface := range m.interfaces {
		st := InterfaceState{InterfaceConfig: iface}
		for slot := 1; slot <= iface.Channels; slot++ {
			idx, ok := m.byHandle[MakeHandle(iface.Number, slot)]
			if !ok {
				continue
			}
			st.Assigned++
			if m.channels[idx].Owner != 0 {
				st.Busy++
			}
		}
		states = append(states, st)
	}
	return states
}

// SetBlocked блокирует интерфейс для поиска каналов
func (m *Manager) SetBlocked(name string, blocked bool) bool {
	for i := range m.interfaces {
		if m.interfaces[i].Name == name {
			m.interfaces[i].Blocked = blocked
			return true
		}
	}
	return false
}
