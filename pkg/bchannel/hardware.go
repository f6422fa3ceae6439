package bchannel

import "fmt"

// Primitive примитив транспорта оборудования B-каналов
type Primitive int

const (
	// PrimAssign оборудование предоставило канал
	PrimAssign Primitive = iota + 1
	// PrimRemove оборудование забрало канал
	PrimRemove
	// PrimActivateInd канал активирован, данные могут идти
	PrimActivateInd
	// PrimDeactivateInd канал деактивирован
	PrimDeactivateInd
	// PrimDataInd приняты отсчеты
	PrimDataInd
	// PrimDataCnf подтверждение отправки
	PrimDataCnf
)

func (p Primitive) String() string {
	switch p {
	case PrimAssign:
		return "ASSIGN"
	case PrimRemove:
		return "REMOVE"
	case PrimActivateInd:
		return "ACTIVATE_IND"
	case PrimDeactivateInd:
		return "DEACTIVATE_IND"
	case PrimDataInd:
		return "DATA_IND"
	case PrimDataCnf:
		return "DATA_CNF"
	default:
		return fmt.Sprintf("Primitive(%d)", int(p))
	}
}

// Event событие от оборудования
type Event struct {
	Prim   Primitive
	Handle uint32
	Data   []byte
}

// Hardware транспорт к оборудованию B-каналов. Все методы неблокирующие и
// вызываются только из цикла событий; события забираются через Poll.
type Hardware interface {
	Activate(handle uint32) error
	Deactivate(handle uint32) error
	// Configure применяет усиление, конвейер обработки и ключ шифрования
	Configure(handle uint32, p Params) error
	// Join включает канал в мост; bridge 0 выводит из моста
	Join(handle uint32, bridge uint32) error
	Send(handle uint32, data []byte) error
	// Poll передает накопленные события в dispatch и возвращает их число
	Poll(dispatch func(Event)) int
}
