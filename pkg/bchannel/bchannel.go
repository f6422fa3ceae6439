// Package bchannel управляет B-каналами: поиском свободного канала, занятием,
// мостами и активацией через транспорт оборудования.
package bchannel

import (
	"errors"
	"fmt"
)

var (
	ErrNoChannel      = errors.New("нет свободного B-канала")
	ErrAlreadySeized  = errors.New("B-канал уже занят")
	ErrNotSeized      = errors.New("B-канал не занят")
	ErrNotAssigned    = errors.New("B-канал не назначен")
	ErrHandleAssigned = errors.New("B-канал с таким номером уже назначен")
)

// Owner идентификатор вызова-владельца; 0 означает свободный канал
type Owner uint64

// Params параметры канала из сообщения назначения
type Params struct {
	TxGain   int
	RxGain   int
	Pipeline string
	Crypt    []byte
}

// Channel один тайм-слот оборудования
type Channel struct {
	Index     int
	Handle    uint32
	Owner     Owner
	Exclusive bool
	BridgeID  uint32
	Params    Params
	Active    bool
}

// Interface номер интерфейса из номера канала
func (c *Channel) Interface() int {
	return int(c.Handle >> 8)
}

// Slot номер тайм-слота внутри интерфейса
func (c *Channel) Slot() int {
	return int(c.Handle & 0xff)
}

func (c *Channel) String() string {
	return fmt.Sprintf("bchannel#%d(%d/%d)", c.Index, c.Interface(), c.Slot())
}

// MakeHandle собирает номер канала из номера интерфейса и слота
func MakeHandle(iface, slot int) uint32 {
	return uint32(iface)<<8 | uint32(slot&0xff)
}

// InterfaceConfig описание интерфейса
type InterfaceConfig struct {
	Name     string `mapstructure:"name"`
	Number   int    `mapstructure:"number"`
	Channels int    `mapstructure:"channels"`
	Blocked  bool   `mapstructure:"blocked"`
}

// InterfaceState состояние интерфейса для администрирования
type InterfaceState struct {
	InterfaceConfig
	Assigned int
	Busy     int
}
