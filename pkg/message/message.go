// Package message описывает сообщения между маршрутизатором вызовов и уровнем
// маршрутизации (конечными точками).
package message

import (
	"fmt"

	"github.com/arzzra/callrouter/pkg/cause"
)

// Type тип сообщения
type Type uint32

const (
	TypeHello Type = iota + 1
	TypeNewRef
	TypeBChannel
	TypeSetup
	TypeOverlap
	TypeProceeding
	TypeAlerting
	TypeConnect
	TypeDisconnect
	TypeRelease
	TypeInformation
	TypeFacility
)

func (t Type) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypeNewRef:
		return "NEWREF"
	case TypeBChannel:
		return "BCHANNEL"
	case TypeSetup:
		return "SETUP"
	case TypeOverlap:
		return "OVERLAP"
	case TypeProceeding:
		return "PROCEEDING"
	case TypeAlerting:
		return "ALERTING"
	case TypeConnect:
		return "CONNECT"
	case TypeDisconnect:
		return "DISCONNECT"
	case TypeRelease:
		return "RELEASE"
	case TypeInformation:
		return "INFORMATION"
	case TypeFacility:
		return "FACILITY"
	default:
		return fmt.Sprintf("Type(%d)", uint32(t))
	}
}

// Direction направление NEWREF
type Direction uint8

const (
	// DirectionRequest ответ на наш запрос новой ссылки
	DirectionRequest Direction = 0
	// DirectionRouting маршрутизация сама открывает вызов
	DirectionRouting Direction = 1
)

// BChannelType подтип сообщения BCHANNEL
type BChannelType uint8

const (
	BChannelAssign BChannelType = iota + 1
	BChannelAssignAck
	BChannelRemove
	BChannelRemoveAck
)

func (t BChannelType) String() string {
	switch t {
	case BChannelAssign:
		return "ASSIGN"
	case BChannelAssignAck:
		return "ASSIGN_ACK"
	case BChannelRemove:
		return "REMOVE"
	case BChannelRemoveAck:
		return "REMOVE_ACK"
	default:
		return fmt.Sprintf("BChannelType(%d)", uint8(t))
	}
}

// Identity номера вызова
type Identity struct {
	Caller     string
	CallerName string
	Dialed     string
}

// Режимы и информация несущей
const (
	CapabilitySpeech = 0x00
	CapabilityAudio  = 0x10
	ModeCircuit      = 0
	Info1ULaw        = 2
	Info1ALaw        = 3
)

// Capability описание несущей
type Capability struct {
	Capability uint8
	Mode       uint8
	Info1      uint8
}

// BChannel параметры назначения B-канала
type BChannel struct {
	Type     BChannelType
	Handle   uint32
	TxGain   int32
	RxGain   int32
	Pipeline string
	Crypt    []byte
}

// Message сообщение с параметрами. Значимы только поля, относящиеся к Type.
type Message struct {
	Type Type
	Ref  uint32

	Direction  Direction
	App        string
	Identity   Identity
	Capability Capability
	Dialing    string
	Cause      cause.Code
	Location   cause.Location
	BChannel   BChannel
	BridgeID   uint32
	Facility   []byte
}

func (m Message) String() string {
	switch m.Type {
	case TypeRelease, TypeDisconnect:
		return fmt.Sprintf("%s ref=%d cause=%d location=%s", m.Type, m.Ref, int(m.Cause), m.Location)
	case TypeSetup:
		return fmt.Sprintf("%s ref=%d caller=%q dialed=%q", m.Type, m.Ref, m.Identity.Caller, m.Identity.Dialed)
	case TypeBChannel:
		return fmt.Sprintf("%s %s ref=%d handle=%#x", m.Type, m.BChannel.Type, m.Ref, m.BChannel.Handle)
	case TypeNewRef:
		return fmt.Sprintf("%s ref=%d direction=%d", m.Type, m.Ref, m.Direction)
	default:
		return fmt.Sprintf("%s ref=%d", m.Type, m.Ref)
	}
}

// Release собирает RELEASE
func Release(ref uint32, c cause.Code, loc cause.Location) Message {
	return Message{Type: TypeRelease, Ref: ref, Cause: c, Location: loc}
}
