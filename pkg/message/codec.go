package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/arzzra/callrouter/pkg/cause"
)

// Size размер записи сообщения на канале маршрутизации
const Size = 512

// Размеры строковых полей
const (
	numberLen   = 32
	pipelineLen = 64
	cryptLen    = 64
	facilityLen = 128
)

// Смещения полей тела записи
const (
	offType       = 0
	offRef        = 4
	offDirection  = 8
	offCause      = 9
	offLocation   = 10
	offCapability = 11
	offMode       = 12
	offInfo1      = 13
	offBChanType  = 14
	offHandle     = 16
	offTxGain     = 20
	offRxGain     = 24
	offBridge     = 28
	offCryptLen   = 32
	offCrypt      = 33
	offPipeline   = offCrypt + cryptLen
	offCaller     = offPipeline + pipelineLen
	offCallerName = offCaller + numberLen
	offDialed     = offCallerName + numberLen
	offDialing    = offDialed + numberLen
	offApp        = offDialing + numberLen
	offFacLen     = offApp + numberLen
	offFacility   = offFacLen + 2
)

var order = binary.LittleEndian

// ErrFieldTooLong поле не помещается в запись
var ErrFieldTooLong = errors.New("поле сообщения слишком длинное")

// Marshal кодирует сообщение в запись фиксированного размера
func Marshal(m Message) ([]byte, error) {
	buf := make([]byte, Size)
	if err := MarshalTo(buf, m); err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalTo кодирует сообщение в buf длиной не меньше Size
func MarshalTo(buf []byte, m Message) error {
	if len(buf) < Size {
		return fmt.Errorf("буфер %d байт меньше записи %d", len(buf), Size)
	}
	buf = buf[:Size]
	clear(buf)

	order.PutUint32(buf[offType:], uint32(m.Type))
	order.PutUint32(buf[offRef:], m.Ref)
	buf[offDirection] = byte(m.Direction)
	buf[offCause] = byte(m.Cause)
	buf[offLocation] = byte(m.Location)
	buf[offCapability] = m.Capability.Capability
	buf[offMode] = m.Capability.Mode
	buf[offInfo1] = m.Capability.Info1
	buf[offBChanType] = byte(m.BChannel.Type)
	order.PutUint32(buf[offHandle:], m.BChannel.Handle)
	order.PutUint32(buf[offTxGain:], uint32(m.BChannel.TxGain))
	order.PutUint32(buf[offRxGain:], uint32(m.BChannel.RxGain))
	order.PutUint32(buf[offBridge:], m.BridgeID)

	if len(m.BChannel.Crypt) > cryptLen {
		return fmt.Errorf("%w: ключ %d байт", ErrFieldTooLong, len(m.BChannel.Crypt))
	}
	buf[offCryptLen] = byte(len(m.BChannel.Crypt))
	copy(buf[offCrypt:], m.BChannel.Crypt)

	if len(m.Facility) > facilityLen {
		return fmt.Errorf("%w: facility %d байт", ErrFieldTooLong, len(m.Facility))
	}
	order.PutUint16(buf[offFacLen:], uint16(len(m.Facility)))
	copy(buf[offFacility:], m.Facility)

	fields := []struct {
		name string
		off  int
		size int
		val  string
	}{
		{"pipeline", offPipeline, pipelineLen, m.BChannel.Pipeline},
		{"caller", offCaller, numberLen, m.Identity.Caller},
		{"caller name", offCallerName, numberLen, m.Identity.CallerName},
		{"dialed", offDialed, numberLen, m.Identity.Dialed},
		{"dialing", offDialing, numberLen, m.Dialing},
		{"app", offApp, numberLen, m.App},
	}
	for _, f := range fields {
		if len(f.val) >= f.size {
			return fmt.Errorf("%w: %s %q", ErrFieldTooLong, f.name, f.val)
		}
		copy(buf[f.off:f.off+f.size], f.val)
	}
	return nil
}

// Unmarshal разбирает запись
func Unmarshal(buf []byte) (Message, error) {
	if len(buf) < Size {
		return Message{}, fmt.Errorf("короткая запись: %d байт из %d", len(buf), Size)
	}

	var m Message
	m.Type = Type(order.Uint32(buf[offType:]))
	m.Ref = order.Uint32(buf[offRef:])
	m.Direction = Direction(buf[offDirection])
	m.Cause = cause.Code(buf[offCause])
	m.Location = cause.Location(buf[offLocation])
	m.Capability = Capability{Capability: buf[offCapability], Mode: buf[offMode], Info1: buf[offInfo1]}
	m.BChannel.Type = BChannelType(buf[offBChanType])
	m.BChannel.Handle = order.Uint32(buf[offHandle:])
	m.BChannel.TxGain = int32(order.Uint32(buf[offTxGain:]))
	m.BChannel.RxGain = int32(order.Uint32(buf[offRxGain:]))
	m.BridgeID = order.Uint32(buf[offBridge:])

	if n := int(buf[offCryptLen]); n > 0 {
		if n > cryptLen {
			return Message{}, fmt.Errorf("%w: ключ %d байт", ErrFieldTooLong, n)
		}
		m.BChannel.Crypt = append([]byte(nil), buf[offCrypt:offCrypt+n]...)
	}
	if n := int(order.Uint16(buf[offFacLen:])); n > 0 {
		if n > facilityLen {
			return Message{}, fmt.Errorf("%w: facility %d байт", ErrFieldTooLong, n)
		}
		m.Facility = append([]byte(nil), buf[offFacility:offFacility+n]...)
	}

	m.BChannel.Pipeline = cString(buf[offPipeline : offPipeline+pipelineLen])
	m.Identity.Caller = cString(buf[offCaller : offCaller+numberLen])
	m.Identity.CallerName = cString(buf[offCallerName : offCallerName+numberLen])
	m.Identity.Dialed = cString(buf[offDialed : offDialed+numberLen])
	m.Dialing = cString(buf[offDialing : offDialing+numberLen])
	m.App = cString(buf[offApp : offApp+numberLen])
	return m, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
