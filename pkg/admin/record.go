// Package admin реализует протокол администрирования: записи фиксированного
// размера через unix-сокет, запрос состояния и команды блокировки и
// освобождения.
package admin

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Size размер записи протокола
const Size = 256

// Type тип записи
type Type uint32

const (
	TypeRequestState Type = iota + 1
	TypeResponseState
	TypeResponseInterface
	TypeResponseRemote
	TypeResponseJoin
	TypeResponseEndpoint
	TypeResponsePort
	TypeRequestBlock
	TypeRequestRelease
	TypeResponseCmd
)

func (t Type) String() string {
	switch t {
	case TypeRequestState:
		return "REQUEST_STATE"
	case TypeResponseState:
		return "RESPONSE_STATE"
	case TypeResponseInterface:
		return "RESPONSE_S_INTERFACE"
	case TypeResponseRemote:
		return "RESPONSE_S_REMOTE"
	case TypeResponseJoin:
		return "RESPONSE_S_JOIN"
	case TypeResponseEndpoint:
		return "RESPONSE_S_EPOINT"
	case TypeResponsePort:
		return "RESPONSE_S_PORT"
	case TypeRequestBlock:
		return "REQUEST_CMD_BLOCK"
	case TypeRequestRelease:
		return "REQUEST_CMD_RELEASE"
	case TypeResponseCmd:
		return "RESPONSE_CMD"
	default:
		return fmt.Sprintf("Type(%d)", uint32(t))
	}
}

const (
	nameLen    = 32
	fileLen    = 64
	messageLen = 128
	originLen  = 16
)

var order = binary.LittleEndian

// Summary запись RESPONSE_STATE
type Summary struct {
	Version    string
	StartedAt  time.Time
	LogFile    string
	Interfaces int
	Remotes    int
	Joins      int
	Endpoints  int
	Ports      int
	Blocked    bool
}

// Interface запись RESPONSE_S_INTERFACE
type Interface struct {
	Name     string
	Number   int
	Channels int
	Assigned int
	Busy     int
	Blocked  bool
}

// Remote запись RESPONSE_S_REMOTE
type Remote struct {
	App string
	// Peer имя из HELLO уровня маршрутизации
	Peer   string
	Linked bool
}

// Join запись RESPONSE_S_JOIN
type Join struct {
	ID      uint32
	Members int
}

// Endpoint запись RESPONSE_S_EPOINT
type Endpoint struct {
	Ref  uint32
	Call uint64
}

// Port запись RESPONSE_S_PORT
type Port struct {
	Serial  uint64
	Name    string
	State   State
	Channel int
	Caller  string
	Dialed  string
	Origin  string
}

// CmdResult запись RESPONSE_CMD
type CmdResult struct {
	Error   bool
	Message string
}

// record буфер одной записи с последовательной записью и чтением полей
type record struct {
	buf []byte
	off int
}

func newRecord(t Type) *record {
	r := &record{buf: make([]byte, Size)}
	r.putUint32(uint32(t))
	return r
}

func parseRecord(buf []byte) (*record, Type) {
	r := &record{buf: buf}
	return r, Type(r.getUint32())
}

func (r *record) putUint32(v uint32) {
	order.PutUint32(r.buf[r.off:], v)
	r.off += 4
}

func (r *record) putUint64(v uint64) {
	order.PutUint64(r.buf[r.off:], v)
	r.off += 8
}

func (r *record) putBool(v bool) {
	if v {
		r.buf[r.off] = 1
	}
	r.off++
}

// putString пишет строку в поле size байт, обрезая до size-1
func (r *record) putString(s string, size int) {
	if len(s) >= size {
		s = s[:size-1]
	}
	copy(r.buf[r.off:r.off+size], s)
	r.off += size
}

func (r *record) getUint32() uint32 {
	v := order.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *record) getUint64() uint64 {
	v := order.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *record) getBool() bool {
	v := r.buf[r.off] != 0
	r.off++
	return v
}

func (r *record) getString(size int) string {
	b := r.buf[r.off : r.off+size]
	r.off += size
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func encodeSummary(s Summary) []byte {
	r := newRecord(TypeResponseState)
	r.putString(s.Version, nameLen)
	r.putUint64(uint64(s.StartedAt.Unix()))
	r.putString(s.LogFile, fileLen)
	for _, n := range []int{s.Interfaces, s.Remotes, s.Joins, s.Endpoints, s.Ports} {
		r.putUint32(uint32(n))
	}
	r.putBool(s.Blocked)
	return r.buf
}

func decodeSummary(r *record) Summary {
	var s Summary
	s.Version = r.getString(nameLen)
	s.StartedAt = time.Unix(int64(r.getUint64()), 0)
	s.LogFile = r.getString(fileLen)
	s.Interfaces = int(r.getUint32())
	s.Remotes = int(r.getUint32())
	s.Joins = int(r.getUint32())
	s.Endpoints = int(r.getUint32())
	s.Ports = int(r.getUint32())
	s.Blocked = r.getBool()
	return s
}

// count общее число записей, следующих за сводкой
func (s Summary) count() int {
	return s.Interfaces + s.Remotes + s.Joins + s.Endpoints + s.Ports
}

func (s Summary) withinLimits() bool {
	for _, n := range []int{s.Interfaces, s.Remotes, s.Joins, s.Endpoints, s.Ports} {
		if n < 0 || n > maxRecords {
			return false
		}
	}
	return true
}

func encodeInterface(i Interface) []byte {
	r := newRecord(TypeResponseInterface)
	r.putString(i.Name, nameLen)
	r.putUint32(uint32(i.Number))
	r.putUint32(uint32(i.Channels))
	r.putUint32(uint32(i.Assigned))
	r.putUint32(uint32(i.Busy))
	r.putBool(i.Blocked)
	return r.buf
}

func decodeInterface(r *record) Interface {
	return Interface{
		Name:     r.getString(nameLen),
		Number:   int(r.getUint32()),
		Channels: int(r.getUint32()),
		Assigned: int(r.getUint32()),
		Busy:     int(r.getUint32()),
		Blocked:  r.getBool(),
	}
}

func encodeRemote(rm Remote) []byte {
	r := newRecord(TypeResponseRemote)
	r.putString(rm.App, nameLen)
	r.putString(rm.Peer, nameLen)
	r.putBool(rm.Linked)
	return r.buf
}

func decodeRemote(r *record) Remote {
	return Remote{App: r.getString(nameLen), Peer: r.getString(nameLen), Linked: r.getBool()}
}

func encodeJoin(j Join) []byte {
	r := newRecord(TypeResponseJoin)
	r.putUint32(j.ID)
	r.putUint32(uint32(j.Members))
	return r.buf
}

func decodeJoin(r *record) Join {
	return Join{ID: r.getUint32(), Members: int(r.getUint32())}
}

func encodeEndpoint(e Endpoint) []byte {
	r := newRecord(TypeResponseEndpoint)
	r.putUint32(e.Ref)
	r.putUint64(e.Call)
	return r.buf
}

func decodeEndpoint(r *record) Endpoint {
	return Endpoint{Ref: r.getUint32(), Call: r.getUint64()}
}

func encodePort(p Port) []byte {
	r := newRecord(TypeResponsePort)
	r.putUint64(p.Serial)
	r.putString(p.Name, nameLen)
	r.putUint32(uint32(p.State))
	r.putUint32(uint32(int32(p.Channel)))
	r.putString(p.Caller, nameLen)
	r.putString(p.Dialed, nameLen)
	r.putString(p.Origin, originLen)
	return r.buf
}

func decodePort(r *record) Port {
	return Port{
		Serial:  r.getUint64(),
		Name:    r.getString(nameLen),
		State:   State(r.getUint32()),
		Channel: int(int32(r.getUint32())),
		Caller:  r.getString(nameLen),
		Dialed:  r.getString(nameLen),
		Origin:  r.getString(originLen),
	}
}

// encodeBlock пустое имя интерфейса означает блокировку всего порта
func encodeBlock(iface string, block bool) []byte {
	r := newRecord(TypeRequestBlock)
	r.putBool(block)
	r.putString(iface, nameLen)
	return r.buf
}

func encodeRelease(ref uint32) []byte {
	r := newRecord(TypeRequestRelease)
	r.putUint32(ref)
	return r.buf
}

func encodeCmdResult(res CmdResult) []byte {
	r := newRecord(TypeResponseCmd)
	r.putBool(res.Error)
	r.putString(res.Message, messageLen)
	return r.buf
}

func decodeCmdResult(r *record) CmdResult {
	return CmdResult{Error: r.getBool(), Message: r.getString(messageLen)}
}
