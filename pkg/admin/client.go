package admin

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// maxRecords предел записей одного вида в ответе на запрос состояния
const maxRecords = 4096

// ErrCommandFailed команда отклонена маршрутизатором
var ErrCommandFailed = errors.New("команда не выполнена")

// Client клиент сокета администрирования
type Client struct {
	conn net.Conn
}

// Dial подключается к сокету path
func Dial(path string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "нет связи с %s", path)
	}
	return NewClient(conn), nil
}

// NewClient оборачивает готовое соединение
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Close закрывает соединение
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) deadline(ctx context.Context) {
	if d, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(d)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
}

func (c *Client) send(rec []byte) error {
	if _, err := c.conn.Write(rec); err != nil {
		return errors.Wrap(err, "Broken pipe while sending command.")
	}
	return nil
}

// State запрашивает состояние. Записи после сводки читаются целиком
// (count × Size байт) и проверяются по порядку следования.
func (c *Client) State(ctx context.Context) (*Report, error) {
	c.deadline(ctx)
	if err := c.send(newRecord(TypeRequestState).buf); err != nil {
		return nil, err
	}

	head := make([]byte, Size)
	if _, err := io.ReadFull(c.conn, head); err != nil {
		return nil, errors.Wrap(err, "Broken pipe while receiving response.")
	}
	rec, t := parseRecord(head)
	if t != TypeResponseState {
		return nil, errors.New("Response not valid. Expecting state response.")
	}
	rep := &Report{Summary: decodeSummary(rec)}

	if !rep.Summary.withinLimits() {
		return nil, errors.New("Response not valid. Too many records.")
	}
	n := rep.Summary.count()
	if n == 0 {
		return rep, nil
	}
	body := make([]byte, n*Size)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, errors.Wrap(err, "Broken pipe while receiving state infos.")
	}
	if err := rep.decode(body); err != nil {
		return nil, err
	}
	return rep, nil
}

// decode разбирает записи после сводки, проверяя тип каждой позиции
func (rep *Report) decode(body []byte) error {
	j := 0
	next := func(want Type, kind string) (*record, error) {
		rec, t := parseRecord(body[j*Size : (j+1)*Size])
		j++
		if t != want {
			return nil, errors.Errorf("Response not valid. Expecting %s information.", kind)
		}
		return rec, nil
	}

	s := rep.Summary
	for i := 0; i < s.Interfaces; i++ {
		rec, err := next(TypeResponseInterface, "interface")
		if err != nil {
			return err
		}
		rep.Interfaces = append(rep.Interfaces, decodeInterface(rec))
	}
	for i := 0; i < s.Remotes; i++ {
		rec, err := next(TypeResponseRemote, "remote application")
		if err != nil {
			return err
		}
		rep.Remotes = append(rep.Remotes, decodeRemote(rec))
	}
	for i := 0; i < s.Joins; i++ {
		rec, err := next(TypeResponseJoin, "join")
		if err != nil {
			return err
		}
		rep.Joins = append(rep.Joins, decodeJoin(rec))
	}
	for i := 0; i < s.Endpoints; i++ {
		rec, err := next(TypeResponseEndpoint, "endpoint")
		if err != nil {
			return err
		}
		rep.Endpoints = append(rep.Endpoints, decodeEndpoint(rec))
	}
	for i := 0; i < s.Ports; i++ {
		rec, err := next(TypeResponsePort, "port")
		if err != nil {
			return err
		}
		rep.Ports = append(rep.Ports, decodePort(rec))
	}
	return nil
}

// Block блокирует или разблокирует порт; с непустым iface только интерфейс
func (c *Client) Block(ctx context.Context, iface string, blocked bool) error {
	return c.command(ctx, encodeBlock(iface, blocked))
}

// Release освобождает вызов, привязанный к ссылке ref
func (c *Client) Release(ctx context.Context, ref uint32) error {
	return c.command(ctx, encodeRelease(ref))
}

func (c *Client) command(ctx context.Context, req []byte) error {
	c.deadline(ctx)
	if err := c.send(req); err != nil {
		return err
	}
	buf := make([]byte, Size)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return errors.Wrap(err, "Broken pipe while receiving response.")
	}
	rec, t := parseRecord(buf)
	if t != TypeResponseCmd {
		return errors.New("Response not valid.")
	}
	res := decodeCmdResult(rec)
	if res.Error {
		return errors.Wrap(ErrCommandFailed, res.Message)
	}
	return nil
}
