// Package trace ведет трассировку событий вызова: заголовок и список
// элементов, выводимые одной строкой по окончании.
package trace

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const (
	// MaxNested предельная вложенность трассировок
	MaxNested = 1
	// MaxElements предельное число элементов одной трассировки
	MaxElements = 32
)

// Header метаданные трассировки
type Header struct {
	Port      string
	Interface string
	Caller    string
	Dialing   string
	Direction string
	Category  string
	Name      string
}

// Element элемент трассировки
type Element struct {
	Name  string
	Sub   string
	Value string
}

// Sink получает готовые трассировки
type Sink interface {
	Write(h Header, elements []Element, brief string)
}

type record struct {
	header   Header
	elements []Element
}

// Tracer стек трассировок. Используется из одного потока.
type Tracer struct {
	sink  Sink
	stack []record
	// Fatal вызывается при нарушении вложенности; по умолчанию завершает процесс
	Fatal func(msg string)
}

// New создает трассировщик; sink может быть nil
func New(sink Sink) *Tracer {
	return &Tracer{sink: sink, Fatal: defaultFatal}
}

func defaultFatal(msg string) {
	slog.Error("trace: " + msg)
	os.Exit(1)
}

func (t *Tracer) fatal(format string, args ...interface{}) {
	t.Fatal(fmt.Sprintf(format, args...))
}

// Start открывает трассировку
func (t *Tracer) Start(h Header) {
	if len(t.stack) >= MaxNested {
		t.fatal("превышена вложенность трассировок (%d), открыта %q", MaxNested, t.stack[len(t.stack)-1].header.Name)
		return
	}
	t.stack = append(t.stack, record{header: h})
}

// Add добавляет элемент к открытой трассировке
func (t *Tracer) Add(name, sub, format string, args ...interface{}) {
	if len(t.stack) == 0 {
		t.fatal("элемент %q вне трассировки", name)
		return
	}
	if name == "" {
		slog.Error("trace: пустое имя элемента")
		return
	}
	top := &t.stack[len(t.stack)-1]
	if len(top.elements) >= MaxElements {
		slog.Error("trace: превышено число элементов", slog.String("trace", top.header.Name), slog.String("element", name))
		return
	}
	value := format
	if len(args) > 0 {
		value = fmt.Sprintf(format, args...)
	}
	top.elements = append(top.elements, Element{Name: name, Sub: sub, Value: value})
}

// End закрывает трассировку и передает ее получателю
func (t *Tracer) End() {
	if len(t.stack) == 0 {
		t.fatal("завершение трассировки без начала")
		return
	}
	top := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	if t.sink != nil {
		t.sink.Write(top.header, top.elements, Brief(top.header, top.elements))
	}
}

// Depth текущая вложенность
func (t *Tracer) Depth() int {
	return len(t.stack)
}

// Brief краткая форма: "<CATEGORY>: <name>  <elem> <sub>=<value> ..."
func Brief(h Header, elements []Element) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(h.Category))
	b.WriteString(": ")
	b.WriteString(h.Name)
	for _, e := range elements {
		b.WriteString("  ")
		b.WriteString(e.Name)
		switch {
		case e.Sub != "":
			b.WriteString(" ")
			b.WriteString(e.Sub)
			b.WriteString("=")
			b.WriteString(e.Value)
		case e.Value != "":
			b.WriteString(" ")
			b.WriteString(e.Value)
		}
	}
	return b.String()
}
