package rtp

import (
	"fmt"
	"sync"
)

const (
	// DefaultPortBase первый порт пула
	DefaultPortBase = 30000
	// MaxPort верхняя граница номера порта
	MaxPort = 0xffff
)

// PortPool выдает четные порты для пары bearer/control.
// Bearer занимает порт P, control порт P+1. Выдача идет по кругу с шагом 2.
type PortPool struct {
	base      int
	usedPorts map[int]bool
	mutex     sync.Mutex
	nextPort  int
}

// NewPortPool создает пул, начиная с base
func NewPortPool(base int) (*PortPool, error) {
	if base <= 0 || base >= MaxPort-1 {
		return nil, fmt.Errorf("некорректное начало диапазона портов: %d", base)
	}
	if base%2 != 0 {
		return nil, fmt.Errorf("начало диапазона портов должно быть четным: %d", base)
	}
	return &PortPool{
		base:      base,
		usedPorts: make(map[int]bool),
		nextPort:  base,
	}, nil
}

// Capacity количество пар в пуле
func (p *PortPool) Capacity() int {
	return (MaxPort - p.base + 1) / 2
}

func (p *PortPool) advance() {
	p.nextPort += 2
	if p.nextPort+1 > MaxPort {
		p.nextPort = p.base
	}
}

// Allocate выделяет следующий свободный четный порт
func (p *PortPool) Allocate() (int, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	start := p.nextPort
	for {
		port := p.nextPort
		p.advance()
		if !p.usedPorts[port] {
			p.usedPorts[port] = true
			return port, nil
		}
		if p.nextPort == start {
			return 0, fmt.Errorf("все порты в диапазоне %d-%d заняты", p.base, MaxPort)
		}
	}
}

// Release возвращает порт в пул
func (p *PortPool) Release(port int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	delete(p.usedPorts, port)
}

// InUse количество выделенных пар
func (p *PortPool) InUse() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.usedPorts)
}
