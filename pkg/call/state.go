package call

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// Состояния вызова
const (
	StateInPrepare     = "IN_PREPARE"
	StateInSetup       = "IN_SETUP"
	StateInProceeding  = "IN_PROCEEDING"
	StateInAlerting    = "IN_ALERTING"
	StateOutPrepare    = "OUT_PREPARE"
	StateOutSetup      = "OUT_SETUP"
	StateOutDialing    = "OUT_DIALING"
	StateOutProceeding = "OUT_PROCEEDING"
	StateOutAlerting   = "OUT_ALERTING"
	StateConnect       = "CONNECT"
	StateRelease       = "RELEASE"
)

// События автомата
const (
	eventSetup      = "setup"
	eventDialing    = "dialing"
	eventProceeding = "proceeding"
	eventAlerting   = "alerting"
	eventConnect    = "connect"
	eventRelease    = "release"
)

var (
	inboundEarly  = []string{StateInPrepare, StateInSetup, StateInProceeding, StateInAlerting}
	outboundEarly = []string{StateOutPrepare, StateOutSetup, StateOutDialing, StateOutProceeding, StateOutAlerting}
)

func allLive() []string {
	states := make([]string, 0, len(inboundEarly)+len(outboundEarly)+1)
	states = append(states, inboundEarly...)
	states = append(states, outboundEarly...)
	return append(states, StateConnect)
}

// initStateMachine инициализирует конечный автомат состояний
func (c *Call) initStateMachine(initial string) {
	c.stateMachine = fsm.NewFSM(
		initial,
		fsm.Events{
			// Входящий INVITE принят в обработку / исходящий INVITE отправлен
			{Name: eventSetup, Src: []string{StateInPrepare}, Dst: StateInSetup},
			{Name: eventSetup, Src: []string{StateOutPrepare}, Dst: StateOutSetup},
			// Сторона запросила донабор
			{Name: eventDialing, Src: []string{StateOutSetup}, Dst: StateOutDialing},
			{Name: eventProceeding, Src: []string{StateInSetup}, Dst: StateInProceeding},
			{Name: eventProceeding, Src: []string{StateOutSetup, StateOutDialing}, Dst: StateOutProceeding},
			{Name: eventAlerting, Src: []string{StateInSetup, StateInProceeding}, Dst: StateInAlerting},
			{Name: eventAlerting, Src: []string{StateOutSetup, StateOutDialing, StateOutProceeding}, Dst: StateOutAlerting},
			{Name: eventConnect, Src: []string{StateInSetup, StateInProceeding, StateInAlerting}, Dst: StateConnect},
			{Name: eventConnect, Src: []string{StateOutSetup, StateOutDialing, StateOutProceeding, StateOutAlerting}, Dst: StateConnect},
			// Освобождение достижимо из любого состояния
			{Name: eventRelease, Src: allLive(), Dst: StateRelease},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				c.handleStateChange(e)
			},
		},
	)
}

// handleStateChange обрабатывает изменение состояния
func (c *Call) handleStateChange(e *fsm.Event) {
	c.logger.Debug("Call: смена состояния", slog.String("from", e.Src), slog.String("to", e.Dst))
	c.env.Metrics.StateTransition(e.Src, e.Dst)
}

// State текущее состояние
func (c *Call) State() string {
	return c.stateMachine.Current()
}

func (c *Call) is(states ...string) bool {
	current := c.stateMachine.Current()
	for _, s := range states {
		if s == current {
			return true
		}
	}
	return false
}

// fire выполняет переход. Недопустимое событие только логируется.
func (c *Call) fire(event string) bool {
	if err := c.stateMachine.Event(context.Background(), event); err != nil {
		if _, ok := err.(fsm.NoTransitionError); ok {
			return true
		}
		c.logger.Warn("Call: переход отклонен", slog.String("event", event), slog.String("state", c.State()), slog.Any("error", err))
		return false
	}
	return true
}
