package trace

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/arzzra/callrouter/pkg/config"
	"github.com/arzzra/callrouter/pkg/logger"
)

// LogrusSink пишет трассировки через logrus; категория выводится префиксом
type LogrusSink struct {
	log *logrus.Logger
	out io.Closer
}

// NewLogrusSink пишет в w без цветов
func NewLogrusSink(w io.Writer) *LogrusSink {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.Formatter = &prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		DisableColors:   true,
		ForceFormatting: true,
	}
	return &LogrusSink{log: l}
}

// NewFileSink пишет в файл с ротацией; пустой путь означает stderr
func NewFileSink(cfg config.TraceConfig) *LogrusSink {
	if cfg.File == "" {
		return NewLogrusSink(os.Stderr)
	}
	w := logger.RotatingFile(cfg.File, cfg.Rotation)
	s := NewLogrusSink(w)
	s.out = w
	return s
}

func (s *LogrusSink) Write(h Header, elements []Element, brief string) {
	fields := logrus.Fields{"prefix": h.Category}
	if h.Port != "" {
		fields["port"] = h.Port
	}
	if h.Interface != "" {
		fields["interface"] = h.Interface
	}
	if h.Caller != "" {
		fields["caller"] = h.Caller
	}
	if h.Dialing != "" {
		fields["dialing"] = h.Dialing
	}
	if h.Direction != "" {
		fields["direction"] = h.Direction
	}
	s.log.WithFields(fields).Info(brief)
}

// Close закрывает файл журнала
func (s *LogrusSink) Close() error {
	if s.out == nil {
		return nil
	}
	return s.out.Close()
}
