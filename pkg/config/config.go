// Package config загружает конфигурацию маршрутизатора через viper.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arzzra/callrouter/pkg/bchannel"
	"github.com/arzzra/callrouter/pkg/rtp"
)

// EnvPrefix префикс переменных окружения: LCR_SIP_LISTEN и т.д.
const EnvPrefix = "LCR"

// Config конфигурация процесса
type Config struct {
	// Law закон компандирования: "a" или "u"
	Law      string         `mapstructure:"law"`
	SIP      SIPConfig      `mapstructure:"sip"`
	RTP      RTPConfig      `mapstructure:"rtp"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Admin    AdminConfig    `mapstructure:"admin"`
	BChannel BChannelConfig `mapstructure:"bchannel"`
	Log      LogConfig      `mapstructure:"log"`
	Trace    TraceConfig    `mapstructure:"trace"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// SIPConfig сигнализация SIP
type SIPConfig struct {
	Listen    string `mapstructure:"listen"`
	Transport string `mapstructure:"transport"`
	// LocalIP адрес в SDP и в From исходящих вызовов
	LocalIP string `mapstructure:"local_ip"`
	// Remote шлюз-собеседник host[:port] для исходящих вызовов
	Remote    string `mapstructure:"remote"`
	UserAgent string `mapstructure:"user_agent"`
}

// RTPConfig медиа
type RTPConfig struct {
	PortBase int `mapstructure:"port_base"`
}

// RoutingConfig связь с уровнем маршрутизации
type RoutingConfig struct {
	Socket            string        `mapstructure:"socket"`
	AppName           string        `mapstructure:"app_name"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// AdminConfig сокет администрирования
type AdminConfig struct {
	Socket string `mapstructure:"socket"`
}

// BChannelConfig B-каналы
type BChannelConfig struct {
	Interfaces   []bchannel.InterfaceConfig `mapstructure:"interfaces"`
	PollInterval time.Duration              `mapstructure:"poll_interval"`
}

// RotationConfig ротация файла
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogConfig журнал
type LogConfig struct {
	Level    string         `mapstructure:"level"`
	Format   string         `mapstructure:"format"`
	File     string         `mapstructure:"file"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// TraceConfig журнал трассировки вызовов
type TraceConfig struct {
	File     string         `mapstructure:"file"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// MetricsConfig экспорт метрик
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Listen    string `mapstructure:"listen"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Load читает конфигурацию из файла path (может быть пустым) и окружения
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("law", "a")

	v.SetDefault("sip.listen", "0.0.0.0:5060")
	v.SetDefault("sip.transport", "udp")
	v.SetDefault("sip.local_ip", "127.0.0.1")
	v.SetDefault("sip.remote", "127.0.0.1:5062")
	v.SetDefault("sip.user_agent", "LCR-SIP/1.0")

	v.SetDefault("rtp.port_base", rtp.DefaultPortBase)

	v.SetDefault("routing.socket", "/var/run/lcr/router.sock")
	v.SetDefault("routing.app_name", "sip")
	v.SetDefault("routing.reconnect_interval", "1s")
	v.SetDefault("routing.write_timeout", "5ms")

	v.SetDefault("admin.socket", "/var/run/lcr/admin.sock")

	v.SetDefault("bchannel.poll_interval", "20ms")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.rotation.max_size_mb", 100)
	v.SetDefault("log.rotation.max_backups", 5)
	v.SetDefault("log.rotation.max_age_days", 30)

	v.SetDefault("trace.rotation.max_size_mb", 100)
	v.SetDefault("trace.rotation.max_backups", 5)
	v.SetDefault("trace.rotation.max_age_days", 30)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9095")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "lcr")
}

// Validate проверяет значения и дополняет отсутствующие интерфейсы
func (c *Config) Validate() error {
	if _, err := rtp.ParseLaw(c.Law); err != nil {
		return err
	}
	if net.ParseIP(c.SIP.LocalIP) == nil {
		return fmt.Errorf("sip.local_ip: некорректный адрес %q", c.SIP.LocalIP)
	}
	if c.SIP.Remote == "" {
		return fmt.Errorf("sip.remote не задан")
	}
	if _, err := rtp.NewPortPool(c.RTP.PortBase); err != nil {
		return fmt.Errorf("rtp.port_base: %w", err)
	}
	if c.BChannel.PollInterval <= 0 {
		return fmt.Errorf("bchannel.poll_interval должен быть положительным")
	}

	if len(c.BChannel.Interfaces) == 0 {
		c.BChannel.Interfaces = []bchannel.InterfaceConfig{{Name: "loop", Number: 1, Channels: 30}}
	}
	names := make(map[string]bool)
	numbers := make(map[int]bool)
	for _, iface := range c.BChannel.Interfaces {
		if iface.Name == "" {
			return fmt.Errorf("bchannel.interfaces: пустое имя интерфейса")
		}
		if names[iface.Name] || numbers[iface.Number] {
			return fmt.Errorf("bchannel.interfaces: повтор интерфейса %q/%d", iface.Name, iface.Number)
		}
		if iface.Number <= 0 || iface.Number > 0xffff {
			return fmt.Errorf("bchannel.interfaces: некорректный номер интерфейса %d", iface.Number)
		}
		if iface.Channels <= 0 || iface.Channels > 0xff {
			return fmt.Errorf("bchannel.interfaces: интерфейс %q: число каналов %d вне 1..255", iface.Name, iface.Channels)
		}
		names[iface.Name] = true
		numbers[iface.Number] = true
	}
	return nil
}

// LawValue возвращает разобранный закон компандирования
func (c *Config) LawValue() rtp.Law {
	law, _ := rtp.ParseLaw(c.Law)
	return law
}
