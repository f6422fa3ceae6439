package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arzzra/callrouter/pkg/config"
)

// version заполняется при сборке через -ldflags
var version = "dev"

var (
	configPath string
	adminPath  string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "lcrd",
	Short: "SIP-порт маршрутизатора вызовов",
	Long: `lcrd связывает SIP-сигнализацию и RTP с B-каналами и уровнем маршрутизации.

Команда serve запускает процесс, остальные команды обращаются к нему
через сокет администрирования.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "файл конфигурации (yaml, toml, json)")
	rootCmd.PersistentFlags().StringVar(&adminPath, "admin-socket", "", "сокет администрирования; по умолчанию из конфигурации")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "таймаут запроса администрирования")
	rootCmd.Version = version

	rootCmd.AddCommand(serveCmd, stateCmd, blockCmd, unblockCmd, releaseCmd)
}

// Execute запускает корневую команду
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// adminSocket путь сокета администрирования: флаг или конфигурация
func adminSocket() (string, error) {
	if adminPath != "" {
		return adminPath, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.Admin.Socket, nil
}
