package main

import (
	"fmt"
	"os"

	"github.com/danmuck/qmuxd/internal/config"
	"github.com/danmuck/qmuxd/internal/daemon"
	"github.com/danmuck/qmuxd/internal/logging"
	"github.com/danmuck/qmuxd/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "/etc/qmuxd.toml"

func main() {
	configPath := pflag.StringP("config", "c", defaultConfigPath, "Configuration file.")
	adminAddr := pflag.String("admin", "", "Admin HTTP listen address; overrides [admin] addr.")
	logLevel := pflag.String("log-level", "", "Log level: trace, debug, info, warn, error.")
	noAdmin := pflag.Bool("no-admin", false, "Disable the admin HTTP server.")
	help := pflag.BoolP("help", "h", false, "Display help text.")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "qmuxd - QMUX proxy between the host and the baseband.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: qmuxd [options]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	logger := observability.InitLogger("qmuxd")
	cfg, fs, err := loadServiceConfig(*configPath, pflag.CommandLine.Changed("config"))
	if err != nil {
		fail(err)
	}
	applyFlags(&cfg, fs, *adminAddr, *logLevel, *noAdmin)
	logger.Info().
		Str("config", *configPath).
		Bool("rmnet", cfg.Rmnet.Enabled).
		Bool("gps", cfg.GPS.Enabled).
		Bool("admin", cfg.Admin.Enabled).
		Msg("qmuxd starting")

	svc, err := daemon.NewService(cfg)
	if err != nil {
		fail(err)
	}
	if err := svc.Run(); err != nil {
		fail(err)
	}
}

// applyFlags lets command-line values win over the file. The file's log
// level only applies when QMUXD_LOG_LEVEL is unset.
func applyFlags(cfg *config.Config, fs fileSettings, adminAddr, logLevel string, noAdmin bool) {
	if adminAddr != "" {
		cfg.Admin.Addr = adminAddr
		cfg.Admin.Enabled = true
	}
	if noAdmin {
		cfg.Admin.Enabled = false
	}
	switch {
	case logLevel != "":
		cfg.Debug.LogLevel = logLevel
		setLevel(logLevel)
	case fs.logLevelSet && os.Getenv(logging.EnvLogLevel) == "":
		setLevel(cfg.Debug.LogLevel)
	}
}

func setLevel(raw string) {
	if !logging.SetLevel(raw) {
		log.Warn().Str("level", raw).Msg("qmuxd.config unknown log level")
	}
}

func fail(err error) {
	log.Error().Err(err).Msg("qmuxd exit")
	fmt.Fprintf(os.Stderr, "qmuxd: %v\n", err)
	os.Exit(1)
}
