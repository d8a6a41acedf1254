package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BTreeMap/SalonBot/internal/config"
	"github.com/spf13/cobra"
)

// app carries the loaded configuration and the flag values shared by every command.
type app struct {
	cfg config.Config

	stateDir    string
	dbDSN       string
	logLevel    string
	transport   string
	apiAddr     string
	whatsappDSN string
	qrOutput    string
	numeric     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "SalonBot",
		Short: "WhatsApp assistant for a hair salon",
		Long: `SalonBot answers WhatsApp messages for the salon: it greets contacts who send a
trigger keyword, walks new clients through registration and offers the main menu
to known clients. Conversation state, clients and cooldowns are kept in the store.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.stateDir, "state-dir", "", "state directory for SalonBot data (overrides $SALONBOT_STATE_DIR)")
	pf.StringVar(&a.dbDSN, "db-dsn", "", "store DSN: SQLite path, postgres:// or redis:// URL (overrides $DATABASE_URL)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides $LOG_LEVEL)")

	root.AddCommand(newServeCmd(a), newClientsCmd(a), newResetCmd(a))
	return root
}

// load reads the environment, applies explicitly set flags and installs the logger.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.applyFlags(cmd, &cfg)
	a.cfg = cfg
	initializeLogger(cfg.SlogLevel())

	slog.Debug("configuration loaded",
		"state_dir", cfg.StateDir,
		"dsn_set", cfg.DatabaseURL != "",
		"transport", cfg.Transport,
		"api_addr", cfg.APIAddr,
		"nats_set", cfg.NATSURL != "",
		"timezone", cfg.Timezone,
		"cooldown", cfg.Cooldown,
		"typing_delay", cfg.TypingDelay)
	return nil
}

// applyFlags overrides cfg with the flags the user actually passed.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("state-dir") {
		cfg.StateDir = a.stateDir
	}
	if flags.Changed("db-dsn") {
		cfg.DatabaseURL = a.dbDSN
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("transport") {
		cfg.Transport = a.transport
	}
	if flags.Changed("api-addr") {
		cfg.APIAddr = a.apiAddr
	}
	if flags.Changed("whatsapp-dsn") {
		cfg.WhatsAppDSN = a.whatsappDSN
	}
}

func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
