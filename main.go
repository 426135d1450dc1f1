// soundgrab CLI entry point
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/batalabs/soundgrab/internal/bot"
	"github.com/batalabs/soundgrab/internal/config"
	"github.com/batalabs/soundgrab/internal/daemon"
	"github.com/batalabs/soundgrab/internal/download"
	"github.com/batalabs/soundgrab/internal/metrics"
	"github.com/batalabs/soundgrab/internal/service"
	"github.com/batalabs/soundgrab/internal/session"
	"github.com/batalabs/soundgrab/internal/source"
	"github.com/batalabs/soundgrab/internal/store"
	"github.com/batalabs/soundgrab/internal/telegram"
)

var version = "dev"

func init() {
	if version != "dev" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
}

const (
	defaultRetention = 90 * 24 * time.Hour
	shutdownTimeout  = 30 * time.Second
	pruneInterval    = 24 * time.Hour
)

var (
	debugFlag     bool
	retentionFlag time.Duration
	olderThanFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "soundgrab",
	Short:         "Telegram bot that searches SoundCloud and sends tracks as audio",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadDotEnv()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot in the foreground",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "soundgrab %s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config [show|<group>|get <key>|set <key> <value>|reset <key>]",
	Short: "Show or change settings in " + config.ConfigFilePath(),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefs := config.LoadPreferences()
		msg, err := config.ExecuteConfigAction(&prefs, args)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

var serviceCmd = &cobra.Command{
	Use:       "service <install|uninstall|status|start|stop>",
	Short:     "Manage the background service",
	Args:      cobra.ExactArgs(1),
	ValidArgs: service.Actions,
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.HandleCommand(args[0])
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the bot is running",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), service.BotStatus(cmd.Context()))
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the bot token, the store and yt-dlp",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd.Context(), cmd.OutOrStdout())
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete delivery history older than --older-than",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prefs := config.ApplyEnv(config.LoadPreferences())
		st, err := openStore(prefs)
		if err != nil {
			return err
		}
		defer st.Close()
		n, err := st.PruneHistory(time.Now().Add(-olderThanFlag))
		if err != nil {
			return fmt.Errorf("pruning history: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s deliveries older than %s.\n", humanize.Comma(n), olderThanFlag)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "log at debug level")
	rootCmd.Flags().DurationVar(&retentionFlag, "retention", defaultRetention, "delivery history to keep (0 keeps everything)")
	runCmd.Flags().DurationVar(&retentionFlag, "retention", defaultRetention, "delivery history to keep (0 keeps everything)")
	pruneCmd.Flags().DurationVar(&olderThanFlag, "older-than", defaultRetention, "age of history entries to delete")

	rootCmd.AddCommand(runCmd, versionCmd, configCmd, serviceCmd, statusCmd, checkCmd, pruneCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func openStore(prefs config.Preferences) (*store.Store, error) {
	path, err := prefs.ResolvedStorePath()
	if err != nil {
		return nil, fmt.Errorf("resolving store path: %w", err)
	}
	st, err := store.OpenStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	return st, nil
}

func newSource(prefs config.Preferences, log *zap.Logger) *source.YTDLP {
	return source.NewYTDLP(source.YTDLPConfig{
		Path:          prefs.YtdlpPath,
		Proxy:         prefs.YtdlpProxy,
		SearchTimeout: prefs.SearchTimeoutDuration(),
		LikesTimeout:  prefs.LikesTimeoutDuration(),
		FetchTimeout:  prefs.DownloadTimeoutDuration(),
	}, log.Named("ytdlp"))
}

func runBot(parent context.Context) error {
	prefs := config.ApplyEnv(config.LoadPreferences())

	logger := config.NewLogger(prefs.LogDebug || debugFlag)
	defer logger.Close()
	log := logger.Logger

	tgCfg, err := config.LoadTelegramConfig(prefs)
	if err != nil {
		return err
	}
	if err := daemon.AcquireLock(prefs.MetricsAddr); err != nil {
		return err
	}
	defer func() {
		if err := daemon.RemoveLockfile(); err != nil {
			log.Warn("remove lockfile", zap.Error(err))
		}
	}()

	st, err := openStore(prefs)
	if err != nil {
		return err
	}
	defer st.Close()

	var m *metrics.Metrics
	sessions := session.NewStore(prefs.SessionTTLDuration(), func(chatID int64) {
		m.SessionEvicted()
		log.Debug("session expired", zap.Int64("chat_id", chatID))
	})
	m = metrics.New(sessions.Len)

	// Handlers outlive the signal so in-flight downloads can finish during shutdown.
	dispatcher := session.NewDispatcher(context.Background(), log.Named("dispatch"))

	adapter, err := telegram.NewAdapter(tgCfg, telegram.Options{
		Dispatcher: dispatcher,
		Metrics:    m,
		Log:        log,
	})
	if err != nil {
		return err
	}

	src := newSource(prefs, log)
	pipeline := download.NewPipeline(adapter, src, st, m, log.Named("download"))
	ctrl := bot.NewController(bot.Deps{
		Messenger: adapter,
		Source:    src,
		Sessions:  sessions,
		Deliverer: pipeline,
		History:   st,
		Metrics:   m,
		Log:       log.Named("bot"),
	}, bot.Options{
		SearchLimit: prefs.SearchLimit,
		LikesLimit:  prefs.LikesLimit,
		PageSize:    prefs.PageSize,
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := adapter.SetCommands(ctx); err != nil {
		log.Warn("register command menu", zap.Error(err))
	}

	var srv *daemon.Server
	if prefs.MetricsAddr != "" {
		srv = daemon.NewServer(daemon.Options{
			Store:       st,
			Sessions:    sessions.Len,
			ActiveChats: dispatcher.Active,
			BotName:     adapter.BotName(),
			Metrics:     m,
			Log:         log,
		})
		go func() {
			if err := srv.Start(prefs.MetricsAddr); err != nil {
				log.Error("health endpoint stopped", zap.Error(err))
			}
		}()
	}

	if retentionFlag > 0 {
		go pruneLoop(ctx, st, retentionFlag, log)
	}

	log.Info("soundgrab started",
		zap.String("version", version),
		zap.String("bot", adapter.BotName()),
		zap.String("log_file", config.LogPath()),
	)
	runErr := adapter.Run(ctx, ctrl)

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("handlers still running at shutdown", zap.Error(err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("health endpoint shutdown", zap.Error(err))
		}
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// pruneLoop deletes history older than retention now and once a day.
func pruneLoop(ctx context.Context, st *store.Store, retention time.Duration, log *zap.Logger) {
	prune := func() {
		n, err := st.PruneHistory(time.Now().Add(-retention))
		if err != nil {
			log.Warn("prune history", zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("pruned delivery history", zap.Int64("rows", n))
		}
	}
	prune()
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			prune()
		}
	}
}

// runCheck verifies each external dependency and reports one line per check.
func runCheck(ctx context.Context, w io.Writer) error {
	prefs := config.ApplyEnv(config.LoadPreferences())
	log := zap.NewNop()
	failed := 0
	report := func(name string, err error, detail string) {
		if err != nil {
			failed++
			fmt.Fprintf(w, "✗ %-9s %v\n", name, err)
			return
		}
		fmt.Fprintf(w, "✓ %-9s %s\n", name, detail)
	}

	fmt.Fprintf(w, "config    %s\n", config.ConfigFilePath())

	if tgCfg, err := config.LoadTelegramConfig(prefs); err != nil {
		report("telegram", err, "")
	} else if a, err := telegram.NewAdapter(tgCfg, telegram.Options{Log: log}); err != nil {
		report("telegram", err, "")
	} else {
		report("telegram", nil, "@"+a.BotName())
	}

	if st, err := openStore(prefs); err != nil {
		report("store", err, "")
	} else {
		err := st.Ping()
		path, _ := prefs.ResolvedStorePath()
		report("store", err, path)
		st.Close()
	}

	tracks, err := newSource(prefs, log).Search(ctx, "test", 1)
	switch {
	case err != nil:
		report("yt-dlp", err, "")
	case len(tracks) == 0:
		report("yt-dlp", errors.New("search returned no tracks"), "")
	default:
		report("yt-dlp", nil, "search ok: "+tracks[0].DisplayTitle())
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
