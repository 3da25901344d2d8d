package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/juan-carlos/juancarlos/config"
	"github.com/juan-carlos/juancarlos/helpers"
	"github.com/juan-carlos/juancarlos/logger"
	"github.com/juan-carlos/juancarlos/lsp_server"
	"github.com/juan-carlos/juancarlos/release"
	"github.com/juan-carlos/juancarlos/rpc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// exitError ends the process with code without printing anything.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var rootCmd = &cobra.Command{
	Use:           "juancarlos",
	Version:       release.Version(),
	Short:         "juancarlos lints HTML documents and serves the results to editors.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// change data-dir if present
		if dataDir, _ := cmd.Flags().GetString("data-dir"); len(dataDir) != 0 {
			helpers.SetDataDirPath(dataDir)
		}
	},
}

func loadOptions(cmd *cobra.Command) config.LoadOptions {
	configFile, _ := cmd.Flags().GetString("config")
	return config.LoadOptions{ConfigFile: configFile}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(loadOptions(cmd))
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*zap.SugaredLogger, error) {
	opts := helpers.LogOptions{Level: cfg.Log.Level, JSON: cfg.Log.JSON}
	if isVerbose, _ := cmd.Flags().GetBool("verbose"); isVerbose {
		opts.Level = "debug"
	}

	if isJSON, _ := cmd.Flags().GetBool("log-json"); isJSON {
		opts.JSON = true
	}

	// stdout belongs to the protocol and the command output
	return helpers.NewLogger(os.Stderr, opts)
}

// openHistory opens the history database named by --db, the configuration,
// or the default one in the data directory.
func openHistory(cmd *cobra.Command, cfg *config.Config) (*logger.Logger, error) {
	path := cfg.History.Path
	if dbPath, _ := cmd.Flags().GetString("db"); len(dbPath) != 0 {
		path = dbPath
	}
	return logger.Open(path)
}

// watchConfig calls reload with the new configuration every time one of the
// loaded files changes. It returns nil when no file was loaded.
func watchConfig(cmd *cobra.Command, cfg *config.Config, log *zap.SugaredLogger, reload func(*config.Config) error) (*config.Watcher, error) {
	if len(cfg.Files) == 0 {
		return nil, nil
	}

	opts := loadOptions(cmd)
	return config.NewWatcher(cfg.Files, log, func() {
		newCfg, err := config.Load(opts)
		if err != nil {
			log.Errorw("unable to reload configuration", "error", err)
			return
		}

		if err := reload(newCfg); err != nil {
			log.Errorw("unable to apply configuration", "error", err)
		}
	})
}

func serveMetrics(ctx context.Context, addr string, metrics *lsp_server.Metrics, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infow("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("metrics server stopped", "error", err)
	}
}

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Starts a language server to be consumed by LSP-supported editors",
	Long: `Starts a language server. By default it talks over stdin and stdout;
with --listen every TCP (or, with --websocket, WebSocket) connection gets its
own server.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		log, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := lsp_server.Options{
			Config:  cfg,
			Logger:  log,
			Version: release.ServerVersion(),
		}

		if cfg.History.Enabled {
			history, err := openHistory(cmd, cfg)
			if err != nil {
				return err
			}
			defer history.Close()

			log.Infow("recording history", "session", history.SessionID())
			opts.History = history
		}

		if metricsAddr, _ := cmd.Flags().GetString("metrics-addr"); len(metricsAddr) != 0 {
			opts.Metrics = lsp_server.NewMetrics(nil)
			go serveMetrics(ctx, metricsAddr, opts.Metrics, log)
		}

		listen, _ := cmd.Flags().GetString("listen")
		if len(listen) == 0 {
			srv, err := lsp_server.New(opts)
			if err != nil {
				return err
			}

			watcher, err := watchConfig(cmd, cfg, log, func(newCfg *config.Config) error {
				return srv.ReloadConfig(ctx, newCfg)
			})
			if err != nil {
				return err
			} else if watcher != nil {
				defer watcher.Close()
			}

			log.Infow("starting language server", "transport", "stdio", "version", opts.Version)
			if code := lsp_server.ServeStdio(ctx, srv); code != 0 {
				return &exitError{code: code}
			}
			return nil
		}

		pool := lsp_server.NewPool(opts)
		watcher, err := watchConfig(cmd, cfg, log, func(newCfg *config.Config) error {
			return pool.ReloadConfig(ctx, newCfg)
		})
		if err != nil {
			return err
		} else if watcher != nil {
			defer watcher.Close()
		}

		if isWebsocket, _ := cmd.Flags().GetBool("websocket"); isWebsocket {
			return rpc.StartWebsocketServer(ctx, listen, pool.NewHandler, log)
		}
		return rpc.StartServer(ctx, listen, pool.NewHandler, log)
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules [query]",
	Short: "Lists the available rules and how they are configured",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		statuses := cfg.RuleInfos()
		if len(args) == 1 {
			statuses = searchRules(args[0], statuses)
			if len(statuses) == 0 {
				return errors.WithHint(
					errors.Newf("no rule matches %q", args[0]),
					"run `juancarlos rules` to list every rule",
				)
			}
		}

		format, _ := cmd.Flags().GetString("format")
		return writeRules(cmd.OutOrStdout(), format, statuses)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manages the configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Writes the default configuration to path (.juancarlos.toml by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ProjectConfigName
		if len(args) == 1 {
			path = args[0]
		}

		force, _ := cmd.Flags().GetBool("force")
		if err := config.WriteDefault(path, force); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Prints the files the configuration is loaded from",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if len(cfg.Files) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no configuration files, using the defaults")
		}

		for _, file := range cfg.Files {
			fmt.Fprintln(cmd.OutOrStdout(), file)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lspCmd)
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(sessionIdCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "a configuration file merged over the user and project ones")
	rootCmd.PersistentFlags().String("data-dir", "", "the directory to keep the history and user configuration in. To override the default directory, set the JUANCARLOS_DIR environment variable.")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose mode")
	rootCmd.PersistentFlags().Bool("log-json", false, "write logs as JSON")
	rootCmd.PersistentFlags().String("db", "", "the history database to use instead of the one in the data directory")

	lspCmd.Flags().StringP("listen", "l", "", "serve TCP connections on this address instead of stdio")
	lspCmd.Flags().Bool("websocket", false, "accept WebSocket connections on the --listen address")
	lspCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	rulesCmd.Flags().StringP("format", "f", "text", "output format: text, json or yaml")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	lintCmd.Flags().StringP("format", "f", "text", "output format: text, json or yaml")
	lintCmd.Flags().IntP("jobs", "j", 0, "files to lint at once (defaults to the number of CPUs)")
	lintCmd.Flags().Bool("record", false, "store the results in the history")

	addRunFilterFlags(historyCmd)
	addRunFilterFlags(reportCmd)
	historyCmd.Flags().StringP("format", "f", "text", "output format: text, json or yaml")
	historyCmd.Flags().Bool("stats", false, "summarize the runs per document")
	sessionIdCmd.Flags().Bool("generate", false, "generate a new session ID")
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}

	fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
	for _, hint := range errors.GetAllHints(err) {
		fmt.Fprintln(os.Stderr, color.YellowString("hint:"), hint)
	}
	os.Exit(2)
}
