package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sunbk201/flowguard/internal/addon"
	"github.com/sunbk201/flowguard/internal/config"
	"github.com/sunbk201/flowguard/internal/intercept"
	"github.com/sunbk201/flowguard/internal/log"
	"github.com/sunbk201/flowguard/internal/statistics"
	"golang.org/x/net/netutil"
)

var (
	AppVersion    = "Development"
	shutdownChain []func() error
)

var rootCmd = &cobra.Command{
	Use:   "flowguard",
	Short: "FlowGuard is a rule-driven flow interceptor",
	Long:  "FlowGuard evaluates filter expressions against proxied HTTP and WebSocket flows, closing matching websocket connections or overriding matching responses.",
	RunE:  runRoot,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Short flags
	rootCmd.Flags().StringP("config", "c", "", "Config file path")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level")
	rootCmd.Flags().BoolP("version", "v", false, "Show version")
	rootCmd.Flags().BoolP("generate-config", "g", false, "Generate template config file")

	// Long flags
	rootCmd.Flags().String("flow-expr", "", `Filter for websocket flows to close. Eg: "~u <regex>"`)
	rootCmd.Flags().String("code", "", "Code to close the websocket connection with")
	rootCmd.Flags().String("flow-expr2", "", `Filter for responses to override. Eg: "~u <regex>"`)
	rootCmd.Flags().String("code2", "", "Status code of the overriding response")
	rootCmd.Flags().String("stats-file", "", "Applied action statistics file")
	rootCmd.Flags().String("metrics", "", "Prometheus metrics listen address, disabled when empty")
	rootCmd.Flags().Int("dedup-size", config.DefaultDedupSize, "Number of handled flow events remembered")
	rootCmd.Flags().Bool("check", false, "Validate the configuration and exit")

	// Bind all flags to viper using consistent key names
	_ = viper.BindPFlag("config", rootCmd.Flags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag(config.OptionFlowExpr, rootCmd.Flags().Lookup("flow-expr"))
	_ = viper.BindPFlag(config.OptionCode, rootCmd.Flags().Lookup("code"))
	_ = viper.BindPFlag(config.OptionFlowExpr2, rootCmd.Flags().Lookup("flow-expr2"))
	_ = viper.BindPFlag(config.OptionCode2, rootCmd.Flags().Lookup("code2"))
	_ = viper.BindPFlag("stats-file", rootCmd.Flags().Lookup("stats-file"))
	_ = viper.BindPFlag("metrics-address", rootCmd.Flags().Lookup("metrics"))
	_ = viper.BindPFlag("dedup-size", rootCmd.Flags().Lookup("dedup-size"))

	// Bind environment variables
	viper.SetEnvPrefix("FLOWGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("config", "FLOWGUARD_CONFIG")
	_ = viper.BindEnv("log-level", "FLOWGUARD_LOG_LEVEL")
	_ = viper.BindEnv(config.OptionFlowExpr, "FLOWGUARD_FLOW_EXPR")
	_ = viper.BindEnv(config.OptionCode, "FLOWGUARD_CODE")
	_ = viper.BindEnv(config.OptionFlowExpr2, "FLOWGUARD_FLOW_EXPR2")
	_ = viper.BindEnv(config.OptionCode2, "FLOWGUARD_CODE2")
	_ = viper.BindEnv("stats-file", "FLOWGUARD_STATS_FILE")
	_ = viper.BindEnv("metrics-address", "FLOWGUARD_METRICS_ADDRESS")
	_ = viper.BindEnv("dedup-size", "FLOWGUARD_DEDUP_SIZE")
}

func initConfig() {
	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.MergeInConfig(); err != nil {
			slog.Error("Failed to read config file", slog.Any("error", err))
			os.Exit(1)
		}
	}
	config.SetDefaults(viper.GetViper())
}

func runRoot(cmd *cobra.Command, args []string) error {
	// Handle -v / --version
	showVer, _ := cmd.Flags().GetBool("version")
	if showVer {
		fmt.Printf("FlowGuard version %s\n", AppVersion)
		return nil
	}

	// Handle -g / --generate-config
	genConfig, _ := cmd.Flags().GetBool("generate-config")
	if genConfig {
		_, err := config.GenerateTemplateConfig(true)
		if err != nil {
			return fmt.Errorf("failed to generate template config: %w", err)
		}
		fmt.Println("Template config file 'config.yaml' generated successfully.")
		return nil
	}

	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// Handle --check
	check, _ := cmd.Flags().GetBool("check")
	if check {
		if err := checkConfig(cfg); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		fmt.Println("Configuration is valid.")
		return nil
	}

	log.SetLogConf(cfg.LogLevel, log.GetLogFilePath())
	log.LogHeader(AppVersion, cfg)

	statsFile := cfg.StatsFile
	if statsFile == "" {
		statsFile = log.GetStatsFilePath("actions")
	}
	recorder := statistics.New(statsFile)
	ctx, cancel := context.WithCancel(context.Background())
	statsDone := recorder.Start(ctx)
	addShutdown("recorder.Stop", func() error {
		cancel()
		<-statsDone
		return nil
	})

	interceptor, opts, err := setup(cfg, recorder)
	if err != nil {
		slog.Error("setup", slog.Any("error", err))
		shutdown()
		return err
	}
	slog.Info("Interceptor ready", slog.Any("rules", interceptor.Store.Rules()))

	if cfg.MetricsAddress != "" {
		srv, err := serveMetrics(cfg.MetricsAddress, recorder)
		if err != nil {
			slog.Error("serveMetrics", slog.Any("error", err))
			shutdown()
			return err
		}
		addShutdown("metrics.Shutdown", func() error {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			slog.Info("Config file changed", slog.String("file", e.Name))
			reload(interceptor, opts)
		})
		viper.WatchConfig()
	}

	cleanup := make(chan os.Signal, 1)
	signal.Notify(cleanup, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	for {
		s := <-cleanup
		slog.Info("Received signal", slog.String("signal", s.String()))
		switch s {
		case syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM:
			shutdown()
			return nil
		case syscall.SIGHUP:
			if viper.ConfigFileUsed() != "" {
				if err := viper.ReadInConfig(); err != nil {
					slog.Warn("viper.ReadInConfig", slog.Any("error", err))
					continue
				}
			}
			reload(interceptor, opts)
		default:
			return nil
		}
	}
}

// setup registers the interceptor options and applies cfg to all of them.
func setup(cfg *config.Config, recorder *statistics.Recorder) (*intercept.Interceptor, *addon.Options, error) {
	interceptor, err := intercept.New(cfg.DedupSize, recorder)
	if err != nil {
		return nil, nil, fmt.Errorf("intercept.New: %w", err)
	}
	opts := addon.NewOptions()
	if err := interceptor.Load(opts); err != nil {
		return nil, nil, fmt.Errorf("interceptor.Load: %w", err)
	}
	_, updateErr := opts.Update(cfg.Options.Values())
	configureErr := interceptor.Configure(opts, addon.Updated(opts.Names()...))
	if err := errors.Join(updateErr, configureErr); err != nil {
		return nil, nil, err
	}
	return interceptor, opts, nil
}

func checkConfig(cfg *config.Config) error {
	_, _, err := setup(cfg, nil)
	return err
}

// reload re-reads the options and hands the changed ones to the interceptor.
// Rejected options keep their previous value.
func reload(interceptor *intercept.Interceptor, opts *addon.Options) {
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		slog.Warn("Config reload rejected", slog.Any("error", err))
		return
	}
	updated, err := opts.Update(cfg.Options.Values())
	if err != nil {
		slog.Warn("Invalid options", slog.Any("error", err))
	}
	if err := interceptor.Configure(opts, updated); err != nil {
		slog.Warn("Config reload partially applied", slog.Any("error", err))
	}
	log.SetLevel(cfg.LogLevel)
}

const maxMetricsConns = 16

func serveMetrics(addr string, recorder *statistics.Recorder) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.Listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Metrics listening", slog.String("address", ln.Addr().String()))
		if err := srv.Serve(netutil.LimitListener(ln, maxMetricsConns)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("srv.Serve", slog.Any("error", err))
		}
	}()
	return srv, nil
}

func addShutdown(name string, fn func() error) {
	shutdownChain = append(shutdownChain, func() error {
		if err := fn(); err != nil {
			slog.Error(name, slog.Any("error", err))
			return err
		}
		return nil
	})
}

func shutdown() {
	for i := len(shutdownChain) - 1; i >= 0; i-- {
		_ = shutdownChain[i]()
	}
	slog.Info("FlowGuard exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
