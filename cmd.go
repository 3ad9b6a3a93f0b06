package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"typeless/audio"
	"typeless/config"
	"typeless/doctor"
	"typeless/log"
)

type globalFlags struct {
	logPath string
	envFile string
	debug   bool
	otel    bool

	cfg          *config.Config
	shutdownOtel func(context.Context) error
}

func rootCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "typeless",
		Short:         "Stream microphone audio to a real-time transcription server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&g.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file with TYPELESS_* settings")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "verbose diagnostics log")
	cmd.PersistentFlags().BoolVar(&g.otel, "otel", false, "export traces to OTEL_EXPORTER_OTLP_ENDPOINT")

	cmd.AddCommand(
		streamCmd(g),
		devicesCmd(),
		doctorCmd(g),
		mockServerCmd(g),
		versionCmd(),
	)
	return cmd
}

func (g *globalFlags) setup(ctx context.Context) error {
	cfg, err := config.Load(g.envFile)
	if err != nil {
		return err
	}
	g.cfg = cfg

	logFlag := g.logPath
	if logFlag == "" {
		logFlag = cfg.LogPath
	}
	dir, err := log.ResolveDir(logFlag)
	if err != nil {
		return fmt.Errorf("resolving log directory: %w", err)
	}
	log.SetDir(dir)
	log.SetDebug(g.debug)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	} else {
		initCrashLog()
	}

	if g.otel {
		if ctx == nil {
			ctx = context.Background()
		}
		shutdown, err := initOTelSDK(ctx)
		if err != nil {
			log.Warnf("opentelemetry disabled: %v", err)
		}
		g.shutdownOtel = shutdown
	}
	return nil
}

func (g *globalFlags) teardown() {
	if g.shutdownOtel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := g.shutdownOtel(ctx); err != nil {
			log.Warnf("flushing traces: %v", err)
		}
		cancel()
	}
	log.Close()
}

// initCrashLog sends fatal runtime errors to crash_log.txt next to the
// diagnostics log.
func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	f, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(f, debug.CrashOptions{})
	f.Close()
}

func devicesCmd() *cobra.Command {
	var pick bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actx, err := audio.NewContext()
			if err != nil {
				return fmt.Errorf("initializing audio: %w", err)
			}
			defer actx.Close()

			if pick {
				dev, err := audio.SelectDevice(actx)
				if errors.Is(err, audio.ErrSelectionCancelled) {
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), dev.Name)
				return nil
			}

			devices, err := actx.Devices()
			if err != nil {
				return fmt.Errorf("listing devices: %w", err)
			}
			for _, d := range devices {
				suffix := ""
				if audio.IsBluetooth(d.Name) {
					suffix = " (BT)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", d.Name, suffix)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pick, "pick", false, "choose a device interactively and print its name")
	return cmd
}

func doctorCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run system diagnostics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if code := doctor.Run(g.cfg, cmd.OutOrStdout()); code != 0 {
				return errors.New("diagnostics failed")
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "typeless %s\n", version)
		},
	}
}
