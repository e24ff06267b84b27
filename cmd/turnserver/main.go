package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lokutor-ai/turncore/pkg/audio"
	"github.com/lokutor-ai/turncore/pkg/config"
	"github.com/lokutor-ai/turncore/pkg/logging"
	"github.com/lokutor-ai/turncore/pkg/orchestrator"
	"github.com/lokutor-ai/turncore/pkg/server"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "turnserver",
	Short: "Realtime voice turn-taking server",
	Long: `turnserver accepts microphone audio over websockets, detects speech turns,
recognizes and answers them with streamed synthesized speech, and lets the
user interrupt at any point.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "turnserver", version)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		logger, err := logging.New(cfg.Logging())
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		providers, err := cfg.Providers(ctx)
		if err != nil {
			return err
		}
		orch, err := orchestrator.New(providers, cfg.Orchestrator(), logger)
		if err != nil {
			return err
		}

		stores, closeStores, err := cfg.Stores(logger)
		if err != nil {
			return err
		}
		defer closeStores()
		if stores != nil {
			orch.SetStore(stores)
		}

		info := orch.GetProviders()
		logger.Info("starting turnserver",
			"version", version,
			"stt", info["stt"],
			"llm", info["llm"],
			"tts", info["tts"],
			"persistence", stores != nil)

		srv := server.New(orch, stores, logger, server.Options{
			Path:            cfg.Server.Path,
			ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout),
		})
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	},
}

var vadProbeCmd = &cobra.Command{
	Use:   "vad-probe <file>",
	Short: "Run the voice activity detector over a 16 kHz mono PCM or WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return probe(f, cfg.Orchestrator(), cmd.OutOrStdout())
	},
}

// probe prints every VAD event with its offset into the recording.
func probe(r io.Reader, cfg orchestrator.Config, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	data = audio.StripWavHeader(data)

	vad := orchestrator.NewRMSVAD(cfg.VAD)
	framer := audio.NewFramer(cfg.FrameBytes())
	var (
		n      int
		speech int
	)
	for _, frame := range framer.Write(data) {
		at := time.Duration(n) * cfg.FrameDuration
		n++
		res := vad.Process(frame)
		for _, ev := range res.Events {
			switch ev.Type {
			case orchestrator.VADCalibrationComplete:
				fmt.Fprintf(w, "%8s  calibrated  floor=%.1f speech>%.1f silence<%.1f\n",
					at, ev.NoiseFloor, ev.SpeechThreshold, ev.SilenceThreshold)
			case orchestrator.VADSpeechStart:
				speech++
				fmt.Fprintf(w, "%8s  speech_start  rms=%.1f\n", at, res.Energy)
			case orchestrator.VADSpeechStop:
				fmt.Fprintf(w, "%8s  speech_stop   rms=%.1f\n", at, res.Energy)
			}
		}
	}
	fmt.Fprintf(w, "%d frames, %d speech segments\n", n, speech)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(versionCmd, serveCmd, vadProbeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
