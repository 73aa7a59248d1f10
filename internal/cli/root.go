package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/fmueller/whisperd/internal/audio"
	"github.com/fmueller/whisperd/internal/config"
	"github.com/fmueller/whisperd/internal/device"
	"github.com/fmueller/whisperd/internal/logging"
	"github.com/fmueller/whisperd/internal/model"
	"github.com/fmueller/whisperd/internal/platform"
	"github.com/fmueller/whisperd/internal/version"
	"github.com/fmueller/whisperd/internal/whisper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spf13/cobra"
)

type appState struct {
	configFile string
	envFile    string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
	out    io.Writer

	newBackend func(kind string, cfg config.Config, logger *zap.Logger) (whisper.Backend, error)
	probe      device.Probe
	converter  audio.Converter
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&appState{out: os.Stdout})
}

func newRootCmd(app *appState) *cobra.Command {
	defaults := config.Defaults()

	cmd := &cobra.Command{
		Use:           "whisperd",
		Short:         "Serve a resident whisper.cpp speech-to-text model over local HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Options{
				ConfigFile: app.configFile,
				EnvFile:    app.envFile,
				Flags:      cmd.Flags(),
			})
			if err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{Verbose: app.verbose, JSON: cfg.LogJSON, Level: cfg.LogLevel})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.cfg = cfg
			app.logger = logger
			return nil
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configFile, "config", "", "Config file (yaml, json or toml)")
	flags.StringVar(&app.envFile, "env-file", "", "Dotenv file to load before reading the environment (default .env if present)")
	flags.BoolVar(&app.verbose, "verbose", false, "Enable verbose logs")
	flags.Bool("json", defaults.LogJSON, "Enable JSON logging")
	flags.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
	flags.Bool("no-progress", defaults.NoProgress, "Disable progress indicators")
	flags.String("model-dir", defaults.ModelDir, "Directory where models are stored")
	flags.Bool("auto-download", defaults.AutoDownload, "Automatically download missing models")
	flags.String("device", defaults.Device, "Inference device: auto|cpu|cuda|metal")
	flags.String("ffmpeg-path", defaults.FFmpegPath, "Directory containing the ffmpeg binary (also FFMPEG_PATH)")
	flags.String("whisper-cli", defaults.WhisperCLI, "Path to the whisper-cli executable")
	flags.String("whisper-server", defaults.WhisperServer, "Path to the whisper-server executable")
	flags.Duration("load-timeout", defaults.LoadTimeout, "Maximum time to wait for a model to load")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newProbeCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}

func (a *appState) progressEnabled() bool {
	if a.cfg.NoProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.cfg.ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

// prepareFFmpeg puts the configured or a conventional ffmpeg directory on
// PATH and returns the converter used for non-WAV input.
func (a *appState) prepareFFmpeg() audio.Converter {
	if a.converter != nil {
		return a.converter
	}
	platform.SetupFFmpeg(runtime.GOOS, a.cfg.FFmpegPath, a.log())
	return audio.FFmpeg{Logger: a.log()}
}

func (a *appState) deviceProbe() device.Probe {
	if a.probe != nil {
		return a.probe
	}
	return device.NewCached(device.NewDetector(a.cfg.Device, a.log()))
}

func (a *appState) backend(kind string) (whisper.Backend, error) {
	if a.newBackend != nil {
		return a.newBackend(kind, a.cfg, a.log())
	}
	return newBackend(kind, a.cfg, a.log())
}

func (a *appState) newLoader(kind string) (*model.Loader, error) {
	backend, err := a.backend(kind)
	if err != nil {
		return nil, err
	}
	dir, err := a.modelStorageDir()
	if err != nil {
		return nil, err
	}

	store := &model.Store{
		Dir:          dir,
		AutoDownload: a.cfg.AutoDownload,
		NoProgress:   !a.progressEnabled(),
		Logger:       a.log(),
	}
	return model.NewLoader(backend, store, a.deviceProbe(), a.log()), nil
}

func newBackend(kind string, cfg config.Config, logger *zap.Logger) (whisper.Backend, error) {
	switch kind {
	case config.BackendServer:
		return whisper.NewServerBackend(cfg.WhisperServer, cfg.LoadTimeout, logger)
	case config.BackendCLI:
		return whisper.NewCLIBackend(cfg.WhisperCLI, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
