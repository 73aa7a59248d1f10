package cli

import (
	"context"
	"fmt"

	"github.com/fmueller/whisperd/internal/config"
	"github.com/fmueller/whisperd/internal/engine"
	"github.com/fmueller/whisperd/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <audio_path> [model] [language]",
		Short: "Transcribe one audio file and print the text",
		Long: "Transcribe one audio file without starting the server. The model defaults to " +
			server.DefaultRequestModel + " and the language to " + server.DefaultRequestLanguage +
			"; pass \"auto\" to let the model detect the language.",
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.Request{
				AudioPath: args[0],
				Model:     server.DefaultRequestModel,
				Language:  server.DefaultRequestLanguage,
			}
			if len(args) > 1 {
				req.Model = args[1]
			}
			if len(args) > 2 {
				req.Language = args[2]
			}

			result, err := app.transcribeOnce(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.Text)
			if isBlankTranscript(result.Text) {
				app.log().Warn(noSpeechHint(req.AudioPath))
			}
			return nil
		},
	}
}

func (a *appState) transcribeOnce(ctx context.Context, req engine.Request) (engine.Result, error) {
	// Missing audio is reported before any tooling is looked up.
	if err := engine.CheckAudio(req.AudioPath); err != nil {
		return engine.Result{}, err
	}

	converter := a.prepareFFmpeg()
	loader, err := a.newLoader(config.BackendCLI)
	if err != nil {
		return engine.Result{}, err
	}
	defer func() {
		if err := loader.Close(); err != nil {
			a.log().Warn("failed to release model", zap.Error(err))
		}
	}()

	svc := engine.NewService(loader, engine.New(converter, a.log()))

	stopSpinner := startSpinner(a.progressEnabled(), "Transcribing")
	result, err := svc.Transcribe(ctx, req)
	stopSpinner()
	return result, err
}
