package cli

import (
	"encoding/json"

	"github.com/fmueller/whisperd/internal/whisper"
	"github.com/spf13/cobra"
)

type probeReport struct {
	Preference  string `json:"preference"`
	Device      string `json:"device"`
	Name        string `json:"name,omitempty"`
	Accelerator bool   `json:"accelerator"`
	Precision   string `json:"precision"`
}

func newProbeCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Detect the inference device and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := app.deviceProbe().Detect(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(probeReport{
				Preference:  app.cfg.Device,
				Device:      info.Backend,
				Name:        info.Name,
				Accelerator: info.IsAccelerator(),
				Precision:   whisper.PrecisionFor(info).String(),
			})
		},
	}
}
