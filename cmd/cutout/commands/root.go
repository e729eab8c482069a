package commands

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cutout-cli/cutout/internal/config"
	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/cutout-cli/cutout/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errReported marks failures that were already printed to the user.
var errReported = stderrors.New("failure already reported")

var rootCmd = &cobra.Command{
	Use:           "cutout",
	Short:         "Remove image backgrounds through a cloud image host",
	Long:          `Uploads an image to a cloud image host, asks it to remove the background and saves the transparent PNG next to your earlier results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "config load failed")
		}
		slog.SetDefault(logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !stderrors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("cloud-name", "", "Image host cloud name")
	rootCmd.PersistentFlags().String("upload-preset", "", "Unsigned upload preset")
	rootCmd.PersistentFlags().String("output-dir", "", "Directory results are saved to (default ~/Downloads)")
	rootCmd.PersistentFlags().String("temp-dir", "", "Directory for temporary files")
	rootCmd.PersistentFlags().String("log-file", "", "Upload diagnostic log (default ~/cutout-upload-debug.log)")
	rootCmd.PersistentFlags().String("sqlite-path", "", "Run history database path")
	rootCmd.PersistentFlags().String("fsm-db-path", "", "Journal directory for --journal runs")
	rootCmd.PersistentFlags().String("resizer", "", "Resizer for oversized images: auto, sips or imaging")
	rootCmd.PersistentFlags().String("mime-prober", "", "MIME detection: auto, file or sniff")
	rootCmd.PersistentFlags().String("s3-region", "", "Region for s3:// sources")
	rootCmd.PersistentFlags().String("s3-endpoint", "", "Custom S3 endpoint")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")

	for _, key := range []string{
		"cloud-name", "upload-preset", "output-dir", "temp-dir", "log-file",
		"sqlite-path", "fsm-db-path", "resizer", "mime-prober", "s3-region",
		"s3-endpoint", "log-level", "log-format",
	} {
		viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key))
	}
}
