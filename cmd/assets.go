package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAssetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Download the thumbnail of every stored record",
		Long: `Downloads thumbnails into a local directory or a gs://bucket/prefix
target. Existing files are kept unless --force is given.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			if appInstance.Config().Assets.Dir == "" {
				return errors.New("--assets is required")
			}
			return downloadAssets(cmd.Context(), appInstance)
		}),
	}
	addAssetFlags(cmd)
	return cmd
}

func addAssetFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("assets", "t", "", "thumbnail target: directory or gs://bucket/prefix")
	f.BoolP("force", "f", false, "re-download thumbnails that already exist")
	f.Int("workers", 0, "concurrent downloads (default GOMAXPROCS)")
}

func downloadAssets(ctx context.Context, appInstance App) error {
	stats, err := appInstance.DownloadAssets(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("download assets: %w", err)
	}
	appInstance.Logger().Debug("assets finished",
		zap.Int64("submitted", stats.Submitted),
		zap.Int64("written", stats.Written),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("failed", stats.Failed),
	)
	return nil
}
