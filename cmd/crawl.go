package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Archive catalog records, resuming from the last checkpoint",
		Long: `Pages through the catalog search newest first, then looks up ids the
search cannot reach. --new only ingests the first page and ids above the last
fully downloaded record; --known only fetches details for stored records that
lack them. With --assets the thumbnail pass runs afterwards.`,
		RunE: withApp(runCrawlCommand),
	}
	f := cmd.Flags()
	f.Int64P("size", "s", 0, "search page size (0 keeps the saved size, or 100 on a fresh archive)")
	f.BoolP("new", "n", false, "only look for records added since the last run")
	f.BoolP("known", "k", false, "only fetch details for records already stored")
	f.Bool("reset", false, "discard the checkpoint and start over")
	f.Bool("skip-search", false, "skip the paginated search phase")
	f.Bool("skip-backfill", false, "skip the per-id backfill phase")
	addAssetFlags(cmd)
	cmd.MarkFlagsMutuallyExclusive("new", "known")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, appInstance App) error {
	logger := appInstance.Logger()

	sum, err := appInstance.Crawl(cmd.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("crawl interrupted; progress is saved")
			return nil
		}
		return fmt.Errorf("crawl: %w", err)
	}
	logger.Debug("crawl finished",
		zap.Int64("pages", sum.Search.Pages),
		zap.Int64("records", sum.Search.Records),
		zap.Int64("details_confirmed", sum.Backfill.Confirmed),
		zap.Int64("details_missed", sum.Backfill.Missed),
		zap.Int64("next_page", sum.Checkpoint.NextPage),
	)

	if appInstance.Config().Assets.Dir == "" {
		return nil
	}
	return downloadAssets(cmd.Context(), appInstance)
}
