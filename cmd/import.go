package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/imovelmapa/imovsync/internal/fetcher"
	"github.com/imovelmapa/imovsync/internal/geo"
	"github.com/imovelmapa/imovsync/internal/images"
	"github.com/imovelmapa/imovsync/internal/model"
	"github.com/imovelmapa/imovsync/internal/pipeline"
	"github.com/imovelmapa/imovsync/pkg/cloudinary"
	"github.com/imovelmapa/imovsync/pkg/geocode"
)

var importRegions []string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import listing feeds",
	Long:  "Fetches each state's listing feed, reconciles it against the database, and enriches new listings with coordinates and mirrored photos.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		regions, err := resolveRegions(importRegions)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		client := fetcher.NewClient(fetcher.Options{
			FeedURLTemplate: cfg.Feed.URLTemplate,
			RootURL:         cfg.Feed.RootURL,
			Timeout:         cfg.Feed.Timeout(),
			MinDelay:        cfg.Feed.MinDelay(),
			MaxDelay:        cfg.Feed.MaxDelay(),
		})

		var geocoder pipeline.Geocoder
		if keys := cfg.Geocode.Keys(); keys[0] != "" || keys[1] != "" || keys[2] != "" {
			geocoder = geocode.New(keys, geo.BoundsValidator{},
				geocode.WithBaseURL(cfg.Geocode.BaseURL))
		}

		var acquirer pipeline.ImageAcquirer
		if cfg.Images.Cloudinary.Enabled() {
			blob, err := cloudinary.New(
				cfg.Images.Cloudinary.CloudName,
				cfg.Images.Cloudinary.APIKey,
				cfg.Images.Cloudinary.APISecret,
			)
			if err != nil {
				return err
			}
			acquirer = images.NewAcquirer(client, blob, cfg.Images.Dir, cfg.Images.PhotoBaseURL)
		}

		engine := pipeline.New(st, client, geocoder, acquirer)
		summary, err := engine.Run(ctx, regions)
		if err != nil {
			return err
		}

		formatSummary(summary)
		return nil
	},
}

// resolveRegions validates the --uf selection, defaulting to every state.
func resolveRegions(selected []string) ([]string, error) {
	if len(selected) == 0 {
		return model.Regions, nil
	}
	regions := make([]string, 0, len(selected))
	for _, uf := range selected {
		uf = strings.ToUpper(strings.TrimSpace(uf))
		if !model.IsRegion(uf) {
			return nil, eris.Errorf("unknown state code: %s", uf)
		}
		regions = append(regions, uf)
	}
	return regions, nil
}

func formatSummary(s model.ImportSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Processed:\t%d\n", s.TotalProcessed)
	_, _ = fmt.Fprintf(w, "New:\t%d\n", s.TotalNew)
	_, _ = fmt.Fprintf(w, "Updated:\t%d\n", s.TotalUpdated)
	_, _ = fmt.Fprintf(w, "Removed:\t%d\n", s.TotalRemoved)
	_, _ = fmt.Fprintf(w, "Failed states:\t%d\n", s.FailedRegions)
	_ = w.Flush()
}

func init() {
	importCmd.Flags().StringSliceVar(&importRegions, "uf", nil, "state codes to import (default: all)")
	rootCmd.AddCommand(importCmd)
}
