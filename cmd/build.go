package cmd

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mediabundler/mediabundler/internal/migrations"
	"github.com/mediabundler/mediabundler/internal/pipeline"
)

func buildCommand() *cobra.Command {
	var (
		params  commonParams
		buildID string
	)

	c := &cobra.Command{
		Use:   "build",
		Short: "Build bundles for every configured group",
		Long: `Build resolves every configured group against the catalog and writes one
archive per distinct membership. Groups whose membership was already bundled
reuse the existing archive. Locators of member resources are updated to point
into the newest bundle of each stage.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			root, err := params.load()
			if err != nil {
				return err
			}
			log := params.logger(cmd.Flags(), root)

			if buildID == "" {
				buildID = uuid.NewString()
			}

			db, err := migrations.New().WithConfig(root.Database).WithLogger(log).WithMigrate(true).Run(ctx)
			if err != nil {
				return err
			}
			defer db.CloseDB()

			bar := params.progress("loading catalog")
			set, err := db.LoadSet(ctx, bar)
			bar.Finish()
			if err != nil {
				return err
			}

			bar = params.progress("building")
			p := pipeline.New(root, log).WithStore(db).WithProgress(bar)
			if err := p.Init(ctx); err != nil {
				return err
			}

			res, runErr := p.Run(ctx, set, buildID)
			bar.Finish()
			if err := printSummary(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return runErr
		},
	}

	addCommonFlags(c.Flags(), &params)
	c.Flags().StringVar(&buildID, "build-id", "", "id recorded on every bundle the build requests (default: random)")

	return c
}

func printSummary(w io.Writer, res pipeline.Result) error {
	fmt.Fprintf(w, "build %s finished in %s\n", res.BuildID, res.Duration.Round(time.Millisecond))

	table := tablewriter.NewWriter(w)
	table.Header("Stage", "Groups", "Empty", "Cache hits", "Built", "Failed")

	stages := make([]string, 0, len(res.Summaries))
	for id := range res.Summaries {
		stages = append(stages, id)
	}
	slices.Sort(stages)

	for _, id := range stages {
		s := res.Summaries[id]
		if err := table.Append([]string{
			id,
			strconv.Itoa(s.Total),
			strconv.Itoa(s.Empty),
			strconv.Itoa(s.CacheHit),
			strconv.Itoa(s.Built),
			strconv.Itoa(s.Failed),
		}); err != nil {
			return err
		}
	}

	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintf(w, "%d locators updated\n", res.Locators)
	return nil
}
