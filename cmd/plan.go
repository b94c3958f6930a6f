package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mediabundler/mediabundler/internal/migrations"
	"github.com/mediabundler/mediabundler/internal/pipeline"
)

func planCommand() *cobra.Command {
	var (
		params  commonParams
		members bool
	)

	c := &cobra.Command{
		Use:   "plan",
		Short: "Show the members every configured group resolves to",
		Long: `Plan resolves every configured group against the catalog and prints the
result without assembling or uploading anything.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			root, err := params.load()
			if err != nil {
				return err
			}
			log := params.logger(cmd.Flags(), root)

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

			p := pipeline.New(root, log).WithStore(db)
			if err := p.Init(ctx); err != nil {
				return err
			}

			plans, err := p.Plan(ctx, set)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), plans, members)
		},
	}

	addCommonFlags(c.Flags(), &params)
	c.Flags().BoolVar(&members, "members", false, "list the member ids of every group")

	return c
}

func printPlan(w io.Writer, plans []pipeline.GroupPlan, members bool) error {
	table := tablewriter.NewWriter(w)
	header := []any{"Stage", "Group", "Members"}
	if members {
		header = append(header, "Ids")
	}
	table.Header(header...)

	for _, p := range plans {
		n := strconv.Itoa(len(p.Members))
		if p.Empty {
			n = "empty"
		}
		row := []string{p.StageID, p.Group, n}
		if members {
			row = append(row, strings.Join(p.Members, ","))
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}

	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintf(w, "%d groups\n", len(plans))
	return nil
}
