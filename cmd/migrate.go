package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mediabundler/mediabundler/internal/migrations"
)

func migrateCommand() *cobra.Command {
	var params commonParams

	c := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the catalog database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := params.load()
			if err != nil {
				return err
			}
			log := params.logger(cmd.Flags(), root)

			db, err := migrations.New().WithConfig(root.Database).WithLogger(log).WithMigrate(true).Run(cmd.Context())
			if err != nil {
				return err
			}
			db.CloseDB()
			return nil
		},
	}

	addCommonFlags(c.Flags(), &params)
	return c
}
