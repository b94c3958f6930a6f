package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mediabundler/mediabundler/internal/importer"
	"github.com/mediabundler/mediabundler/internal/migrations"
)

func importCommand() *cobra.Command {
	var (
		params           commonParams
		mediaRoot        string
		tagsFromDirs     bool
		episodes         []string
		episodesFromDirs bool
	)

	c := &cobra.Command{
		Use:   "import",
		Short: "Import a media directory into the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			root, err := params.load()
			if err != nil {
				return err
			}
			log := params.logger(cmd.Flags(), root)

			if mediaRoot == "" && root.Media != nil {
				mediaRoot = root.Media.Root
			}
			if mediaRoot == "" {
				return errors.New("no media root: set media.root or pass --media-root")
			}

			db, err := migrations.New().WithConfig(root.Database).WithLogger(log).WithMigrate(true).Run(ctx)
			if err != nil {
				return err
			}
			defer db.CloseDB()

			res, err := importer.New(mediaRoot).
				WithLogger(log).
				WithProgress(params.progress("importing")).
				WithTagsFromDirs(tagsFromDirs).
				WithEpisodes(episodes...).
				WithEpisodesFromDirs(episodesFromDirs).
				Import(ctx, db)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d files (%d bytes) from %s\n", res.Imported, res.Bytes, mediaRoot)
			if len(res.Episodes) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "episodes: %s\n", strings.Join(res.Episodes, ", "))
			}
			return nil
		},
	}

	addCommonFlags(c.Flags(), &params)
	c.Flags().StringVar(&mediaRoot, "media-root", "", "directory to import (default: media.root from the configuration)")
	c.Flags().BoolVar(&tagsFromDirs, "tags-from-dirs", false, "tag files with the names of their parent directories")
	c.Flags().StringSliceVar(&episodes, "episode", nil, "assign every imported file to this episode id (may be repeated)")
	c.Flags().BoolVar(&episodesFromDirs, "episodes-from-dirs", false, "assign files to the episode named after their top level directory")

	return c
}
