package cmd

import (
	"cmp"
	"os"

	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"

	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/logging"
	"github.com/mediabundler/mediabundler/internal/progress"
)

type commonParams struct {
	configFiles []string
	logLevel    logging.Level
	logFormat   string
	noProgress  bool
}

func addCommonFlags(fs *pflag.FlagSet, p *commonParams) {
	p.logLevel = logging.Info
	fs.StringSliceVarP(&p.configFiles, "config", "c", nil, "configuration file or directory (may be repeated)")
	fs.Var(enumflag.New(&p.logLevel, "level", logging.LevelNames, enumflag.EnumCaseInsensitive), "log-level", "log level (debug, info, warn, error)")
	fs.StringVar(&p.logFormat, "log-format", "", "log format (text, json)")
	fs.BoolVar(&p.noProgress, "no-progress", false, "disable progress output")
}

// load merges the configuration files. Without any files an empty
// configuration is returned, which uses an in-memory catalog.
func (p *commonParams) load() (*config.Root, error) {
	if len(p.configFiles) == 0 {
		return &config.Root{}, nil
	}

	bs, err := config.Merge(p.configFiles, true)
	if err != nil {
		return nil, err
	}

	return config.Parse(bs)
}

// logger applies the command line level and format over the configured ones.
func (p *commonParams) logger(fs *pflag.FlagSet, root *config.Root) *logging.Logger {
	level := p.logLevel
	var format string
	if root.Log != nil {
		if !fs.Changed("log-level") && root.Log.Level != "" {
			level = logging.ParseLevel(root.Log.Level)
		}
		format = root.Log.Format
	}

	return logging.NewLogger(logging.Config{
		Level:  level,
		Format: cmp.Or(p.logFormat, format, "text"),
	})
}

func (p *commonParams) progress(description string) *progress.Bar {
	if p.noProgress {
		return nil
	}
	return progress.New(os.Stderr, description)
}
