package service

import (
	"errors"

	"github.com/mediabundler/mediabundler/internal/assembler"
	"github.com/mediabundler/mediabundler/internal/cache"
	"github.com/mediabundler/mediabundler/internal/resolver"
)

// Errors a build can fail with. They are defined next to the component that
// detects them.
type (
	MissingSourceFileError  = assembler.MissingSourceFileError
	IOError                 = assembler.IOError
	CacheInconsistencyError = cache.CacheInconsistencyError
	ConfigurationError      = resolver.ConfigurationError
)

// errorType classifies err for metrics.
func errorType(err error) string {
	var (
		missing *MissingSourceFileError
		ioErr   *IOError
		cacheE  *CacheInconsistencyError
		confE   *ConfigurationError
	)
	switch {
	case errors.As(err, &missing):
		return "missing_source_file"
	case errors.As(err, &cacheE):
		return "cache_inconsistency"
	case errors.As(err, &confE):
		return "configuration"
	case errors.As(err, &ioErr):
		return "io"
	}
	return "internal"
}
