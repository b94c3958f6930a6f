package config

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Merge reads every YAML file named directly or found below the given
// directories and merges them into a single configuration document. Mappings
// are merged recursively; other values are replaced by later files unless
// conflictError is set, in which case differing values are an error.
func Merge(configFiles []string, conflictError bool) ([]byte, error) {
	var paths []string
	for _, f := range configFiles {
		if err := filepath.WalkDir(f, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if path != f && !isYAML(path) {
				return nil
			}
			paths = append(paths, path)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	docs := make([]document, 0, len(paths))
	for _, f := range paths {
		bs, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %v: %w", f, err)
		}
		var x map[string]any
		if err := yaml.Unmarshal(bs, &x); err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration file %v: %w", f, err)
		}
		docs = append(docs, document{file: f, values: x})
	}

	merged := make(map[string]any)
	for _, doc := range docs {
		if err := mergeInto(merged, doc.values, "", doc.file, conflictError); err != nil {
			return nil, err
		}
	}

	bs, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged configuration: %w", err)
	}

	return bs, nil
}

type document struct {
	file   string
	values map[string]any
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func mergeInto(dst, src map[string]any, path, file string, conflictError bool) error {
	for _, key := range slices.Sorted(maps.Keys(src)) { // sorted for deterministic errors
		value := src[key]
		existing, ok := dst[key]
		if !ok {
			dst[key] = value
			continue
		}

		existingMap, ok1 := existing.(map[string]any)
		valueMap, ok2 := value.(map[string]any)
		if ok1 && ok2 {
			if err := mergeInto(existingMap, valueMap, path+"/"+key, file, conflictError); err != nil {
				return err
			}
			continue
		}

		if conflictError && !reflect.DeepEqual(existing, value) {
			return fmt.Errorf("%v: conflict for config path %s", file, path+"/"+key)
		}
		dst[key] = value
	}
	return nil
}
