package converters

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/zcl"
)

var extensions = []string{".json", ".yaml", ".yml", ".lua"}

// LoadFile reads one descriptor file. Custom clusters declared in declarative
// files are registered into zreg before definitions are checked against it.
func LoadFile(path string, zreg *zcl.Registry) ([]descriptor.Descriptor, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".lua" {
		d, err := LoadLua(path)
		if err != nil {
			return nil, err
		}
		return []descriptor.Descriptor{d}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var f File
	switch ext {
	case ".json":
		err = json.Unmarshal(data, &f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("%s: unsupported descriptor file type %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, c := range f.Clusters {
		zreg.Register(c)
	}

	defs := append([]Definition(nil), f.Devices...)
	for _, mg := range f.Manufacturers {
		for _, d := range mg.Models {
			d.Manufacturer = mg.Name
			defs = append(defs, d)
		}
	}

	out := make([]descriptor.Descriptor, 0, len(defs))
	for _, def := range defs {
		d, err := def.Descriptor(zreg, path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// LoadDir loads every descriptor file in dir into reg, in name order.
// A missing or empty directory is not an error.
func LoadDir(dir string, reg *descriptor.Registry, zreg *zcl.Registry, logger *slog.Logger) (int, error) {
	var matches []string
	for _, ext := range extensions {
		m, err := filepath.Glob(filepath.Join(dir, "*"+ext))
		if err != nil {
			return 0, fmt.Errorf("glob descriptors dir: %w", err)
		}
		matches = append(matches, m...)
	}
	if len(matches) == 0 {
		logger.Info("no descriptor files found", "dir", dir)
		return 0, nil
	}
	sort.Strings(matches)

	total := 0
	for _, path := range matches {
		descs, err := LoadFile(path, zreg)
		if err != nil {
			return total, err
		}
		for _, d := range descs {
			if err := reg.Register(d); err != nil {
				return total, fmt.Errorf("%s: %w", path, err)
			}
		}
		total += len(descs)
		logger.Info("loaded descriptor file", "path", filepath.Base(path), "descriptors", len(descs))
	}

	logger.Info("descriptors loaded", "files", len(matches), "descriptors", total)
	return total, nil
}
