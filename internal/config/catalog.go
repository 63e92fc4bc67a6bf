package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CatalogFile is the on-disk shape of the analysis kind catalog.
type CatalogFile struct {
	Kinds []KindDefinition `yaml:"kinds"`
}

// KindDefinition maps one analysis kind to the notebook that implements it.
type KindDefinition struct {
	Kind     string        `yaml:"kind"`
	Notebook string        `yaml:"notebook"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultCatalog is used when no catalog file exists. Notebook paths are
// relative to the server's working directory.
func DefaultCatalog() []KindDefinition {
	return []KindDefinition{
		{Kind: "lidar", Notebook: "notebooks/LiDAR_Rockfall_Prediction.ipynb"},
		{Kind: "geophone", Notebook: "notebooks/Geophone_Rockfall_Prediction.ipynb"},
		{Kind: "piezometer", Notebook: "notebooks/Piezometer_Landslide_Prediction.ipynb"},
		{Kind: "gbinsar", Notebook: "notebooks/GB_InSAR_Rockfall_Prediction.ipynb"},
		{Kind: "extensometer", Notebook: "notebooks/Extensometer_Analysis.ipynb"},
		{Kind: "weather_station", Notebook: "notebooks/Automatic_Weather_Station_Analysis.ipynb"},
		{Kind: "camera", Notebook: "notebooks/Image_Analysis.ipynb"},
	}
}

// LoadCatalog reads and validates the kind catalog at path. A missing file
// yields DefaultCatalog.
func LoadCatalog(path string) ([]KindDefinition, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var cf CatalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	if len(cf.Kinds) == 0 {
		return nil, fmt.Errorf("catalog %s defines no kinds", path)
	}

	seen := make(map[string]bool, len(cf.Kinds))
	for i, kd := range cf.Kinds {
		if kd.Kind == "" {
			return nil, fmt.Errorf("kind at index %d missing kind", i)
		}
		if kd.Notebook == "" {
			return nil, fmt.Errorf("kind %s missing notebook", kd.Kind)
		}
		if kd.Timeout < 0 {
			return nil, fmt.Errorf("kind %s has negative timeout", kd.Kind)
		}
		if seen[kd.Kind] {
			return nil, fmt.Errorf("kind %s defined more than once", kd.Kind)
		}
		seen[kd.Kind] = true
	}

	return cf.Kinds, nil
}
