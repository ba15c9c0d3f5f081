// Package seed loads an optional YAML-defined project created once at
// startup, replacing ad-hoc hardcoded bootstrap data. The project is only
// created when its id is absent, an existing record is never touched.
package seed

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trilakes/sitevisit/app/store"
)

// Def describes the seed project as written in the YAML file
type Def struct {
	ID       string `yaml:"id"`
	Status   string `yaml:"status"`
	Notes    string `yaml:"notes"`
	Property struct {
		Address        string  `yaml:"address"`
		ParcelID       string  `yaml:"parcel_id"`
		Legal          string  `yaml:"legal"`
		Acres          float64 `yaml:"acres"`
		Owner          string  `yaml:"owner"`
		AskingPrice    float64 `yaml:"asking_price"`
		Client         string  `yaml:"client"`
		ClientPhone    string  `yaml:"client_phone"`
		ClientEmail    string  `yaml:"client_email"`
		ElevationRange string  `yaml:"elevation_range"`
		Relief         string  `yaml:"relief"`
		CenterLat      float64 `yaml:"center_lat"`
		CenterLon      float64 `yaml:"center_lon"`
	} `yaml:"property"`
	VisitData map[string]any `yaml:"visit_data"`
}

// Load reads and validates the seed definition
func Load(path string) (Def, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator's config
	if err != nil {
		return Def{}, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var def Def
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Def{}, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	if def.ID == "" {
		return Def{}, fmt.Errorf("seed file %s: project id is required", path)
	}
	return def, nil
}

// Apply creates the seed project for owner if it does not exist yet
func Apply(st store.Interface, def Def, owner string) error {
	if err := st.Seed(def.toProject(owner)); err != nil {
		return fmt.Errorf("failed to seed project %s: %w", def.ID, err)
	}
	return nil
}

func (d Def) toProject(owner string) store.Project {
	return store.Project{
		ID:     d.ID,
		Owner:  owner,
		Status: d.Status,
		Notes:  d.Notes,
		Property: store.Property{
			Address:        d.Property.Address,
			ParcelID:       d.Property.ParcelID,
			Legal:          d.Property.Legal,
			Acres:          d.Property.Acres,
			Owner:          d.Property.Owner,
			AskingPrice:    d.Property.AskingPrice,
			Client:         d.Property.Client,
			ClientPhone:    d.Property.ClientPhone,
			ClientEmail:    d.Property.ClientEmail,
			ElevationRange: d.Property.ElevationRange,
			Relief:         d.Property.Relief,
			CenterLat:      d.Property.CenterLat,
			CenterLon:      d.Property.CenterLon,
		},
		VisitData: d.VisitData,
	}
}
