package domain

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultDatasetID is the dataset assumed when none is named on the CLI.
const DefaultDatasetID = "noaa-nam-conus-pressure-levels"

// ErrUnknownDataset is returned by LookupDataset for IDs not in the registry.
var ErrUnknownDataset = errors.New("unknown dataset")

// Attributes are the fixed descriptive metadata attached to every store,
// plus a "created" timestamp added at write time.
type Attributes struct {
	Title       string
	Description string
	Provider    string
	Model       string
	Variant     string
	Version     string
	Source      string
	References  string
}

// Variable is one forecast field requested from the upstream grib filter.
type Variable struct {
	Code        string // NOMADS short code, e.g. "TMP"
	Description string
	Units       string
}

// Dataset describes a registered dataset: identity, grid, and the level and
// variable selection sent to the grib filter. Definitions are immutable.
type Dataset struct {
	ID         string
	StoreName  string // Zarr store directory name under the data dir
	Attributes Attributes

	GridResolutionKm float64
	GridHeight       int // y axis length
	GridWidth        int // x axis length
	ForecastHours    []int
	CycleHours       []int     // synoptic hours, ascending, must include 0
	PressureLevels   []float64 // hPa, descending
	Variables        []Variable
}

// NumLevels returns the length of the level axis.
func (d *Dataset) NumLevels() int { return len(d.PressureLevels) }

// NumHours returns the length of the forecast-hour axis.
func (d *Dataset) NumHours() int { return len(d.ForecastHours) }

var namConusPressureLevels = &Dataset{
	ID:        DefaultDatasetID,
	StoreName: "nam_conus_pressure_levels.zarr",
	Attributes: Attributes{
		Title:       "NOAA NAM CONUS Pressure Levels Forecast",
		Description: "North American Mesoscale (NAM) CONUS pressure level forecast data at 12km resolution",
		Provider:    "NOAA/NCEP",
		Model:       "NAM",
		Variant:     "CONUS-12km-pressure-levels",
		Version:     "v1.0",
		Source:      "https://nomads.ncep.noaa.gov",
		References:  "https://www.nco.ncep.noaa.gov/pmb/products/nam/",
	},
	GridResolutionKm: 12.19,
	GridHeight:       428,
	GridWidth:        614,
	ForecastHours:    hourRange(0, 48),
	CycleHours:       []int{0, 6, 12, 18},
	PressureLevels: []float64{
		1000, 975, 950, 925, 900, 850, 800, 750, 700,
		650, 600, 550, 500, 450, 400, 350, 300, 250,
		200, 150, 100,
	},
	Variables: []Variable{
		{Code: "TMP", Description: "Temperature", Units: "K"},
		{Code: "RH", Description: "Relative Humidity", Units: "%"},
		{Code: "UGRD", Description: "U-component of Wind", Units: "m s**-1"},
		{Code: "VGRD", Description: "V-component of Wind", Units: "m s**-1"},
		{Code: "HGT", Description: "Geopotential Height", Units: "gpm"},
		{Code: "VVEL", Description: "Vertical Velocity", Units: "Pa s**-1"},
		{Code: "ABSV", Description: "Absolute Vorticity", Units: "s**-1"},
	},
}

var registry = map[string]*Dataset{
	namConusPressureLevels.ID: namConusPressureLevels,
}

// LookupDataset returns the dataset registered under id.
func LookupDataset(id string) (*Dataset, error) {
	d, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, id)
	}
	return d, nil
}

// Datasets returns all registered datasets, sorted by ID for stable listings.
func Datasets() []*Dataset {
	out := make([]*Dataset, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func hourRange(lo, hi int) []int {
	hours := make([]int, 0, hi-lo+1)
	for h := lo; h <= hi; h++ {
		hours = append(hours, h)
	}
	return hours
}
