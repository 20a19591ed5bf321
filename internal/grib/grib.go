// Package grib turns GRIB2 files into flat records the converter can place
// on the store's axes. Binary parsing is delegated to
// github.com/nilsmagnus/grib; this package only lifts the section fields the
// pipeline needs and normalizes units (surface values to Pa, lead times to
// whole hours).
package grib

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nilsmagnus/grib/griblib"
)

// SurfaceIsobaric is the GRIB2 fixed-surface type for isobaric levels.
const SurfaceIsobaric = 100

// Record is one decoded GRIB2 message: a single grid for one parameter at
// one level and one lead time.
type Record struct {
	Discipline    int
	Category      int
	Number        int
	SurfaceType   int
	LevelPa       float64
	ReferenceTime time.Time
	ForecastHour  int
	Points        int
	Values        []float64
}

// LevelHPa returns the level in hectopascals, the unit used on the level axis.
func (r Record) LevelHPa() float64 { return r.LevelPa / 100 }

// Decode reads every message from r. Any parse failure makes the whole file
// unusable; callers log and skip the file.
func Decode(r io.Reader) ([]Record, error) {
	messages, err := griblib.ReadMessages(r)
	if err != nil {
		return nil, fmt.Errorf("read grib messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, errors.New("no grib messages found")
	}

	records := make([]Record, 0, len(messages))
	for i := range messages {
		rec, err := fromMessage(messages[i])
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func fromMessage(msg *griblib.Message) (Record, error) {
	product := msg.Section4.ProductDefinitionTemplate
	surface := product.FirstSurface

	hour, err := leadHours(int(product.TimeUnitIndicator), int(product.ForecastTime))
	if err != nil {
		return Record{}, err
	}

	rt := msg.Section1.ReferenceTime
	ref := time.Date(int(rt.Year), time.Month(rt.Month), int(rt.Day),
		int(rt.Hour), int(rt.Minute), int(rt.Second), 0, time.UTC)

	return Record{
		Discipline:    int(msg.Section0.Discipline),
		Category:      int(product.ParameterCategory),
		Number:        int(product.ParameterNumber),
		SurfaceType:   int(surface.Type),
		LevelPa:       scaledValue(surface.Scale, surface.Value),
		ReferenceTime: ref,
		ForecastHour:  hour,
		Points:        int(msg.Section3.DataPointCount),
		Values:        msg.Section7.Data,
	}, nil
}

// scaledValue applies the GRIB2 scaled-value convention: value / 10^scale.
func scaledValue(scale uint8, value uint32) float64 {
	v := float64(value)
	for i := 0; i < int(scale); i++ {
		v /= 10
	}
	return v
}

// leadHours converts a (time unit, value) lead per code table 4.4 to whole
// hours. Sub-hourly leads that do not land on an hour are rejected.
func leadHours(unit, value int) (int, error) {
	switch unit {
	case 0: // minute
		if value%60 != 0 {
			return 0, fmt.Errorf("lead time %d minutes is not a whole hour", value)
		}
		return value / 60, nil
	case 1: // hour
		return value, nil
	case 2: // day
		return value * 24, nil
	case 10: // 3 hours
		return value * 3, nil
	case 11: // 6 hours
		return value * 6, nil
	case 12: // 12 hours
		return value * 12, nil
	default:
		return 0, fmt.Errorf("unsupported time unit %d", unit)
	}
}
