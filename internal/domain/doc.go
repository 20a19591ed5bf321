// Package domain models NOAA NAM (North American Mesoscale) forecast data.
//
// # Data Source
//
// Forecast files originate from the NCEP NOMADS server
// (https://nomads.ncep.noaa.gov). The NAM model runs four times daily at the
// synoptic hours 00, 06, 12 and 18 UTC; each run (a "cycle") publishes one
// GRIB2 file per forecast hour, 0 through 48. Cycles appear on NOMADS roughly
// 3-4 hours after their initialization time, which is why discovery probes
// start several hours in the past.
//
// # Upstream Conventions
//
// Day directory:
//
//	nam.YYYYMMDD  →  e.g. nam.20260823
//	One directory per calendar day, holding all four cycles.
//
// File name:
//
//	nam.tCCz.awphysFF.tm00.grib2  →  e.g. nam.t06z.awphys03.tm00.grib2
//	CC is the zero-padded cycle hour, FF the zero-padded forecast hour.
//	The "awphys" product carries the 12 km CONUS pressure-level fields.
//
// # Store Layout
//
// Each dataset persists as one Zarr store named <dataset>.zarr with axes
// init_time (append axis, one entry per ingested cycle), time (forecast
// lead hours), level (21 pressure levels, 1000 down to 100 hPa), and the
// spatial grid y (428) by x (614). Seven variables are carried, named by
// their NOMADS short codes (TMP, RH, UGRD, VGRD, HGT, VVEL, ABSV).
//
// The invariant a healthy store satisfies: the declared length of the
// init_time axis equals the number of coordinate values recorded for it.
// A shorter coordinate array is the signature of an interrupted append.
package domain
