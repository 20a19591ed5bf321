package domain

// GRIBParam identifies a GRIB2 parameter by discipline, category, and number
// (code table 4.2).
type GRIBParam struct {
	Discipline int
	Category   int
	Number     int
}

// gribParams maps the GRIB2 parameter codes appearing in NAM pressure-level
// files to their NOMADS short codes.
var gribParams = map[GRIBParam]string{
	{Discipline: 0, Category: 0, Number: 0}:  "TMP",
	{Discipline: 0, Category: 1, Number: 1}:  "RH",
	{Discipline: 0, Category: 2, Number: 2}:  "UGRD",
	{Discipline: 0, Category: 2, Number: 3}:  "VGRD",
	{Discipline: 0, Category: 2, Number: 8}:  "VVEL",
	{Discipline: 0, Category: 2, Number: 10}: "ABSV",
	{Discipline: 0, Category: 3, Number: 5}:  "HGT",
}

// VariableForParam resolves GRIB2 parameter codes to a variable short code.
// Records with unmapped parameters are ignored by the converter.
func VariableForParam(discipline, category, number int) (string, bool) {
	code, ok := gribParams[GRIBParam{Discipline: discipline, Category: category, Number: number}]
	return code, ok
}

// LevelIndex returns the position of a pressure level (in hPa) on the level
// axis. Levels decoded from GRIB arrive in Pa and are converted by the
// caller; matching tolerates float noise from that division.
func (d *Dataset) LevelIndex(hPa float64) (int, bool) {
	for i, lv := range d.PressureLevels {
		diff := lv - hPa
		if diff < 1e-6 && diff > -1e-6 {
			return i, true
		}
	}
	return 0, false
}

// HourIndex returns the position of a forecast hour on the time axis of a
// full cycle.
func (d *Dataset) HourIndex(hour int) (int, bool) {
	for i, h := range d.ForecastHours {
		if h == hour {
			return i, true
		}
	}
	return 0, false
}
