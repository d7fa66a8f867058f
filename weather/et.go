package weather

import (
	"math"
	"time"
)

// FAO-56 reference evapotranspiration, following the step-by-step
// formulation in Zotarelli et al., "Step by Step Calculation of the
// Penman-Monteith Evapotranspiration (FAO-56 Method)".
//
// All intermediate quantities are metric: temperatures in °C, wind in m/s,
// radiation in MJ/m²/day, pressures in kPa. The result is mm/day.

const (
	solarConstant   = 0.0820   // MJ/m²/min
	stefanBoltzmann = 4.903e-9 // MJ/K⁴/m²/day
	seaLevelKPa     = 101.3
)

// EstimateDailyET returns the reference ET0 in mm/day for the given day at
// the station. When the summary carries humidity data the full
// Penman-Monteith form is used; otherwise it falls back to Hargreaves,
// which only needs the temperature range.
func EstimateDailyET(st Station, sum Summary) float64 {
	if sum.RHmaxPct <= 0 {
		return etHargreaves(st, sum)
	}
	return etPenmanMonteith(st, sum)
}

func etPenmanMonteith(st Station, sum Summary) float64 {
	tmean := (sum.TminC + sum.TmaxC) / 2
	u2 := windAt2m(sum.WindMS, 10)

	delta := slopeSaturation(tmean)
	gamma := 0.000665 * seaLevelKPa

	es := (satVapor(sum.TminC) + satVapor(sum.TmaxC)) / 2
	ea := (satVapor(sum.TminC)*sum.RHmaxPct + satVapor(sum.TmaxC)*sum.RHminPct) / 200

	ra := extraterrestrialRadiation(st.Lat, dayOfYear(sum.Date))
	rs := solarFromTempRange(sum.TminC, sum.TmaxC, ra)
	rso := 0.75 * ra
	rns := 0.77 * rs

	tkMax := sum.TmaxC + 273.16
	tkMin := sum.TminC + 273.16
	cloud := 0.35
	if rso > 0 {
		cloud = 1.35*math.Min(rs/rso, 1) - 0.35
	}
	rnl := stefanBoltzmann * (math.Pow(tkMax, 4) + math.Pow(tkMin, 4)) / 2 *
		(0.34 - 0.14*math.Sqrt(math.Max(ea, 0))) * cloud
	rn := rns - rnl

	num := 0.408*delta*rn + gamma*900/(tmean+273)*u2*(es-ea)
	den := delta + gamma*(1+0.34*u2)
	return math.Max(num/den, 0)
}

// Hargreaves needs only min/max temperature; the 0.408 factor converts the
// radiation term from MJ/m²/day to mm/day.
func etHargreaves(st Station, sum Summary) float64 {
	tmean := (sum.TminC + sum.TmaxC) / 2
	ra := extraterrestrialRadiation(st.Lat, dayOfYear(sum.Date))
	et := 0.0023 * (tmean + 17.8) * math.Sqrt(math.Max(sum.TmaxC-sum.TminC, 0)) * 0.408 * ra
	return math.Max(et, 0)
}

// slopeSaturation is the slope of the saturation vapor curve (kPa/°C).
func slopeSaturation(t float64) float64 {
	return 4098 * satVapor(t) / math.Pow(t+237.3, 2)
}

// satVapor is the saturation vapor pressure (kPa) at temperature t (°C).
func satVapor(t float64) float64 {
	return 0.6108 * math.Exp(17.27*t/(t+237.3))
}

// windAt2m converts a wind speed measured at the given height (m) to the
// standard 2 m reference height.
func windAt2m(u, height float64) float64 {
	if height <= 0 || height == 2 {
		return u
	}
	return u * 4.87 / math.Log(67.8*height-5.42)
}

// extraterrestrialRadiation is Ra (MJ/m²/day) for a latitude and day of year.
func extraterrestrialRadiation(latDeg float64, doy int) float64 {
	j := float64(doy)
	phi := latDeg * math.Pi / 180
	dr := 1 + 0.033*math.Cos(2*math.Pi/365*j)
	decl := 0.409 * math.Sin(2*math.Pi/365*j-1.39)
	ws := math.Acos(clamp(-math.Tan(phi)*math.Tan(decl), -1, 1))
	return 24 * 60 / math.Pi * solarConstant * dr *
		(ws*math.Sin(phi)*math.Sin(decl) + math.Cos(phi)*math.Cos(decl)*math.Sin(ws))
}

// solarFromTempRange estimates incoming solar radiation from the daily
// temperature range when no measurement is available (interior kRs).
func solarFromTempRange(tmin, tmax, ra float64) float64 {
	return 0.16 * math.Sqrt(math.Max(tmax-tmin, 0)) * ra
}

func dayOfYear(t time.Time) int {
	if t.IsZero() {
		t = time.Now()
	}
	return t.YearDay()
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// WateringAdjustment turns current and recent conditions into a 0..2 scale
// factor for fixed-duration runs: hotter and drier than a 70 °F / 30 %
// baseline waters more, recent rain waters less.
func WateringAdjustment(cond Conditions, past Summary) float64 {
	tNow := cToF(cond.TempC)
	tPast := cToF((past.TminC + past.TmaxC) / 2)
	hNow := cond.HumidityPct
	hPast := (past.RHminPct + past.RHmaxPct) / 2
	pNow := mmToIn(cond.PrecipMm)
	pPast := mmToIn(past.PrecipMm)

	tFactor := 4.0 * ((0.5*tNow + 0.5*tPast) - 70.0)
	rFactor := 1.0 * (30.0 - (0.5*hNow + 0.5*hPast))
	pFactor := -2.0 * (pNow + pPast) * 100.0

	factor := 100.0 + tFactor + rFactor + pFactor
	return clamp(factor, 0, 200) / 100.0
}
