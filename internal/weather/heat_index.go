// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package weather turns periodic weather snapshots into synthetic risk
// events and a feels-like temperature for the fatigue estimator.
package weather

// heatIndexOnsetC is the temperature below which humidity adjustment is
// skipped and the raw temperature passes through.
const heatIndexOnsetC = 27.0

// HeatIndexC computes the humidity-adjusted feels-like temperature in
// Celsius using the Rothfusz regression. At or below the onset the raw
// temperature is returned unchanged.
func HeatIndexC(temperatureC, relativeHumidity float64) float64 {
	if temperatureC <= heatIndexOnsetC {
		return temperatureC
	}
	if relativeHumidity < 0 {
		relativeHumidity = 0
	}
	if relativeHumidity > 100 {
		relativeHumidity = 100
	}

	t := temperatureC*9/5 + 32
	rh := relativeHumidity

	hi := -42.379 +
		2.04901523*t +
		10.14333127*rh -
		0.22475541*t*rh -
		6.83783e-3*t*t -
		5.481717e-2*rh*rh +
		1.22874e-3*t*t*rh +
		8.5282e-4*t*rh*rh -
		1.99e-6*t*t*rh*rh

	return (hi - 32) * 5 / 9
}
