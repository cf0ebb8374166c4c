package exporter

import (
	"strconv"
)

// formatFloat formats a value with the shortest representation that round-trips
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// formatProbability formats a probability the way OpenQuake exports it
func formatProbability(f float64) string {
	return strconv.FormatFloat(f, 'E', 6, 64)
}

// formatInt formats an int value for CSV output
func formatInt(i int) string {
	return strconv.Itoa(i)
}
