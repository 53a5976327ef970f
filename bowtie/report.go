// Copyright 2025, the Conseq contributors.

package bowtie

import (
	"bufio"
	"strconv"
	"strings"
)

// Report holds the metrics extracted from one bowtie2 run.  A field
// left at zero because its marker line was absent signals a parse
// miss, not a crash; ParseReport reports such misses alongside the
// Report.
type Report struct {
	TotalPairs     int
	AlignedOnce    int
	AlignedMulti   int
	ConcordantZero int
	OverallRate    float64
}

// Marker phrases recognized in bowtie2 stderr.  Recognition is
// substring containment, not a grammar: the format is stable but not
// machine-structured, so lines keep leading counts and indentation.
const (
	markerTotal = "reads; of these"
	markerOnce  = "aligned exactly 1 time"
	markerMulti = "aligned >1 times"
	markerZero  = "aligned concordantly 0 times"
	markerRate  = "overall alignment rate"
)

// ParseReport extracts a Report from bowtie2 stderr text.  For each
// marker the first matching line wins and its first numeric token is
// taken.  Markers that never appear leave the metric at zero and are
// returned as warnings for the caller to log; an absent overall-rate
// marker makes the run non-competitive rather than an error.
func ParseReport(stderr string) (Report, []string) {

	var rep Report
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(strings.NewReader(stderr))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case !seen[markerTotal] && strings.Contains(line, markerTotal):
			rep.TotalPairs = firstInt(line)
			seen[markerTotal] = true
		case !seen[markerOnce] && strings.Contains(line, markerOnce):
			rep.AlignedOnce = firstInt(line)
			seen[markerOnce] = true
		case !seen[markerMulti] && strings.Contains(line, markerMulti):
			rep.AlignedMulti = firstInt(line)
			seen[markerMulti] = true
		case !seen[markerZero] && strings.Contains(line, markerZero):
			rep.ConcordantZero = firstInt(line)
			seen[markerZero] = true
		case !seen[markerRate] && strings.Contains(line, markerRate):
			rep.OverallRate = firstFloat(line)
			seen[markerRate] = true
		}
	}

	var missing []string
	for _, m := range []string{markerTotal, markerOnce, markerMulti, markerZero, markerRate} {
		if !seen[m] {
			missing = append(missing, m)
		}
	}

	return rep, missing
}

// firstInt returns the first integer token on the line, or zero.
func firstInt(line string) int {
	for _, tok := range strings.Fields(line) {
		if n, err := strconv.Atoi(tok); err == nil {
			return n
		}
	}
	return 0
}

// firstFloat returns the first numeric token on the line, tolerating
// a trailing percent sign, or zero.
func firstFloat(line string) float64 {
	for _, tok := range strings.Fields(line) {
		tok = strings.TrimSuffix(tok, "%")
		if x, err := strconv.ParseFloat(tok, 64); err == nil {
			return x
		}
	}
	return 0
}
