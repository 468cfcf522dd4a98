package domain

import "sort"

// intervalMillis maps every supported candle interval to its duration in
// milliseconds. 1M is approximated as 30 days; true calendar months are not
// needed because the store keys on the venue-reported open timestamp.
var intervalMillis = map[string]int64{
	"1m":  60_000,
	"3m":  180_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"2h":  7_200_000,
	"4h":  14_400_000,
	"6h":  21_600_000,
	"8h":  28_800_000,
	"12h": 43_200_000,
	"1d":  86_400_000,
	"3d":  259_200_000,
	"1w":  604_800_000,
	"1M":  2_592_000_000,
}

// ValidInterval reports whether s is one of the supported candle intervals.
func ValidInterval(s string) bool {
	_, ok := intervalMillis[s]
	return ok
}

// IntervalMillis returns the duration of the interval in milliseconds.
func IntervalMillis(s string) (int64, bool) {
	ms, ok := intervalMillis[s]
	return ms, ok
}

// IntervalSeconds returns the duration of the interval in seconds.
func IntervalSeconds(s string) (int64, bool) {
	ms, ok := intervalMillis[s]
	return ms / 1000, ok
}

// Intervals returns the supported intervals sorted by duration.
func Intervals() []string {
	out := make([]string, 0, len(intervalMillis))
	for k := range intervalMillis {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return intervalMillis[out[i]] < intervalMillis[out[j]]
	})
	return out
}

// AlignDown floors ts to an exact multiple of the interval duration.
func AlignDown(ts, intervalMs int64) int64 {
	return (ts / intervalMs) * intervalMs
}
