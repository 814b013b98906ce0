// Package testutil holds small fixtures shared across package test
// suites, following the reference tree's convention of a narrow
// internal helper package (a pool-style package is the closest analog: a
// small shared utility, not a general-purpose grab bag).
package testutil

import "github.com/grafana/flashq/record"

// SampleRecords builds n records with sequential string values: "a"
// through "z" for the first 26, then "v26", "v27", ..., useful
// wherever a test only cares about ordering and count, not payload
// content.
func SampleRecords(n int) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		out[i] = record.Record{Value: []byte(sampleValue(i))}
	}
	return out
}

func sampleValue(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	if i < len(letters) {
		return string(letters[i])
	}
	return "v" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
