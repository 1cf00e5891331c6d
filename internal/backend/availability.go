package backend

import "strings"

// Available returns a comma-separated list of available backends.
func Available() string {
	var entries []string
	if Has(Host) {
		entries = append(entries, Host)
	}
	entries = append(entries, NoBLAS)
	return strings.Join(entries, ",")
}
