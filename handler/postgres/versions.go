package postgres

import "slices"

// Version is a PostgreSQL release the embedded server can download.
type Version string

const (
	V17_4  Version = "17.4.0"
	V17_2  Version = "17.2.0"
	V16_8  Version = "16.8.0"
	V16_6  Version = "16.6.0"
	V16_4  Version = "16.4.0"
	V15_12 Version = "15.12.0"
	V15_10 Version = "15.10.0"
	V14_17 Version = "14.17.0"
	V13_20 Version = "13.20.0"
)

// DefaultVersion is used when the database block leaves version empty.
const DefaultVersion = V16_8

var knownVersions = []Version{V17_4, V17_2, V16_8, V16_6, V16_4, V15_12, V15_10, V14_17, V13_20}

// IsSupportedVersion reports whether v is one of the known versions.
func IsSupportedVersion(v string) bool {
	return slices.Contains(knownVersions, Version(v))
}
