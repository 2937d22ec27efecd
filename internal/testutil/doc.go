// Package testutil provides deterministic time and id sources so engine
// runs can be compared byte for byte.
package testutil
