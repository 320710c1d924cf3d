// Package inventory provides the host capabilities plays are built from.
//
// Three sources are supported:
//
//   - static hosts declared in the project file
//   - the host registry in the run store, looked up when the host is
//     resolved ("registry:<name>")
//   - WASI plugins executed with wazero that print a JSON host list on
//     stdout ("plugin:<path>")
//
// Resolver maps host references used in plan scripts to capabilities.
package inventory
