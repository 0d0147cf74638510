// Package bundled embeds the fallback datasets shipped with the binary:
// a compact KEV snapshot for first-boot bootstrap, the ExploitDB CVE
// index, and the Asymmetric Laplace parameter table.
package bundled

import _ "embed"

//go:embed kev_fallback.json
var KEVFallback []byte

//go:embed exploitdb_index.json
var ExploitDBIndex []byte

//go:embed al_params.json
var ALParams []byte
