// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so manifest validation works
// regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// SessionManifestSchema is the embedded session-manifest JSON schema.
//
//go:embed session-manifest.schema.json
var SessionManifestSchema []byte
