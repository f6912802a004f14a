// Package core contains the bank linking contracts, the client-side link
// orchestrator, and the backend link service. Provider, storage, and transport
// adapters depend on this package; core must not depend on them.
package core
