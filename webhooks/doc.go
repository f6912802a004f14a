// Package webhooks verifies, dedupes and dispatches aggregator webhooks.
//
// A delivery is claimed in a core.ReplayLedger before its handler runs. When
// the handler fails the claim is released again (for ledgers implementing
// core.ReplayReleaser) so the aggregator's retry is processed instead of being
// deduped as already handled.
package webhooks
