// Package arbcost implements the two pricing functions shared by the
// router (ranking) and the orchestrator (post-hoc actual cost).
package arbcost

// RoutingCost is the ranking heuristic: cheapest-first ordering uses this
// value only, never the exact per-token cost (which depends on a
// request's actual token counts and is not known at selection time).
func RoutingCost(outputRate, baseFee int64) int64 {
	return outputRate + baseFee
}

// ActualSats computes the exact post-hoc cost in fractional satoshis:
//
//	(inputTokens*inputRate + outputTokens*outputRate) / 1000 + baseFee
//
// Rates are per-1000-tokens, in satoshi units. The division happens in
// float64 so fractional sats below 1 are preserved rather than rounded to
// zero by integer division.
func ActualSats(inputTokens, outputTokens int64, inputRate, outputRate, baseFee int64) float64 {
	weighted := float64(inputTokens)*float64(inputRate) + float64(outputTokens)*float64(outputRate)
	return weighted/1000.0 + float64(baseFee)
}
