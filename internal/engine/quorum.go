package engine

import (
	"sort"

	"github.com/tburke/arbiter/internal/model"
)

// bpsScale is the basis-point denominator: 10000 bps = 100%.
const bpsScale = 10000

// quorumRequired returns the number of responses needed to satisfy the
// participation threshold for an operator pool of size n. The arithmetic is
// integer-only: required = ceil(n*thresholdBps/10000), so reached-ness and
// the reported requirement always agree. A pool of one requires exactly one
// response regardless of threshold.
func quorumRequired(n, thresholdBps int) int {
	if n <= 1 {
		return n
	}
	return (n*thresholdBps + bpsScale - 1) / bpsScale
}

// participationReached reports whether r responses out of n operators meet
// the threshold. An empty pool can never reach quorum.
func participationReached(r, n, thresholdBps int) bool {
	if n == 0 {
		return false
	}
	if n == 1 {
		return r >= 1
	}
	return r*bpsScale >= n*thresholdBps
}

// contentWinner groups responses by exact payload equality and returns the
// payload of the largest group if it meets the content threshold relative to
// the total response count. Ties between equal-sized groups break to the
// lexicographically smallest payload, which keeps repeated evaluations of
// the same response set deterministic.
func contentWinner(responses []*model.TaskResponse, thresholdBps int) (string, bool) {
	if len(responses) == 0 {
		return "", false
	}

	counts := make(map[string]int, len(responses))
	for _, r := range responses {
		counts[r.Response]++
	}

	payloads := make([]string, 0, len(counts))
	for p := range counts {
		payloads = append(payloads, p)
	}
	sort.Strings(payloads)

	best := payloads[0]
	for _, p := range payloads[1:] {
		if counts[p] > counts[best] {
			best = p
		}
	}

	if counts[best]*bpsScale >= thresholdBps*len(responses) {
		return best, true
	}
	return "", false
}
