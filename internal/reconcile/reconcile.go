// Package reconcile decides, on load, whether the server copy or the
// locally cached copy of an attempt/draft is authoritative. The winner
// is adopted wholesale; fields are never merged.
package reconcile

import "time"

// Candidate describes one side of a reconciliation.
type Candidate struct {
	Present   bool
	LastSaved time.Time
	Submitted bool
}

// Choice identifies the adopted side.
type Choice int

const (
	None Choice = iota
	Server
	Local
)

// Pick applies the reconciliation policy:
//   - only one side present: that side wins.
//   - a submitted server copy always wins, whatever the timestamps; a
//     finalized submission must never be downgraded by a stale cache.
//   - otherwise the strictly later LastSaved wins; ties and zero-valued
//     local timestamps go to the server.
func Pick(server, local Candidate) Choice {
	switch {
	case !server.Present && !local.Present:
		return None
	case !local.Present:
		return Server
	case !server.Present:
		return Local
	}
	if server.Submitted {
		return Server
	}
	if !local.LastSaved.IsZero() && local.LastSaved.After(server.LastSaved) {
		return Local
	}
	return Server
}
