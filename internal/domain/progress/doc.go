// Package progress contains the progress aggregation engine for meditation practice.
//
// The engine turns a user's stored session history into two independent signals:
//
//   - a rolling day-bucketed summary (0..12 days ago) used for trend display
//   - a lifetime-minutes tier and a consecutive-day streak tier, each backed by a role
//
// Every function in this package is a pure function of its inputs plus a reference
// instant. Nothing here performs I/O, holds state between calls or needs locking, so a
// computation can be retried any number of times with identical results.
//
// # Pipeline
//
//	records, err := store.SessionsUpTo(ctx, communityID, userID, reference)
//	if err != nil {
//	    return err // shared.ErrStoreUnavailable, retry is up to the caller
//	}
//
//	p, err := progress.Compute(records, reference, ladder)
//	if err != nil {
//	    return err // configuration error, never transient
//	}
//
//	diff := progress.Reconcile(heldRoles, p.Tier, p.StreakTier, ladder.TierRoles, ladder.StreakRoles)
//
// Applying the diff against the chat platform is left to the application layer,
// which keeps at most one role sync in flight per user.
//
// # Ports
//
// The package declares the interfaces implemented in infrastructure:
//
//   - SessionStore: append-only session rows keyed by community, user and instant
//   - RoleGateway: the platform role API
//   - ProgressCache: optional read-through cache of computed progress
//   - Locker: per-user mutual exclusion for role syncs
package progress
