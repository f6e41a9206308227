package billing

// =============================================================================
// STATUS RESOLVER - Pure, total, deterministic
// =============================================================================

// ResolveStatus derives the single display status from the two approval
// stages plus an optional billing status. Pure and total: every reachable
// combination yields exactly one defined value.
//
// Precedence, highest first:
//  1. billing status PAID wins over everything
//  2. a director decision (APPROVED/REJECTED) wins over accountant state
//  3. otherwise the accountant stage, defaulting to PENDING when absent
//
// The result is recomputed on every read and never stored, so it cannot go
// stale relative to the sub-states it is derived from.
func ResolveStatus(acc AccountantStage, dir DirectorStage, billing *BillingStatus) DisplayStatus {
	if billing != nil && *billing == BillingPaid {
		return StatusPaid
	}

	switch dir {
	case DirectorApproved:
		return StatusApproved
	case DirectorRejected:
		return StatusRejected
	}

	switch acc {
	case AccountantValidated:
		return StatusValidated
	case AccountantReturned:
		// Returned-for-correction always wins over an unexercised director
		// stage.
		return StatusReturned
	default:
		return StatusPending
	}
}

// ResolveStatusFromPayments is the repair-aware variant: whenever payments
// are queryable, PAID is derived from the presence of at least one payment
// rather than from the possibly-stale stored status. The second return
// value reports whether the PAID outcome was derived from payments while
// the stored status disagreed.
func ResolveStatusFromPayments(acc AccountantStage, dir DirectorStage, stored *BillingStatus, payments []Payment) (DisplayStatus, bool) {
	if len(payments) > 0 {
		derived := stored == nil || *stored != BillingPaid
		return StatusPaid, derived
	}
	return ResolveStatus(acc, dir, stored), false
}
