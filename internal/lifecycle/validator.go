// Package lifecycle mirrors, off chain, the legal transitions of the
// on-chain project and protocol records. Every transaction that would
// update one of those records is checked here first, so the wallet never
// assembles a transaction the on-chain validator would reject.
package lifecycle

import (
	"fmt"

	"custodian/internal/metrics"
	"custodian/internal/models"
)

// Reason tags why a transition was rejected.
type Reason string

const (
	ReasonSupplyExceeded            Reason = "supply_exceeded"
	ReasonRealFieldsNotEmpty        Reason = "real_fields_not_empty"
	ReasonNonMonotonicCertification Reason = "non_monotonic_certification"
	ReasonStakeholderSetLocked      Reason = "stakeholder_set_locked"
	ReasonTooManyAdmins             Reason = "too_many_admins"
	ReasonDuplicateEntry            Reason = "duplicate_entry"
	ReasonStateRevert               Reason = "state_revert"
)

// InvalidTransitionError reports exactly which rule a proposed record
// violates. The validator never fixes input; callers surface the reason.
type InvalidTransitionError struct {
	Reason Reason
	Detail string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition (%s): %s", e.Reason, e.Detail)
}

func reject(reason Reason, format string, args ...any) error {
	metrics.TransitionRejectionsTotal.WithLabelValues(string(reason)).Inc()
	return &InvalidTransitionError{
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	}
}

// ValidateProjectTransition checks a proposed project record against the
// current one. States advance forward only; a backward move requires the
// explicit allowRevert flag (an administrative override surfaced to the
// operator, never silent) and is still checked structurally.
func ValidateProjectTransition(current, next *models.ProjectRecord, allowRevert bool) error {
	if next.State < current.State && !allowRevert {
		return reject(ReasonStateRevert, "state %s -> %s moves backward without explicit revert",
			current.State, next.State)
	}

	if total := next.TotalParticipation(); total > next.Token.TotalSupply {
		return reject(ReasonSupplyExceeded, "stakeholder participation %d exceeds total supply %d",
			total, next.Token.TotalSupply)
	}

	if err := validateCertifications(current, next); err != nil {
		return err
	}

	return validateStakeholders(current, next)
}

// validateCertifications enforces the real-field rules: empty while tokens
// are being distributed, monotonically growing everywhere else, and the
// certification list itself never shrinks.
func validateCertifications(current, next *models.ProjectRecord) error {
	if next.State == models.ProjectDistributed {
		for i, c := range next.Certifications {
			if c.RealDate != 0 || c.RealQuantity != 0 {
				return reject(ReasonRealFieldsNotEmpty,
					"certification %d carries real_date=%d real_quantity=%d in distributed state",
					i, c.RealDate, c.RealQuantity)
			}
		}
		return nil
	}

	if len(next.Certifications) < len(current.Certifications) {
		return reject(ReasonNonMonotonicCertification,
			"certification list shrank from %d to %d entries",
			len(current.Certifications), len(next.Certifications))
	}

	for i := range current.Certifications {
		cur := current.Certifications[i]
		nxt := next.Certifications[i]
		if nxt.RealDate < cur.RealDate {
			return reject(ReasonNonMonotonicCertification,
				"certification %d real_date decreases %d -> %d", i, cur.RealDate, nxt.RealDate)
		}
		if nxt.RealQuantity < cur.RealQuantity {
			return reject(ReasonNonMonotonicCertification,
				"certification %d real_quantity decreases %d -> %d", i, cur.RealQuantity, nxt.RealQuantity)
		}
	}
	return nil
}

// validateStakeholders locks the stakeholder set once tokens have been
// distributed: from then on only the claimed flag of existing stakeholders
// may change.
func validateStakeholders(current, next *models.ProjectRecord) error {
	if current.State < models.ProjectDistributed {
		return nil
	}

	if len(next.Stakeholders) != len(current.Stakeholders) {
		return reject(ReasonStakeholderSetLocked,
			"stakeholder count changed %d -> %d after distribution",
			len(current.Stakeholders), len(next.Stakeholders))
	}

	for i := range current.Stakeholders {
		cur := current.Stakeholders[i]
		nxt := next.Stakeholders[i]
		if nxt.ID != cur.ID || nxt.PKH != cur.PKH || nxt.Participation != cur.Participation {
			return reject(ReasonStakeholderSetLocked,
				"stakeholder %d modified after distribution (only claimed may change)", i)
		}
	}
	return nil
}

// ValidateProtocolMutation checks a proposed protocol record. The protocol
// record has no ordered states, only structural bounds.
func ValidateProtocolMutation(current, next *models.ProtocolRecord) error {
	if len(next.Admins) > models.MaxProtocolAdmins {
		return reject(ReasonTooManyAdmins, "%d admins exceeds the limit of %d",
			len(next.Admins), models.MaxProtocolAdmins)
	}

	if dup, ok := findDuplicate(next.Admins); ok {
		return reject(ReasonDuplicateEntry, "duplicate admin %q", dup)
	}
	if dup, ok := findDuplicate(next.Projects); ok {
		return reject(ReasonDuplicateEntry, "duplicate project %q", dup)
	}
	return nil
}

func findDuplicate(entries []string) (string, bool) {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e]; ok {
			return e, true
		}
		seen[e] = struct{}{}
	}
	return "", false
}
