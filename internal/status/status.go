// Package status derives an invite's lifecycle status from its audit log and
// gates buyer-facing signing on the result. Status is never stored: it is a
// pure projection of the event history and the current time, so wall-clock
// transitions (expiry) need no cache invalidation.
package status

import (
	"strings"
	"time"

	"github.com/dwellingly/buyersign/internal/model"
)

// DefaultTTLDays applies when an invite's TTL is absent or zero.
const DefaultTTLDays = 7

// Status represents the derived lifecycle status of an invite.
type Status int

const (
	// Created indicates the invite exists but has not been sent or viewed.
	Created Status = iota
	// Sent indicates the invite link was sent to the buyer.
	Sent
	// Viewed indicates the buyer opened the invite link.
	Viewed
	// Signed indicates the agreement was signed; terminal.
	Signed
	// Expired indicates the TTL elapsed without a terminal event. Computed,
	// not stored: a later terminal event overrides it.
	Expired
	// Revoked indicates the agent revoked the invite; terminal, highest priority.
	Revoked
)

// Derive computes the authoritative status for an invite at the given
// instant. Priority-ordered, first match wins:
//
//  1. revoked  — INVITE_REVOKED present; overrides everything, including a
//     signature recorded afterwards.
//  2. signed   — AGREEMENT_SIGNED present; outranks expiry, so a late-arriving
//     signature escapes an expiry classification.
//  3. expired  — now is past createdAt plus TTL calendar days.
//  4. viewed / sent / created from remaining activity.
//
// Pure and total: it never fails on a well-formed invite. Expiry is evaluated
// at call time, so two calls straddling the TTL boundary can disagree.
func Derive(invite *model.BuyerInvite, now time.Time) Status {
	switch {
	case invite.HasEvent(model.EventInviteRevoked):
		return Revoked
	case invite.HasEvent(model.EventAgreementSigned):
		return Signed
	case now.After(ExpiryTime(invite)):
		return Expired
	case invite.HasEvent(model.EventInviteViewed):
		return Viewed
	case invite.HasEvent(model.EventInviteSent):
		return Sent
	default:
		return Created
	}
}

// ExpiryTime returns the instant at which the invite expires absent a
// terminal event. Whole calendar days are added to the creation instant, not
// 24h blocks.
func ExpiryTime(invite *model.BuyerInvite) time.Time {
	ttl := invite.TTLDays
	if ttl <= 0 {
		ttl = DefaultTTLDays
	}
	return invite.CreatedAtUTC.AddDate(0, 0, ttl)
}

// Decision is the outcome of the sign gate.
type Decision struct {
	Allowed bool
	Reason  string // set only when not allowed
}

// CanSign reports whether the buyer may proceed to sign. It is the sole gate
// callers must consult before presenting the signing flow; the signing
// transaction re-checks it before committing.
func CanSign(invite *model.BuyerInvite, now time.Time) Decision {
	switch Derive(invite, now) {
	case Signed:
		return Decision{Allowed: false, Reason: "Agreement already signed."}
	case Revoked:
		return Decision{Allowed: false, Reason: "This invite has been revoked by the agent."}
	case Expired:
		return Decision{Allowed: false, Reason: "This invite has expired."}
	default:
		return Decision{Allowed: true}
	}
}

// Label returns the string label for a status.
func (s Status) Label() string {
	switch s {
	case Sent:
		return "sent"
	case Viewed:
		return "viewed"
	case Signed:
		return "signed"
	case Expired:
		return "expired"
	case Revoked:
		return "revoked"
	default:
		return "created"
	}
}

// String implements fmt.Stringer.
func (s Status) String() string { return s.Label() }

// FromLabel converts a status label back to a Status value. Unknown labels
// map to Created.
func FromLabel(label string) Status {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "sent":
		return Sent
	case "viewed":
		return Viewed
	case "signed":
		return Signed
	case "expired":
		return Expired
	case "revoked":
		return Revoked
	default:
		return Created
	}
}

// BuyerInitials returns dot-joined uppercase initials for a buyer name, used
// on certificates ("Ada Lovelace" -> "A.L").
func BuyerInitials(name string) string {
	var initials []string
	for _, part := range strings.Fields(name) {
		r := []rune(part)
		initials = append(initials, strings.ToUpper(string(r[0])))
	}
	return strings.Join(initials, ".")
}
