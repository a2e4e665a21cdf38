package permission

import "strings"

// Subject is whoever is asking.
type Subject interface {
	SubjectID() string
	HasPermission(name string) bool
}

// Principal is a [Subject] backed by a resolved set.
type Principal struct {
	ID       string
	Resolved Resolved
}

func (p Principal) SubjectID() string { return p.ID }

func (p Principal) HasPermission(name string) bool { return p.Resolved.Has(name) }

// Outcome is the verdict of [Authorize].
type Outcome uint8

const (
	// OutcomeForbidden means the requester may not proceed.
	OutcomeForbidden Outcome = iota
	// OutcomeGranted means the requester holds every required permission.
	OutcomeGranted
	// OutcomeSelfService means the requester lacks permissions but owns the
	// resource. Admin-only payload fields were cleared.
	OutcomeSelfService
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeSelfService:
		return "self_service"
	default:
		return "forbidden"
	}
}

// Reason keys carried by forbidden decisions.
const (
	ReasonInsufficientPermissions = "insufficient_permissions"
	ReasonInvalidPayload          = "invalid_payload"
)

// Decision is the result of [Authorize].
type Decision struct {
	Outcome Outcome
	// Missing lists required permissions the requester does not hold.
	Missing []string
	// Redacted lists payload fields cleared on the self-service path.
	Redacted []string
	// Reason is set on forbidden decisions.
	Reason string
}

// Allowed reports whether the caller may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome != OutcomeForbidden
}

// Authorize applies the access policy: every required permission, or
// ownership of the resource with admin-only fields stripped from payload.
// payload may be nil, a pointer to a struct, or a [Payload].
func Authorize(required []string, requester Subject, ownerID string, payload any) Decision {
	if requester == nil {
		return Decision{Outcome: OutcomeForbidden, Missing: required, Reason: ReasonInsufficientPermissions}
	}

	var missing []string
	for _, name := range required {
		if !requester.HasPermission(strings.TrimSpace(name)) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return Decision{Outcome: OutcomeGranted}
	}

	if ownerID != "" && requester.SubjectID() == ownerID {
		redacted, err := Redact(payload)
		if err != nil {
			return Decision{Outcome: OutcomeForbidden, Missing: missing, Reason: ReasonInvalidPayload}
		}
		return Decision{Outcome: OutcomeSelfService, Missing: missing, Redacted: redacted}
	}

	return Decision{Outcome: OutcomeForbidden, Missing: missing, Reason: ReasonInsufficientPermissions}
}
