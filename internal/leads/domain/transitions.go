package domain

import "github.com/google/uuid"

// Reason is a machine-readable code explaining why a transition was refused.
type Reason string

const (
	ReasonRoleNotPermitted  Reason = "role_not_permitted"
	ReasonIllegalTransition Reason = "illegal_state_transition"
	ReasonNotOwnedByCaller  Reason = "lead_not_owned_by_caller"
)

// Decision is the outcome of evaluating a requested transition. Invalid
// decisions carry a Reason; evaluation itself never fails.
type Decision struct {
	Valid  bool
	Reason Reason
}

func allow() Decision        { return Decision{Valid: true} }
func deny(r Reason) Decision { return Decision{Reason: r} }

// TransitionInput carries everything the rule table needs to judge a
// requested status change. OwnerID is the advisor currently responsible for
// the lead: the live lease holder when one exists, otherwise the most recent
// owning advisor on record (needed for the post-release closing steps).
type TransitionInput struct {
	Role      Role
	ActorID   uuid.UUID
	Current   Status
	Requested Status
	OwnerID   *uuid.UUID
	Force     bool
}

// advisorChain maps each status an asesor may move a lead from to the set of
// statuses reachable in one step. Skipping states is not possible.
var advisorChain = map[Status][]Status{
	StatusDerivado:     {StatusEnGestion},
	StatusEnGestion:    {StatusGestionado, StatusNoGestionado},
	StatusGestionado:   {StatusCerrado},
	StatusNoGestionado: {StatusCerrado},
}

// Decide evaluates whether the requested transition is legal for the caller.
// It is a pure function: no side effects, never an error.
func Decide(in TransitionInput) Decision {
	if !in.Current.IsValid() || !in.Requested.IsValid() {
		return deny(ReasonIllegalTransition)
	}
	if !in.Role.IsValid() {
		return deny(ReasonRoleNotPermitted)
	}
	// Force is a privileged override only.
	if in.Force && !in.Role.IsPrivileged() {
		return deny(ReasonRoleNotPermitted)
	}

	// Blacklisting is the escape hatch: legal for every role from any
	// non-terminal state.
	if in.Requested == StatusListaNegra {
		if in.Current.IsTerminal() {
			return deny(ReasonIllegalTransition)
		}
		return allow()
	}

	// Assignment and reassignment: only dispatch roles place a lead in
	// derivado. Leaving the blacklist additionally requires an admin
	// explicitly forcing the reopen.
	if in.Requested == StatusDerivado {
		if !in.Role.IsPrivileged() {
			return deny(ReasonRoleNotPermitted)
		}
		if in.Current == StatusListaNegra {
			if in.Role != RoleAdmin {
				return deny(ReasonRoleNotPermitted)
			}
			if !in.Force {
				return deny(ReasonIllegalTransition)
			}
		}
		return allow()
	}

	// Everything else is the advisor's working chain.
	if in.Role != RoleAsesor {
		return deny(ReasonRoleNotPermitted)
	}
	if !chainAllows(in.Current, in.Requested) {
		return deny(ReasonIllegalTransition)
	}
	if in.OwnerID == nil || *in.OwnerID != in.ActorID {
		return deny(ReasonNotOwnedByCaller)
	}
	return allow()
}

func chainAllows(current, requested Status) bool {
	for _, next := range advisorChain[current] {
		if next == requested {
			return true
		}
	}
	return false
}
