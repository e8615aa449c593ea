// Package domain provides core business rules for the leads bounded context:
// the lead status state machine and the role-keyed transition table.
package domain

// Status is a lead's position in the management pipeline. The values are the
// canonical Spanish pipeline names used across the CRM.
type Status string

const (
	StatusNuevo        Status = "nuevo"
	StatusDerivado     Status = "derivado"
	StatusEnGestion    Status = "en_gestion"
	StatusGestionado   Status = "gestionado"
	StatusNoGestionado Status = "no_gestionado"
	StatusCerrado      Status = "cerrado"
	StatusListaNegra   Status = "lista_negra"
)

var knownStatuses = map[Status]struct{}{
	StatusNuevo:        {},
	StatusDerivado:     {},
	StatusEnGestion:    {},
	StatusGestionado:   {},
	StatusNoGestionado: {},
	StatusCerrado:      {},
	StatusListaNegra:   {},
}

// IsValid reports whether the status is a known pipeline status.
func (s Status) IsValid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// IsTerminal reports whether no further advisor work happens on the lead.
// Terminal leads can only be reopened through a privileged reassignment.
func (s Status) IsTerminal() bool {
	return s == StatusCerrado || s == StatusListaNegra
}

// IsOwned reports whether the status requires a live advisor assignment.
// A lead's assigned_advisor_id is populated exactly while it sits in one of
// these states.
func (s Status) IsOwned() bool {
	return s == StatusDerivado || s == StatusEnGestion
}

// ReleasesOwnership reports whether entering this status ends the owning
// advisor's session.
func (s Status) ReleasesOwnership() bool {
	switch s {
	case StatusGestionado, StatusNoGestionado, StatusCerrado, StatusListaNegra:
		return true
	}
	return false
}

// Role is a closed enumeration of caller roles. The upstream CRM compared
// free-form role strings at every call site; the engine only accepts these.
type Role string

const (
	RoleAsesor Role = "asesor"
	RoleGTR    Role = "gtr"
	RoleAdmin  Role = "admin"
)

// IsValid reports whether the role is known.
func (r Role) IsValid() bool {
	return r == RoleAsesor || r == RoleGTR || r == RoleAdmin
}

// IsPrivileged reports whether the role may assign and reassign leads.
func (r Role) IsPrivileged() bool {
	return r == RoleGTR || r == RoleAdmin
}
