package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestDecideRoleMatrix(t *testing.T) {
	actor := uuid.New()
	other := uuid.New()

	cases := []struct {
		name       string
		role       Role
		current    Status
		requested  Status
		owner      *uuid.UUID
		force      bool
		wantValid  bool
		wantReason Reason
	}{
		// Assignment.
		{"gtr assigns new lead", RoleGTR, StatusNuevo, StatusDerivado, nil, false, true, ""},
		{"admin assigns new lead", RoleAdmin, StatusNuevo, StatusDerivado, nil, false, true, ""},
		{"asesor cannot assign", RoleAsesor, StatusNuevo, StatusDerivado, nil, false, false, ReasonRoleNotPermitted},

		// Reassignment back to derivado.
		{"gtr reassigns owned lead", RoleGTR, StatusEnGestion, StatusDerivado, &other, true, true, ""},
		{"gtr reopens closed lead", RoleGTR, StatusCerrado, StatusDerivado, nil, false, true, ""},
		{"asesor cannot reassign", RoleAsesor, StatusEnGestion, StatusDerivado, &actor, false, false, ReasonRoleNotPermitted},

		// Blacklist reopen is admin-forced only.
		{"admin forces blacklist reopen", RoleAdmin, StatusListaNegra, StatusDerivado, nil, true, true, ""},
		{"gtr cannot reopen blacklist", RoleGTR, StatusListaNegra, StatusDerivado, nil, true, false, ReasonRoleNotPermitted},
		{"admin needs force for blacklist reopen", RoleAdmin, StatusListaNegra, StatusDerivado, nil, false, false, ReasonIllegalTransition},

		// Advisor working chain.
		{"owner starts working", RoleAsesor, StatusDerivado, StatusEnGestion, &actor, false, true, ""},
		{"owner marks handled", RoleAsesor, StatusEnGestion, StatusGestionado, &actor, false, true, ""},
		{"owner marks unhandled", RoleAsesor, StatusEnGestion, StatusNoGestionado, &actor, false, true, ""},
		{"owner closes handled lead", RoleAsesor, StatusGestionado, StatusCerrado, &actor, false, true, ""},
		{"owner closes unhandled lead", RoleAsesor, StatusNoGestionado, StatusCerrado, &actor, false, true, ""},
		{"non-owner cannot work lead", RoleAsesor, StatusDerivado, StatusEnGestion, &other, false, false, ReasonNotOwnedByCaller},
		{"unowned lead cannot be worked", RoleAsesor, StatusDerivado, StatusEnGestion, nil, false, false, ReasonNotOwnedByCaller},
		{"cannot skip states", RoleAsesor, StatusDerivado, StatusGestionado, &actor, false, false, ReasonIllegalTransition},
		{"cannot close from en_gestion", RoleAsesor, StatusEnGestion, StatusCerrado, &actor, false, false, ReasonIllegalTransition},
		{"gtr cannot advance the chain", RoleGTR, StatusDerivado, StatusEnGestion, &actor, false, false, ReasonRoleNotPermitted},

		// Blacklist escape hatch.
		{"asesor blacklists a working lead", RoleAsesor, StatusEnGestion, StatusListaNegra, &actor, false, true, ""},
		{"gtr blacklists a new lead", RoleGTR, StatusNuevo, StatusListaNegra, nil, false, true, ""},
		{"blacklist from closed is illegal", RoleGTR, StatusCerrado, StatusListaNegra, nil, false, false, ReasonIllegalTransition},
		{"blacklist is absorbing", RoleAdmin, StatusListaNegra, StatusListaNegra, nil, false, false, ReasonIllegalTransition},

		// Force by unprivileged callers.
		{"asesor cannot force", RoleAsesor, StatusEnGestion, StatusListaNegra, &actor, true, false, ReasonRoleNotPermitted},

		// Garbage input.
		{"unknown role", Role("supervisor"), StatusNuevo, StatusDerivado, nil, false, false, ReasonRoleNotPermitted},
		{"unknown status", RoleGTR, Status("pendiente"), StatusDerivado, nil, false, false, ReasonIllegalTransition},

		// Re-deriving an already-derived lead to a new advisor is the
		// reassignment path, not a no-op.
		{"gtr re-derives a derived lead", RoleGTR, StatusDerivado, StatusDerivado, &actor, false, true, ""},
		{"asesor cannot loop en_gestion", RoleAsesor, StatusEnGestion, StatusEnGestion, &actor, false, false, ReasonIllegalTransition},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(TransitionInput{
				Role:      tc.role,
				ActorID:   actor,
				Current:   tc.current,
				Requested: tc.requested,
				OwnerID:   tc.owner,
				Force:     tc.force,
			})
			if got.Valid != tc.wantValid {
				t.Fatalf("Decide() valid = %v, want %v (reason %q)", got.Valid, tc.wantValid, got.Reason)
			}
			if got.Reason != tc.wantReason {
				t.Fatalf("Decide() reason = %q, want %q", got.Reason, tc.wantReason)
			}
		})
	}
}

func TestStatusClassification(t *testing.T) {
	owned := []Status{StatusDerivado, StatusEnGestion}
	for _, s := range owned {
		if !s.IsOwned() {
			t.Errorf("%s should be an owned status", s)
		}
	}

	unowned := []Status{StatusNuevo, StatusGestionado, StatusNoGestionado, StatusCerrado, StatusListaNegra}
	for _, s := range unowned {
		if s.IsOwned() {
			t.Errorf("%s should not be an owned status", s)
		}
	}

	releasing := []Status{StatusGestionado, StatusNoGestionado, StatusCerrado, StatusListaNegra}
	for _, s := range releasing {
		if !s.ReleasesOwnership() {
			t.Errorf("%s should release ownership", s)
		}
	}

	if !StatusCerrado.IsTerminal() || !StatusListaNegra.IsTerminal() {
		t.Error("cerrado and lista_negra must be terminal")
	}
	if StatusGestionado.IsTerminal() {
		t.Error("gestionado is an outcome, not a terminal state")
	}
}
