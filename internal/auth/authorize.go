// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package auth

import "github.com/fluxmesh/fluxmesh/internal/models"

// roleRank orders roles for threshold checks. Unknown roles rank lowest.
func roleRank(role string) int {
	switch role {
	case models.RoleAdmin:
		return 2
	case models.RoleUser:
		return 1
	default:
		return 0
	}
}

// Authorize reports whether actualRole satisfies requiredRole. Both roles are
// passed explicitly; no required-role state is shared across requests.
func Authorize(requiredRole, actualRole string) bool {
	required := roleRank(requiredRole)
	if required == 0 {
		return false
	}
	return roleRank(actualRole) >= required
}

// IsOwner reports whether the claims identify the owner of a resource.
// Anonymous connections (nil claims) never own anything.
func IsOwner(claims *Claims, ownerID string) bool {
	return claims != nil && claims.ID == ownerID
}

// CanRead reports whether the claims may read a resource with the given
// visibility and owner: public resources are readable by anyone, private ones
// by the owner or an admin.
func CanRead(claims *Claims, visibility, ownerID string) bool {
	if visibility == models.VisibilityPublic {
		return true
	}
	if claims == nil {
		return false
	}
	return claims.ID == ownerID || Authorize(models.RoleAdmin, claims.Role)
}
