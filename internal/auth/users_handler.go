// users_handler.go -- Public user listing.
package auth

import "net/http"

const recentUsersLimit = 10

// ListUsers handles GET /api/users/list -- the most recently created users.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.ListRecent(r.Context(), recentUsersLimit)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	out := make([]publicUser, len(users))
	for i, u := range users {
		created := u.CreatedAt
		out[i] = publicUser{Username: u.Username, CreatedAt: &created, Provider: u.Provider}
	}
	OK(w, map[string]any{"success": true, "users": out})
}
