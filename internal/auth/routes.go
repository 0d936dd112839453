// routes.go -- /api route table.
package auth

import "github.com/go-chi/chi/v5"

// APIRoutes mounts every /api endpoint on r. Sessions are loaded for all of them;
// the API guard counts every request before the per-route guards run.
func (h *AuthHandler) APIRoutes(r chi.Router) {
	r.Use(h.LoadSession)
	r.Use(h.Guards.API.Handler)

	r.Route("/auth", func(r chi.Router) {
		r.With(h.Guards.Register.Handler).Post("/register", h.Register)
		r.With(h.Guards.LoginIP.Handler, h.Guards.LoginAccount.Handler).Post("/login", h.Login)
		r.Get("/me", h.Me)
		r.Post("/logout", h.Logout)
		r.With(RequireSession).Post("/change-password", h.ChangePassword)

		r.Get("/{provider}", h.OAuthRedirect)
		r.Get("/{provider}/callback", h.OAuthCallback)
	})

	r.With(RequireSession).Post("/create-checkout", h.CreateCheckout)

	r.Route("/billing", func(r chi.Router) {
		r.Use(RequireSession)
		r.Get("/subscription", h.Subscription)
		r.Get("/balance", h.Balance)
		r.Get("/transactions", h.Transactions)
	})

	r.Get("/users/list", h.ListUsers)
}
