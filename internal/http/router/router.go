package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/homedesign/portal-gateway/internal/domain"
	"github.com/homedesign/portal-gateway/internal/guard"
	"github.com/homedesign/portal-gateway/internal/http/handler"
	"github.com/homedesign/portal-gateway/internal/http/middleware"
	"github.com/homedesign/portal-gateway/internal/http/response"
	"github.com/homedesign/portal-gateway/internal/security"
)

type Dependencies struct {
	AuthHandler       *handler.AuthHandler
	BackendProxy      http.Handler
	Guard             *guard.Guard
	Cookies           *security.CookieManager
	LoginPath         string
	HomePath          string
	LoginRateLimitRPM int
	EnableOTelHTTP    bool
}

// view declares one entry of the navigation table: the path, the handler
// name, and the roles allowed to see it. An empty role list admits any
// authenticated user.
type view struct {
	pattern string
	name    string
	roles   []domain.Role
}

var viewTable = []view{
	{"/", "home", nil},
	{"/cases", "cases", nil},
	{"/cases/{id}", "case_detail", nil},
	{"/designers", "designers", nil},
	{"/designers/{id}", "designer_detail", nil},
	{"/articles", "articles", nil},
	{"/articles/{id}", "article_detail", nil},
	{"/appointment", "appointment", nil},
	{"/my-appointments", "my_appointments", nil},
	{"/comments", "my_comments", nil},
	{"/favorites", "my_favorites", nil},
	{"/profile", "user_profile", nil},
	{"/search", "search", nil},
	{"/notifications", "notifications", nil},

	{"/designer-dashboard", "designer_dashboard", []domain.Role{domain.RoleDesigner}},
	{"/designer/cases", "designer_cases", []domain.Role{domain.RoleDesigner}},
	{"/designer/cases/{id}", "designer_case_detail", []domain.Role{domain.RoleDesigner}},
	{"/designer/appointments", "designer_appointments", []domain.Role{domain.RoleDesigner}},
	{"/designer/articles", "designer_articles", []domain.Role{domain.RoleDesigner}},
	{"/designer/comments", "designer_comments", []domain.Role{domain.RoleDesigner}},
	{"/designer/profile", "designer_profile", []domain.Role{domain.RoleDesigner}},

	{"/admin", "admin_dashboard", []domain.Role{domain.RoleAdmin}},
	{"/admin/users", "admin_users", []domain.Role{domain.RoleAdmin}},
	{"/admin/cases", "admin_cases", []domain.Role{domain.RoleAdmin}},
	{"/admin/review", "admin_review", []domain.Role{domain.RoleAdmin}},
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SessionID(dep.Cookies))

	loginLimiter := middleware.NewRateLimiter(dep.LoginRateLimitRPM, time.Minute).Middleware()

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	// The login and register views render for everyone; the guard's
	// login-path rule keeps login from redirecting to itself.
	r.With(middleware.RequireView(dep.Guard, dep.LoginPath, dep.HomePath)).Get(dep.LoginPath, handler.View("login"))
	r.Get("/register", handler.View("register"))

	// Auth surface, same paths the original client called on the backend.
	r.Route("/api/auth", func(r chi.Router) {
		r.With(loginLimiter).Post("/login", dep.AuthHandler.Login)
		r.With(loginLimiter).Post("/register", dep.AuthHandler.Register)
		r.Post("/logout", dep.AuthHandler.Logout)
		r.Get("/me", dep.AuthHandler.Me)
		r.Put("/password", dep.AuthHandler.ChangePassword)
	})

	// Everything else under /api flows through to the backend untouched,
	// with the session credential attached.
	r.With(middleware.RequireSession(dep.Guard)).Handle("/api/*", dep.BackendProxy)

	for _, v := range viewTable {
		r.With(middleware.RequireView(dep.Guard, dep.LoginPath, dep.HomePath, v.roles...)).Get(v.pattern, handler.View(v.name))
	}

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
