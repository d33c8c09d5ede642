package handler

import (
	"net/http"

	"github.com/homedesign/portal-gateway/internal/http/response"
)

// View answers for a browser navigation the guard has already allowed. The
// gateway does not render markup; it confirms the view and lets the client
// bundle fetch its data through the /api passthrough.
func View(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{
			"view": name,
			"path": r.URL.Path,
		})
	}
}
