package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/feedpipe/internal/core"
)

// pathParams returns the named chi URL parameters, failing with
// core.ErrInvalidRequest when one is blank.
func pathParams(r *http.Request, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		v := strings.TrimSpace(chi.URLParam(r, name))
		if v == "" {
			return nil, fmt.Errorf("%w: missing %s", core.ErrInvalidRequest, name)
		}
		out[i] = v
	}
	return out, nil
}
