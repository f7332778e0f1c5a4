package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// RespondError maps the closed error taxonomy to HTTP responses. The switch
// over shared.ErrorKind is exhaustive: an untagged error or an unknown kind
// falls through to a plain 500 with no detail, so nothing internal leaks by
// default.
func RespondError(w http.ResponseWriter, err error) {
	var tagged *shared.Error
	if !errors.As(err, &tagged) {
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	switch tagged.Kind {
	case shared.KindAuthentication:
		ProblemCode(w, http.StatusUnauthorized, tagged.Code, "Unauthorized", tagged.Message)
	case shared.KindAuthorization:
		ProblemCode(w, http.StatusForbidden, tagged.Code, "Forbidden", tagged.Message)
	case shared.KindValidation:
		ProblemCode(w, http.StatusBadRequest, tagged.Code, "Validation Failed", tagged.Message)
	case shared.KindConflict:
		ProblemCode(w, http.StatusConflict, tagged.Code, "Conflict", tagged.Message)
	case shared.KindNotFound:
		ProblemCode(w, http.StatusNotFound, tagged.Code, "Not Found", tagged.Message)
	case shared.KindTransientStorage:
		ProblemCode(w, http.StatusServiceUnavailable, tagged.Code, "Storage Unavailable", tagged.Message)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
