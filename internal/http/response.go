package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lifeops/internal/core"
	"lifeops/internal/log"
)

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case core.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the API error body. Internal errors are logged
// and their detail is withheld from the client.
func (s *Server) writeError(c *gin.Context, err error) {
	kind := core.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if kind == core.KindInternal {
		ctx := c.Request.Context()
		log.NewStructuredLogger(log.FromContext(ctx)).LogError(ctx, "Request failed", err,
			log.ComponentHTTP, c.Request.Method+" "+c.FullPath(),
			log.LogFields{log.FieldPath: c.Request.URL.Path, log.FieldFamily: familyOf(c)})
		msg = "internal error"
	}
	c.JSON(status, errorBody{Error: errorDetail{Kind: string(kind), Message: msg}})
}

// respond writes v with status, or the error when err is set.
func (s *Server) respond(c *gin.Context, status int, v any, err error) {
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(status, v)
}

// respondNoContent answers 204 or the error.
func (s *Server) respondNoContent(c *gin.Context, err error) {
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
