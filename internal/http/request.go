package http

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"lifeops/internal/core"
)

const (
	headerFamily = "X-Family"
	ctxFamily    = "family"
)

var familyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// resolveFamily reads the tenant from X-Family, falling back to the
// configured default.
func (s *Server) resolveFamily(c *gin.Context) {
	family := strings.TrimSpace(c.GetHeader(headerFamily))
	if family == "" {
		family = s.defaultFamily
	}
	if !familyPattern.MatchString(family) {
		s.writeError(c, core.Validation("http.family", "invalid family %q", family))
		c.Abort()
		return
	}
	c.Set(ctxFamily, family)
	c.Next()
}

func familyOf(c *gin.Context) string {
	return c.GetString(ctxFamily)
}

// invalidateOnWrite drops the family's cached projections after any
// successful write.
func (s *Server) invalidateOnWrite(c *gin.Context) {
	c.Next()
	if c.Request.Method == http.MethodGet || c.Writer.Status() >= http.StatusBadRequest {
		return
	}
	s.invalidateFamily(familyOf(c))
}

func (s *Server) invalidateFamily(family string) {
	prefix := family + "|"
	s.generations.Invalidate(family, func() {
		s.balances.DeletePrefix(prefix)
		s.summaries.DeletePrefix(prefix)
	})
}

// bindJSON decodes the request body into v. A malformed body is a
// validation error.
func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return core.Validation("http.bind", "invalid request body: %v", err)
	}
	return nil
}

// bindOptionalJSON is bindJSON for endpoints whose body may be empty.
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return core.Validation("http.bind", "invalid request body: %v", err)
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.Validation("http.query", "%s must be a number", name)
	}
	return n, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(c *gin.Context, name string) (bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, core.Validation("http.query", "%s must be true or false", name)
	}
	return b, nil
}
