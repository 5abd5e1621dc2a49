package security

import (
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"lifeops/internal/log"
)

// TrustedProxies are the networks whose forwarding headers are believed when
// resolving the client IP.
var TrustedProxies = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

var (
	suspiciousPatterns = []string{
		"../", "..\\", ".env", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", ".git", ".ssh",
		"<script", "union select", "etc/passwd", "cmd.exe",
	}
	unusualMethods = []string{"TRACE", "TRACK", "DEBUG", "CONNECT"}
)

const maxURLLength = 2048

// Detector rejects requests that look like probes.
type Detector struct {
	logger     *log.Logger
	suspicious atomic.Int64
}

// NewDetector creates a new security detector
func NewDetector(logger *log.Logger) *Detector {
	return &Detector{logger: logger}
}

// IsSuspicious analyzes request patterns for potential threats
func (d *Detector) IsSuspicious(r *http.Request) bool {
	for _, m := range unusualMethods {
		if r.Method == m {
			return true
		}
	}

	if len(r.URL.String()) > maxURLLength {
		return true
	}

	path := strings.ToLower(r.URL.Path)
	query, err := url.QueryUnescape(r.URL.RawQuery)
	if err != nil {
		query = r.URL.RawQuery
	}
	query = strings.ToLower(query)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(path, pattern) || strings.Contains(query, pattern) {
			return true
		}
	}

	// More than 5 proxy hops is suspicious
	if xff := r.Header.Get("X-Forwarded-For"); strings.Count(xff, ",") > 5 {
		return true
	}
	return false
}

// Handler returns gin middleware answering 400 to suspicious requests.
func (d *Detector) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !d.IsSuspicious(c.Request) {
			c.Next()
			return
		}
		d.suspicious.Add(1)
		d.logger.WarnContext(c.Request.Context(), "Suspicious request rejected",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"kind": "validation", "message": "request rejected"},
		})
	}
}

// Rejected returns the number of requests rejected so far
func (d *Detector) Rejected() int64 {
	return d.suspicious.Load()
}
