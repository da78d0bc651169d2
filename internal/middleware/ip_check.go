package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// parseAllowList accepts single addresses and CIDR blocks. Entries that
// are neither are logged and skipped.
func parseAllowList(allowed []string, logger *slog.Logger) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(allowed))
	for _, item := range allowed {
		item = strings.TrimSpace(item)
		if strings.Contains(item, "/") {
			if _, n, err := net.ParseCIDR(item); err == nil {
				nets = append(nets, n)
				continue
			}
		} else if ip := net.ParseIP(item); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		if logger != nil {
			logger.Warn("ignoring invalid admin allow-list entry", "entry", item)
		}
	}
	return nets
}

func AdminIPWhitelist(allowed []string, logger *slog.Logger) gin.HandlerFunc {
	if len(allowed) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	nets := parseAllowList(allowed, logger)
	return func(c *gin.Context) {
		clientIP := net.ParseIP(c.ClientIP())
		if clientIP != nil {
			for _, n := range nets {
				if n.Contains(clientIP) {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "ip not allowed"})
	}
}
