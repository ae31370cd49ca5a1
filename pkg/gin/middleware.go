// Package gin binds a toll gate to the Gin framework.
package gin

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lightning-toll/toll"
)

// paymentKey is the gin context key the verdict is stored under.
const paymentKey = "toll.payment"

// PaymentMiddleware gates a route behind the L402 toll. Unauthenticated
// requests past the free tier receive a 402 challenge; rejected
// credentials a 401; wallet failures a 500. On success the *toll.Payment
// is stored in the context (see PaymentFromContext) and the handler runs.
func PaymentMiddleware(gate *toll.Gate, opts ...toll.RouteOption) gin.HandlerFunc {
	route := gate.Route(opts...)

	return func(c *gin.Context) {
		req := toll.Request{
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			Authorization: c.GetHeader("Authorization"),
			ForwardedFor:  c.GetHeader("X-Forwarded-For"),
			RemoteAddr:    remoteHost(c.Request.RemoteAddr),
		}

		payment, challenge, err := route.Handle(c.Request.Context(), req)
		if err != nil {
			switch toll.ErrorCode(err) {
			case toll.ErrCodeCredential, toll.ErrCodePreimageMismatch:
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": err.Error(),
				})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "toll booth error: " + err.Error(),
				})
			}
			return
		}

		if challenge != nil {
			c.Header("WWW-Authenticate", challenge.Header)
			c.AbortWithStatusJSON(http.StatusPaymentRequired, challenge.Body)
			return
		}

		c.Set(paymentKey, payment)
		c.Next()
	}
}

// PaymentFromContext returns the toll verdict stored by PaymentMiddleware.
func PaymentFromContext(c *gin.Context) (*toll.Payment, bool) {
	v, ok := c.Get(paymentKey)
	if !ok {
		return nil, false
	}
	payment, ok := v.(*toll.Payment)
	return payment, ok
}

// DashboardHandler serves the gate's stats snapshot.
func DashboardHandler(gate *toll.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gate.Stats().Snapshot())
	}
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
