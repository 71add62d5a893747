package sessionware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Gin adapts Handler to gin. The rest of the gin chain runs inside the
// session middleware, so handlers see the session through FromGin and
// their output is held back until the session has been saved.
func (m *Middleware) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		orig := c.Writer

		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gw := &ginWriter{ResponseWriter: orig, w: w}
			c.Request = r
			c.Writer = gw
			c.Next()
			// A bare c.Status with no body still has to reach the client.
			if gw.status != 0 {
				gw.WriteHeaderNow()
			}
			c.Writer = orig
		})

		m.Handler(next).ServeHTTP(orig, c.Request)

		// The chain has already run inside next.
		c.Abort()
	}
}

// FromGin returns the session bound to the gin request, or nil.
func FromGin(c *gin.Context) *Session {
	return FromContext(c.Request.Context())
}

// ginWriter routes gin's writes into the session middleware's buffer.
type ginWriter struct {
	gin.ResponseWriter
	w           http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (gw *ginWriter) WriteHeader(code int) {
	if code > 0 && !gw.wroteHeader {
		gw.status = code
	}
}

func (gw *ginWriter) WriteHeaderNow() {
	if gw.wroteHeader {
		return
	}
	gw.wroteHeader = true
	gw.w.WriteHeader(gw.Status())
}

func (gw *ginWriter) Write(b []byte) (int, error) {
	gw.WriteHeaderNow()
	n, err := gw.w.Write(b)
	gw.size += n
	return n, err
}

func (gw *ginWriter) WriteString(s string) (int, error) {
	return gw.Write([]byte(s))
}

func (gw *ginWriter) Status() int {
	if gw.status == 0 {
		return http.StatusOK
	}
	return gw.status
}

func (gw *ginWriter) Size() int {
	if !gw.wroteHeader {
		return -1
	}
	return gw.size
}

func (gw *ginWriter) Written() bool {
	return gw.wroteHeader
}
