package sessionware

import (
	"net/http"
)

// setCookie adds c to the response, replacing any Set-Cookie of the same
// name that was queued earlier in the request.
func setCookie(w http.ResponseWriter, c *http.Cookie) {
	h := w.Header()
	if prev := h.Values("Set-Cookie"); len(prev) > 0 {
		kept := prev[:0:0]
		for _, line := range prev {
			if parsed, err := http.ParseSetCookie(line); err == nil && parsed.Name == c.Name {
				continue
			}
			kept = append(kept, line)
		}
		h.Del("Set-Cookie")
		for _, line := range kept {
			h.Add("Set-Cookie", line)
		}
	}
	http.SetCookie(w, c)
}

// sessionID returns the session ID carried by the request, if any.
func (m *Middleware) sessionID(r *http.Request) string {
	c, err := r.Cookie(m.sessKey)
	if err != nil {
		return ""
	}
	return c.Value
}
