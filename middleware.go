package sessionware

import (
	"bytes"
	"context"
	"net/http"
)

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "sessionware context value " + k.name
}

// SessionCtxKey is the request context key the session is bound under.
var SessionCtxKey = &contextKey{"Session"}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, SessionCtxKey, s)
}

// FromContext returns the session bound to ctx, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(SessionCtxKey).(*Session)
	return s
}

// Handler wraps next so that every request carries a Session.
//
// The session is resolved from the request cookie before next runs. The
// response of next is buffered; once next returns, a dirty session is
// persisted, its cookie issued, the GC policy consulted, and only then is
// the buffered response sent. A storage failure at any of these steps
// discards the buffered response and hands the error to the ErrorHandler.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		s, err := m.Resolve(ctx, m.sessionID(r))
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}
		r = r.WithContext(NewContext(ctx, s))

		bw := newBufferedWriter(w)
		defer bw.release()

		next.ServeHTTP(bw, r)

		if err := m.finalize(r.Context(), w, r, s); err != nil {
			// Nothing the handler queued, session cookie included, goes
			// out with the error response.
			clear(w.Header())
			m.errorHandler(w, r, err)
			return
		}
		bw.flush()
	})
}

// finalize commits the session and runs the GC draw. The draw happens on
// every request, whether or not the session changed.
func (m *Middleware) finalize(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session) error {
	if err := m.Commit(ctx, w, r, s); err != nil {
		return err
	}
	_, _, err := m.MaybeCollect(ctx)
	return err
}

// bufferedWriter holds the response of the wrapped handler until the
// session has been finalized. Headers go straight to the underlying
// writer's header map; they are not sent before flush.
type bufferedWriter struct {
	http.ResponseWriter
	buf  *bytes.Buffer
	code int
}

func newBufferedWriter(w http.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{ResponseWriter: w, buf: getBuffer()}
}

func (bw *bufferedWriter) WriteHeader(code int) {
	if bw.code == 0 {
		bw.code = code
	}
}

func (bw *bufferedWriter) Write(b []byte) (int, error) {
	if bw.code == 0 {
		bw.code = http.StatusOK
	}
	return bw.buf.Write(b)
}

func (bw *bufferedWriter) Unwrap() http.ResponseWriter {
	return bw.ResponseWriter
}

func (bw *bufferedWriter) flush() {
	if bw.code == 0 {
		return
	}
	bw.ResponseWriter.WriteHeader(bw.code)
	if bw.buf.Len() > 0 {
		_, _ = bw.ResponseWriter.Write(bw.buf.Bytes())
	}
}

func (bw *bufferedWriter) release() {
	PutBuffer(bw.buf)
}
