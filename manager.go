package sessionware

import (
	"context"
	"errors"
	mrand "math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrSessionTooLarge is returned when the encoded session data exceeds the configured MaxSessionBytes.
	ErrSessionTooLarge = errors.New("session data too large")

	// ErrInvalidCookieName is returned when SessKey cannot be used as a cookie name.
	ErrInvalidCookieName = errors.New("invalid session cookie name")

	// ErrInvalidGCPolicy is returned for an unknown GC mode or non-positive probabilities.
	ErrInvalidGCPolicy = errors.New("invalid gc policy")
)

const (
	DefaultSessKey       = "session_id"
	DefaultDefaultExpiry = 24 * time.Hour
)

// SyncOptions controls schema creation when the middleware is built.
type SyncOptions struct {
	Enable bool
	// Force drops and recreates the schema.
	Force bool
}

// Options configures a Middleware. Zero values fall back to defaults.
type Options struct {
	// SessKey is the name of the cookie carrying the session ID.
	SessKey       string
	DefaultExpiry time.Duration
	// GC defaults to DefaultGCPolicy when left zero.
	GC   GCPolicy
	Sync SyncOptions

	CookieDomain string
	HttpOnly     *bool
	Secure       *bool
	SameSite     http.SameSite

	MaxSessionBytes int // Maximum size in bytes of the encoded session data. 0 means unlimited.

	// Logger receives GC reports, sync notices and request errors.
	Logger *zerolog.Logger
	// OnGC receives the number of sessions removed by each automatic sweep.
	// It replaces the log line.
	OnGC func(deleted int64)
	// Silent drops the GC log line when OnGC is nil.
	Silent bool

	// ErrorHandler answers requests that failed on a storage error.
	// The default logs the error and replies 500.
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

	// Now and Rand replace the clock and the GC draw, mostly for tests.
	Now  func() time.Time
	Rand func() float64
}

// Middleware attaches a Session to every request and persists it when the
// request is done.
type Middleware struct {
	store         Store
	sessKey       string
	defaultExpiry time.Duration
	gc            GCPolicy

	cookieDomain string
	httpOnly     bool
	secure       *bool
	sameSite     http.SameSite

	maxSessionBytes int

	logger       zerolog.Logger
	onGC         func(int64)
	silent       bool
	errorHandler func(http.ResponseWriter, *http.Request, error)

	now  func() time.Time
	rand func() float64
}

// New builds a Middleware over store. When opts.Sync.Enable is set the
// schema is created first, and any failure is returned here.
func New(store Store, opts Options) (*Middleware, error) {
	if opts.SessKey == "" {
		opts.SessKey = DefaultSessKey
	}
	if opts.DefaultExpiry == 0 {
		opts.DefaultExpiry = DefaultDefaultExpiry
	}
	if opts.GC == (GCPolicy{}) {
		opts.GC = DefaultGCPolicy()
	}
	if opts.GC.Mode == "" {
		opts.GC.Mode = GCAuto
	}
	if err := opts.GC.validate(); err != nil {
		return nil, err
	}
	if (&http.Cookie{Name: opts.SessKey, Value: "x"}).Valid() != nil {
		return nil, ErrInvalidCookieName
	}
	if opts.MaxSessionBytes < 0 {
		opts.MaxSessionBytes = 0
	}

	m := &Middleware{
		store:           store,
		sessKey:         opts.SessKey,
		defaultExpiry:   opts.DefaultExpiry,
		gc:              opts.GC,
		cookieDomain:    opts.CookieDomain,
		httpOnly:        true, // Default
		secure:          opts.Secure,
		sameSite:        http.SameSiteLaxMode, // Default
		maxSessionBytes: opts.MaxSessionBytes,
		onGC:            opts.OnGC,
		silent:          opts.Silent,
		errorHandler:    opts.ErrorHandler,
		now:             opts.Now,
		rand:            opts.Rand,
	}

	if opts.HttpOnly != nil {
		m.httpOnly = *opts.HttpOnly
	}
	if opts.SameSite != 0 {
		m.sameSite = opts.SameSite
	}
	// Browsers reject SameSite=None cookies without the Secure attribute.
	if m.sameSite == http.SameSiteNoneMode {
		secure := true
		m.secure = &secure
	}

	if opts.Logger != nil {
		m.logger = *opts.Logger
	} else {
		m.logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.rand == nil {
		m.rand = mrand.Float64
	}
	if m.errorHandler == nil {
		m.errorHandler = m.defaultErrorHandler
	}

	if opts.Sync.Enable {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.Sync(ctx, opts.Sync.Force); err != nil {
			return nil, err
		}
		m.logger.Info().Bool("force", opts.Sync.Force).Msg("session schema synced")
	}

	return m, nil
}

// Close closes the underlying store.
func (m *Middleware) Close() error {
	return m.store.Close()
}

// NewSession returns a fresh, unsaved session with the default expiry.
func (m *Middleware) NewSession() (*Session, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return newSession(id.String(), m.clock(), m.defaultExpiry, m.store), nil
}

// Resolve returns the live session named by id, or a fresh one when id is
// empty, malformed, unknown or expired. Expired records are left in the
// store for GC. Storage errors are returned as is.
func (m *Middleware) Resolve(ctx context.Context, id string) (*Session, error) {
	if !isValidID(id) {
		return m.NewSession()
	}

	rec, err := m.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.ExpiryTo.After(m.clock()) {
		return m.NewSession()
	}

	values, err := decodeData(rec.Data, m.maxSessionBytes)
	if err != nil {
		return nil, err
	}

	return &Session{
		id:       rec.ID,
		createAt: rec.CreateAt.UTC(),
		expiryTo: rec.ExpiryTo.UTC(),
		data:     values,
		changed:  make(map[Field]bool),
		store:    m.store,
	}, nil
}

// Commit persists a dirty session and then issues its cookie on w. A clean
// session is left untouched. Nothing is written to w when persisting fails.
func (m *Middleware) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session) error {
	if s.destroyed {
		return m.destroy(ctx, w, r, s)
	}
	if !s.Changed() {
		return nil
	}

	issue := s.isNew || s.FieldChanged(FieldExpiryTo)
	withExpiry := s.FieldChanged(FieldExpiryTo)

	data, err := encodeData(s.data, m.maxSessionBytes)
	if err != nil {
		return err
	}
	rec := &Record{
		ID:       s.id,
		Data:     data,
		CreateAt: s.createAt,
		ExpiryTo: s.expiryTo,
	}
	if s.isNew {
		err = m.store.Insert(ctx, rec)
	} else {
		err = m.store.Update(ctx, rec)
	}
	if err != nil {
		return err
	}
	if s.prevID != "" {
		if err := m.store.Delete(ctx, s.prevID); err != nil {
			return err
		}
	}
	s.markClean()

	if issue {
		c := m.cookie(r, s.id)
		if withExpiry {
			c.Expires = s.expiryTo
		}
		setCookie(w, c)
	}
	return nil
}

func (m *Middleware) destroy(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session) error {
	stored := s.prevID
	if !s.isNew {
		stored = s.id
	}
	if stored != "" {
		if err := m.store.Delete(ctx, stored); err != nil {
			return err
		}
	}
	c := m.cookie(r, "")
	c.MaxAge = -1
	setCookie(w, c)

	s.destroyed = false
	s.isNew = true
	s.prevID = ""
	s.data = make(map[string]any)
	clear(s.changed)
	return nil
}

func (m *Middleware) cookie(r *http.Request, value string) *http.Cookie {
	secure := r.TLS != nil
	if m.secure != nil {
		secure = *m.secure
	}
	return &http.Cookie{
		Name:     m.sessKey,
		Value:    value,
		Path:     "/",
		Domain:   m.cookieDomain,
		HttpOnly: m.httpOnly,
		Secure:   secure,
		SameSite: m.sameSite,
	}
}

func (m *Middleware) clock() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

func (m *Middleware) defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	m.logger.Error().Err(err).Str("path", r.URL.Path).Msg("session middleware failed")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// isValidID reports whether id is a canonical UUID string.
func isValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
