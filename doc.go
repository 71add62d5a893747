/*
Package sessionware provides HTTP middleware that attaches a persisted session
to every request.

Each request gets a Session: the one named by the session cookie when it
exists and has not expired, or a fresh unsaved one otherwise. Handlers read
and write the session payload through a tracked Document; any write, at any
depth, marks the payload dirty. When the handler returns, a dirty session is
saved (inserted when new, updated otherwise) and only then is the cookie
issued. A clean session costs no write at all.

Key Features:

  - Modular Storage: SQLite (CGO-free), PostgreSQL, Memcached and Redis stores
    behind one Store interface.
  - Change Tracking: nested objects and arrays are returned as tracked views,
    and the data and expiry fields are dirty-tracked separately.
  - Cookie Issuance: the cookie is written only for new sessions or when the
    expiry moved; it carries an Expires attribute only in the latter case.
  - Garbage Collection: expired sessions stay in storage until a sweep
    removes them. In auto mode each request triggers a sweep with a fixed
    probability; in manual mode the caller sweeps with Middleware.GC or
    Middleware.CollectEvery.
  - Lifecycle: Session.Destroy removes the record and expires the cookie;
    Session.Regenerate moves the session to a fresh ID after login.

Usage:

	store, err := sessionware.NewSQLiteStore("sessions.db")
	if err != nil {
		log.Fatal(err)
	}

	mw, err := sessionware.New(store, sessionware.Options{
		SessKey:       "app_session",
		DefaultExpiry: 24 * time.Hour,
		Sync:          sessionware.SyncOptions{Enable: true},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer mw.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		data := sessionware.FromContext(r.Context()).Data()
		n, _ := data.Int("counter")
		data.Set("counter", n+1)
		fmt.Fprintf(w, "visit %d", n+1)
	})
	http.ListenAndServe(":8080", mw.Handler(mux))

The response of the wrapped handler is buffered until the session is saved,
so a storage failure can still be turned into an error response. Streaming
handlers should not run behind the middleware.

Thread Safety:

The Middleware and Store implementations are safe for concurrent use by multiple goroutines.
Individual Session objects are not thread-safe and should be handled within the scope of a single request.
Two requests updating the same session concurrently race; the last save wins.
*/
package sessionware
