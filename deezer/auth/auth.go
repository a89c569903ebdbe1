package auth

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/mschienbein/deez-sub002/deezer/fs"
	"github.com/mschienbein/deez-sub002/deezer/types"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidCredential = errors.New("invalid session credential")
)

// Session is the authenticated state extracted by a capability probe.
// Snapshots handed out by Auth are immutable; a re-probe swaps the
// whole pointer.
type Session struct {
	AntiForgeryToken string
	AccountID        string
	LicenseToken     string
	Premium          bool
	Entitlements     types.Entitlements
}

func (s *Session) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("account_id", s.AccountID).
		Bool("premium", s.Premium).
		Bool("lossless", s.Entitlements.Lossless).
		Bool("high", s.Entitlements.High)
}

// Auth owns the session lifecycle. Only Probe and Invalidate mutate
// state; everything else reads lock-free snapshots.
type Auth struct {
	credential  string
	gatewayURL  string
	timeout     int
	sessionFile fs.SessionFile
	persist     bool
	session     atomic.Pointer[Session]
}

type Options struct {
	Credential  string
	GatewayURL  string
	Timeout     int
	SessionFile string
}

func New(logger zerolog.Logger, opts Options) (*Auth, error) {
	a := &Auth{
		credential:  opts.Credential,
		gatewayURL:  opts.GatewayURL,
		timeout:     opts.Timeout,
		sessionFile: fs.SessionFileFrom(opts.SessionFile),
		persist:     opts.SessionFile != "",
		session:     atomic.Pointer[Session]{},
	}

	if !a.persist {
		return a, nil
	}

	content, err := a.sessionFile.Read()
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return a, nil
		}

		// A corrupt or unreadable session cache is the same as no cache.
		logger.Warn().Err(err).Msg("Failed to read cached session. Starting unauthenticated.")
		return a, nil
	}

	a.session.Store(&Session{
		AntiForgeryToken: content.AntiForgeryToken,
		AccountID:        content.AccountID,
		LicenseToken:     content.LicenseToken,
		Premium:          content.Premium,
		Entitlements: types.Entitlements{
			Lossless: content.Lossless,
			High:     content.High,
		},
	})

	return a, nil
}

// Session returns the current snapshot, or nil when unauthenticated.
func (a *Auth) Session() *Session {
	return a.session.Load()
}

// Invalidate drops the session so the next operation re-probes. Called
// when an authenticated call comes back unauthorized.
func (a *Auth) Invalidate() {
	a.session.Store(nil)
}

func (a *Auth) store(logger zerolog.Logger, s *Session) {
	a.session.Store(s)

	if !a.persist {
		return
	}

	content := fs.SessionFileContent{
		AntiForgeryToken: s.AntiForgeryToken,
		AccountID:        s.AccountID,
		LicenseToken:     s.LicenseToken,
		Premium:          s.Premium,
		Lossless:         s.Entitlements.Lossless,
		High:             s.Entitlements.High,
	}
	if err := a.sessionFile.Write(content); nil != err {
		// Persistence is fire-and-forget. A failed write never fails the probe.
		logger.Warn().Err(fmt.Errorf("failed to write session cache: %v", err)).
			Msg("Failed to persist session")
	}
}
