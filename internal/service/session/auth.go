// Package session owns the bearer credential and the login, register
// and logout flows that gate syncing and tracking.
package session

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"blinkd/internal/api"
	"blinkd/internal/domain"
	"blinkd/internal/events"
	"blinkd/internal/store"
)

var (
	ErrInvalidEmail      = errors.New("please enter a valid email address")
	ErrPasswordTooShort  = errors.New("password must be at least 6 characters long")
	ErrPasswordMismatch  = errors.New("passwords do not match")
	ErrInvalidCredential = errors.New("invalid credentials")
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// Syncer triggers a sync pass after login so buffered records drain as
// soon as a token exists.
type Syncer interface {
	ScheduleSync()
}

// TrackerStopper is the slice of the tracker controller logout needs:
// an active session must be stopped before the credential is cleared.
type TrackerStopper interface {
	State() domain.TrackerState
	Stop(ctx context.Context)
}

type Auth struct {
	client    *api.Client
	st        store.Store
	syncer    Syncer
	log       *events.Log
	stopGrace time.Duration
}

func NewAuth(client *api.Client, st store.Store, syncer Syncer, evlog *events.Log, stopGrace time.Duration) *Auth {
	return &Auth{
		client:    client,
		st:        st,
		syncer:    syncer,
		log:       evlog,
		stopGrace: stopGrace,
	}
}

// Login exchanges credentials for a bearer token, persists it and kicks
// off a sync of anything buffered while logged out. Failures collapse
// to a generic invalid-credentials error.
func (a *Auth) Login(ctx context.Context, email, password string) error {
	token, err := a.client.Login(ctx, email, password)
	if err != nil {
		log.Printf("login failed: %v", err)
		a.log.SetStatus("Invalid credentials", true)
		return ErrInvalidCredential
	}
	if err := a.st.SaveToken(token); err != nil {
		return err
	}
	a.log.Append(domain.EventLoggedIn, map[string]interface{}{"email": email})
	a.log.SetStatus("Logged in successfully - Ready to start tracking", false)
	a.syncer.ScheduleSync()
	return nil
}

// Register validates the form client-side, creates the account and then
// logs in with the same credentials.
func (a *Auth) Register(ctx context.Context, email, password, confirm string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return ErrInvalidEmail
	}
	if len(password) < 6 {
		return ErrPasswordTooShort
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	if err := a.client.Register(ctx, email, password); err != nil {
		var statusErr *api.StatusError
		if errors.As(err, &statusErr) && statusErr.Detail != "" {
			return errors.New(statusErr.Detail)
		}
		return err
	}
	a.log.Append(domain.EventRegistered, map[string]interface{}{"email": email})
	return a.Login(ctx, email, password)
}

// Logout stops any active tracker session first, allowing a short grace
// for the stop command to land, then clears the persisted token.
func (a *Auth) Logout(ctx context.Context, tracker TrackerStopper) error {
	if tracker != nil && tracker.State() != domain.TrackerIdle {
		tracker.Stop(ctx)
		time.Sleep(a.stopGrace)
	}
	if err := a.st.DeleteToken(); err != nil {
		return err
	}
	a.log.Append(domain.EventLoggedOut, nil)
	a.log.SetStatus("Logged out successfully - camera stopped", false)
	return nil
}

// Token returns the persisted bearer token, or "" when logged out.
func (a *Auth) Token() string {
	token, err := a.st.LoadToken()
	if err != nil {
		return ""
	}
	return token
}

// Identity extracts the subject claim from the stored token without
// verifying the signature; it is display-only, the backend remains the
// authority on token validity.
func (a *Auth) Identity() string {
	token := a.Token()
	if token == "" {
		return ""
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}
