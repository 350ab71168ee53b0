// Package oauthhttp serves the browser side of connecting an integration:
// sending the user to the provider's consent page, storing the token the
// callback yields, and disconnecting.
//
// Routes, per integration name:
//
//	GET  /api/atom/auth/{integration}/initiate
//	GET  /api/atom/auth/{integration}/callback
//	POST /api/atom/auth/{integration}/disconnect
//	GET  /api/atom/auth/{integration}/status
//
// Callback outcomes are reported by redirecting to the settings page with
// <integration>_auth_success=true or <integration>_auth_error=<code>.
package oauthhttp

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rush86999/atomagent/broker"
	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/eventbus"
	"github.com/rush86999/atomagent/logging"
	"github.com/rush86999/atomagent/tokenstore"
)

// Callback error codes.
const (
	CodeInvalidState     = "invalid_state"
	CodeNoCode           = "no_code_received"
	CodeExchangeFailed   = "token_exchange_failed"
	CodeSaveFailed       = "token_save_failed"
	CodeProcessingFailed = "callback_processing_failed"

	// CodeSessionExpired is sent to the login page, not the settings page.
	CodeSessionExpired = "session_expired_oauth_callback"
)

const (
	defaultSettingsPath = "/Settings/UserViewSettings"
	defaultLoginPath    = "/User/Login/UserLogin"

	// Used when the token response has no expires_in.
	defaultTokenLifetime = time.Hour

	atomAgentQueryParam    = "atom_agent"
	integrationPathElement = "integration"
)

// Integrations looks up an integration by name. *broker.Broker implements it.
type Integrations interface {
	Integration(name string) (*broker.Integration, error)
}

// Options configure the handlers.
type Options struct {
	// SettingsPath receives callback outcomes.
	SettingsPath string

	// LoginPath receives users whose session expired during the flow.
	LoginPath string

	// StateSecret signs the OAuth state parameter.
	StateSecret []byte

	// IdentitySecret verifies identity tokens.
	IdentitySecret []byte

	StateTTL time.Duration
	EventBus eventbus.EventBus
	Now      func() time.Time
}

// Handlers serves the OAuth routes.
type Handlers struct {
	integrations Integrations
	opts         Options
}

// New returns the handlers.
func New(integrations Integrations, opts Options) *Handlers {
	if opts.SettingsPath == "" {
		opts.SettingsPath = defaultSettingsPath
	}
	if opts.LoginPath == "" {
		opts.LoginPath = defaultLoginPath
	}
	if opts.StateTTL == 0 {
		opts.StateTTL = DefaultStateTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handlers{integrations: integrations, opts: opts}
}

// Register adds the routes to mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/atom/auth/{integration}/initiate", h.initiate)
	mux.HandleFunc("GET /api/atom/auth/{integration}/callback", h.callback)
	mux.Handle("POST /api/atom/auth/{integration}/disconnect", wrapJSONHandler(h.disconnect))
	mux.Handle("GET /api/atom/auth/{integration}/status", wrapJSONHandler(h.status))
}

func (h *Handlers) user(r *http.Request) (string, error) {
	return userFromRequest(r, h.opts.IdentitySecret, h.opts.Now)
}

func (h *Handlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue(integrationPathElement)
	logging.Track(ctx, "integration", name)

	in, err := h.integrations.Integration(name)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	userID, err := h.user(r)
	if err != nil {
		logging.Infow(ctx, "oauthhttp: initiate without identity", "error", err)
		http.Redirect(w, r, h.opts.LoginPath, http.StatusFound)
		return
	}
	logging.Track(ctx, "user_id", userID)
	if err := in.Provider.Validate(); err != nil {
		writeError(ctx, w, err)
		return
	}
	state, err := newState(h.opts.StateSecret, userID, name, h.opts.Now(), h.opts.StateTTL)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	logging.Infow(ctx, "oauthhttp: redirecting to consent page")
	http.Redirect(w, r, in.Provider.AuthCodeURL(state), http.StatusFound)
}

func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue(integrationPathElement)
	logging.Track(ctx, "integration", name)

	defer func() {
		if rec := recover(); rec != nil {
			err := errors.FromPanic(rec, 2)
			logging.Errorw(ctx, "oauthhttp: callback panicked", "error", err)
			h.redirectError(w, r, name, CodeProcessingFailed)
		}
	}()

	in, err := h.integrations.Integration(name)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	userID, err := h.user(r)
	if err != nil {
		logging.Warnw(ctx, "oauthhttp: callback without identity", "error", err)
		http.Redirect(w, r, h.opts.LoginPath+"?"+url.Values{"error": {CodeSessionExpired}}.Encode(), http.StatusFound)
		return
	}
	logging.Track(ctx, "user_id", userID)

	q := r.URL.Query()
	if perr := q.Get("error"); perr != "" {
		logging.Warnw(ctx, "oauthhttp: provider returned an error", "error", perr, "description", q.Get("error_description"))
		h.redirectError(w, r, name, perr)
		return
	}

	stateUser, err := parseState(h.opts.StateSecret, q.Get("state"), name, h.opts.Now)
	if err != nil || stateUser != userID {
		logging.Warnw(ctx, "oauthhttp: rejected state", "error", err)
		h.redirectError(w, r, name, CodeInvalidState)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.redirectError(w, r, name, CodeNoCode)
		return
	}

	tok, err := in.Provider.Exchange(ctx, code)
	if err != nil {
		logging.Errorw(ctx, "oauthhttp: code exchange failed", "error", err)
		h.redirectError(w, r, name, CodeExchangeFailed)
		return
	}

	ts := tokenstore.FromOAuth2(tok)
	if ts.ExpiresAt.IsZero() {
		ts.ExpiresAt = h.opts.Now().Add(defaultTokenLifetime).UTC()
	}
	if email, err := in.Provider.AccountEmail(ctx, ts.AccessToken); err != nil {
		logging.Warnw(ctx, "oauthhttp: could not read account email", "error", err)
	} else {
		ts.AppEmail = email
	}

	if _, err := in.Store.Save(ctx, userID, ts); err != nil {
		logging.Errorw(ctx, "oauthhttp: saving token failed", "error", err)
		h.redirectError(w, r, name, CodeSaveFailed)
		return
	}

	logging.Infow(ctx, "oauthhttp: integration connected", "has_refresh_token", ts.HasRefreshToken())
	h.redirectSettings(w, r, url.Values{name + "_auth_success": {"true"}})
}

// DisconnectResponse reports a deleted token.
type DisconnectResponse struct {
	OK           bool `json:"ok"`
	AffectedRows int  `json:"affectedRows"`
}

func (h *Handlers) disconnect(r *http.Request) (any, error) {
	ctx := r.Context()
	name := r.PathValue(integrationPathElement)
	logging.Track(ctx, "integration", name)

	in, err := h.integrations.Integration(name)
	if err != nil {
		return nil, err
	}
	userID, err := h.user(r)
	if err != nil {
		return nil, err
	}
	logging.Track(ctx, "user_id", userID)
	res, err := in.Store.Delete(ctx, userID)
	if err != nil {
		return nil, err
	}
	logging.Infow(ctx, "oauthhttp: integration disconnected", "affected_rows", res.AffectedRows)
	eventbus.Publish(h.opts.EventBus, eventbus.TopicIntegrationDisconnected, eventbus.TokenEvent(in.Store.Key(userID)))
	return DisconnectResponse{OK: true, AffectedRows: res.AffectedRows}, nil
}

// StatusResponse reports whether a usable token is stored.
type StatusResponse struct {
	OK          bool       `json:"ok"`
	IsConnected bool       `json:"isConnected"`
	Email       string     `json:"email,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func (h *Handlers) status(r *http.Request) (any, error) {
	ctx := r.Context()
	name := r.PathValue(integrationPathElement)
	logging.Track(ctx, "integration", name)

	in, err := h.integrations.Integration(name)
	if err != nil {
		return nil, err
	}
	userID, err := h.user(r)
	if err != nil {
		return nil, err
	}
	logging.Track(ctx, "user_id", userID)
	ts := in.Store.Get(ctx, userID)
	if ts == nil {
		return StatusResponse{OK: true}, nil
	}
	expires := ts.ExpiresAt
	return StatusResponse{OK: true, IsConnected: true, Email: ts.AppEmail, ExpiresAt: &expires}, nil
}

func (h *Handlers) redirectError(w http.ResponseWriter, r *http.Request, name, code string) {
	h.redirectSettings(w, r, url.Values{name + "_auth_error": {code}})
}

func (h *Handlers) redirectSettings(w http.ResponseWriter, r *http.Request, q url.Values) {
	q.Set(atomAgentQueryParam, "true")
	http.Redirect(w, r, h.opts.SettingsPath+"?"+q.Encode(), http.StatusFound)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	logging.Warnw(ctx, "oauthhttp: request failed", "error", err)
	writeJSON(w, errors.HTTPStatusCode(err), ErrorResponse{Error: ErrorBody{Code: errorCode(err), Message: errors.PublicMessage(err)}})
}
