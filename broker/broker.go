// Package broker assembles the token broker from Settings: one cipher, one
// backend, and a store and refresher for every integration.
package broker

import (
	"context"
	"net/http"
	"strings"

	"github.com/rush86999/atomagent"
	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/eventbus"
	"github.com/rush86999/atomagent/hasura"
	"github.com/rush86999/atomagent/logging"
	"github.com/rush86999/atomagent/providers"
	"github.com/rush86999/atomagent/refresher"
	"github.com/rush86999/atomagent/skills"
	"github.com/rush86999/atomagent/storage"
	"github.com/rush86999/atomagent/storage/memstore"
	"github.com/rush86999/atomagent/storage/postgresstore"
	"github.com/rush86999/atomagent/storage/sqlitestore"
	"github.com/rush86999/atomagent/tokencipher"
	"github.com/rush86999/atomagent/tokenstore"
	"github.com/rush86999/atomagent/tokenstore/hasurabackend"
	"github.com/rush86999/atomagent/tokenstore/localbackend"
	"github.com/rush86999/atomagent/webhooks"
)

// Storage backends selectable with storage.backend.
const (
	BackendHasura   = "hasura"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Constructors for the integrations the broker knows, keyed by name.
var builtins = map[string]func(providers.Credentials) *providers.Provider{
	"calendar": providers.GoogleCalendar,
	"gmail":    providers.Gmail,
	"msgraph":  providers.MSGraph,
	"zoom":     providers.Zoom,
}

// Integration is everything needed to serve one provider.
type Integration struct {
	Provider  *providers.Provider
	Store     *tokenstore.Store
	Refresher *refresher.Refresher
}

// Option customizes New.
type Option func(*options)

type options struct {
	bus        eventbus.EventBus
	httpClient *http.Client
	backend    tokenstore.Backend
}

// WithEventBus publishes token lifecycle events on bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithHTTPClient is used for the Hasura backend and provider token endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithBackend replaces the backend selected by storage.backend.
func WithBackend(b tokenstore.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// Broker owns the configured integrations.
type Broker struct {
	cipher       tokencipher.Cipher
	backend      tokenstore.Backend
	bus          eventbus.EventBus
	registry     *providers.Registry
	integrations map[string]*Integration
	closer       storage.Store
	app          atomagent.AppSettings

	Calendar *skills.Calendar
	Gmail    *skills.Gmail
	Graph    *skills.Graph
	Zoom     *skills.Zoom
	Webhooks *webhooks.Store
}

// New builds a broker. It only fails when the storage backend cannot be
// opened. Missing credentials surface later as configuration errors, see
// Validate.
func New(ctx context.Context, s atomagent.Settings, opts ...Option) (*Broker, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	b := &Broker{
		cipher: tokencipher.New(tokencipher.Options{
			Mode:       s.Crypto.Mode,
			Key:        s.Crypto.Key,
			IV:         s.Crypto.IV,
			Passphrase: s.Crypto.Passphrase,
			Salt:       s.Crypto.Salt,
		}),
		bus:          o.bus,
		integrations: map[string]*Integration{},
		app:          s.App,
	}

	b.backend = o.backend
	if b.backend == nil {
		backend, closer, err := openBackend(s, o.httpClient)
		if err != nil {
			return nil, err
		}
		b.backend, b.closer = backend, closer
	}

	storeOpts := []tokenstore.Option{tokenstore.WithEventBus(o.bus)}
	if s.App.ClientType != "" {
		storeOpts = append(storeOpts, tokenstore.WithClientType(s.App.ClientType))
	}

	var all []*providers.Provider
	for _, name := range []string{"calendar", "gmail", "msgraph", "zoom"} {
		p := builtins[name](credentials(s.Provider(name)))
		p.HTTPClient = o.httpClient
		store := tokenstore.New(b.backend, b.cipher, p.Resource, storeOpts...)
		b.integrations[name] = &Integration{
			Provider:  p,
			Store:     store,
			Refresher: refresher.New(store, p, refresher.WithEventBus(o.bus)),
		}
		all = append(all, p)
	}
	b.registry = providers.NewRegistry(all...)

	b.Calendar = skills.NewCalendar(b.integrations["calendar"].Refresher, b.integrations["calendar"].Provider)
	b.Gmail = skills.NewGmail(b.integrations["gmail"].Refresher, b.integrations["gmail"].Provider)
	b.Graph = skills.NewGraph(b.integrations["msgraph"].Refresher, b.integrations["msgraph"].Provider)
	b.Zoom = skills.NewZoom(b.integrations["zoom"].Refresher, b.integrations["zoom"].Provider)
	b.Webhooks = webhooks.New(b.backend, b.cipher, storeOpts...)

	logging.Infow(ctx, "broker: ready", "integrations", b.registry.Names(), "storage", backendName(s))
	return b, nil
}

func backendName(s atomagent.Settings) string {
	if s.Storage.Backend == "" {
		return BackendHasura
	}
	return strings.ToLower(s.Storage.Backend)
}

func openBackend(s atomagent.Settings, hc *http.Client) (tokenstore.Backend, storage.Store, error) {
	var (
		st  storage.Store
		err error
	)
	switch backendName(s) {
	case BackendHasura:
		client := hasura.New(hasura.Options{
			URL:         s.Hasura.URL,
			AdminSecret: s.Hasura.AdminSecret,
			Timeout:     s.Hasura.Timeout,
			HTTPClient:  hc,
		})
		var opts []hasurabackend.Option
		if s.Hasura.Table != "" {
			opts = append(opts, hasurabackend.WithTable(s.Hasura.Table))
		}
		if s.Hasura.Constraint != "" {
			opts = append(opts, hasurabackend.WithConstraint(s.Hasura.Constraint))
		}
		return hasurabackend.New(client, opts...), nil, nil
	case BackendMemory:
		st = memstore.New()
	case BackendSQLite:
		st, err = sqlitestore.SafeNew(s.Storage.DSN)
	case BackendPostgres:
		st, err = postgresstore.SafeNew(s.Storage.DSN)
	default:
		return nil, nil, errors.Mark(tokenstore.ErrConfig, 0).Append("unknown storage backend " + s.Storage.Backend)
	}
	if err != nil {
		return nil, nil, errors.Mark(tokenstore.ErrConfig, 0).Append(err.Error())
	}
	return localbackend.New(st), st, nil
}

func credentials(p atomagent.ProviderSettings) providers.Credentials {
	return providers.Credentials{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		Scopes:       p.Scopes,
		Tenant:       p.Tenant,
		APIBaseURL:   p.APIBaseURL,
	}
}

// Integration returns the named integration.
func (b *Broker) Integration(name string) (*Integration, error) {
	if _, err := b.registry.Get(name); err != nil {
		return nil, err
	}
	return b.integrations[name], nil
}

// Names lists the integrations in registration order.
func (b *Broker) Names() []string {
	return b.registry.Names()
}

// EventBus returns the bus events are published on, possibly nil.
func (b *Broker) EventBus() eventbus.EventBus {
	return b.bus
}

// Validate reports configuration problems: storage, encryption and the
// signing secrets for the broker as a whole, client credentials per
// integration. Integrations that are not configured are still served and
// fail with configuration errors.
func (b *Broker) Validate() []error {
	var errs []error
	if err := b.integrations["calendar"].Store.Validate(); err != nil {
		errs = append(errs, err)
	}
	if b.app.StateSecret == "" {
		errs = append(errs, errors.Mark(tokenstore.ErrConfig, 0).Append("app.stateSecret is not set, connecting integrations is disabled"))
	}
	if b.app.IdentitySecret == "" {
		errs = append(errs, errors.Mark(tokenstore.ErrConfig, 0).Append("app.identitySecret is not set, all requests are unauthenticated"))
	}
	for _, name := range b.Names() {
		if err := b.integrations[name].Provider.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Close releases a local storage backend.
func (b *Broker) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}
