// Package actions implements the named-action protocol: each request names one
// action, is checked against the caller's role and runs a single handler.
package actions

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"cloudcompanion/internal/engine/digitalocean"
	"cloudcompanion/internal/engine/droplets"
	"cloudcompanion/internal/engine/keypool"
	"cloudcompanion/internal/pkg/errors"
	"cloudcompanion/internal/pkg/logger"
	"cloudcompanion/internal/pkg/metrics"
	"cloudcompanion/internal/pkg/validator"
	"cloudcompanion/internal/platform/audit"
	"cloudcompanion/internal/platform/config"
	"cloudcompanion/internal/platform/models"
	"cloudcompanion/internal/platform/repositories"
)

// call is the state a handler runs with.
type call struct {
	action string
	caller *models.Caller
	body   []byte
	// key is set only for actions that talk to the provider.
	key *models.APIKey
}

// bind decodes the request body into v and validates it.
func (c *call) bind(v interface{}) error {
	if err := json.Unmarshal(c.body, v); err != nil {
		return errors.InvalidInput("Invalid parameters")
	}
	if err := validator.Struct(v); err != nil {
		return errors.InvalidInput(err.Error())
	}
	return nil
}

type handlerFunc func(ctx context.Context, c *call) (interface{}, error)

type route struct {
	handler  handlerFunc
	needsKey bool
}

type Dispatcher struct {
	client     *digitalocean.Client
	keys       *keypool.Manager
	apiKeys    *repositories.APIKeyRepository
	droplets   *repositories.DropletRepository
	limits     *repositories.LimitsRepository
	invites    *repositories.InviteRepository
	users      *repositories.UserRepository
	roles      *repositories.RoleRepository
	reconciler *droplets.Reconciler
	audit      *audit.Logger
	guard      *Guard
	defaults   config.LimitsConfig
	catalog    *catalogCache
	routes     map[string]route
	log        zerolog.Logger
}

type Deps struct {
	Client     *digitalocean.Client
	Keys       *keypool.Manager
	APIKeys    *repositories.APIKeyRepository
	Droplets   *repositories.DropletRepository
	Limits     *repositories.LimitsRepository
	Invites    *repositories.InviteRepository
	Users      *repositories.UserRepository
	Roles      *repositories.RoleRepository
	Reconciler *droplets.Reconciler
	Audit      *audit.Logger
	Guard      *Guard
	Defaults   config.LimitsConfig
	// CatalogTTL is how long region, size and image listings are reused. Zero disables caching.
	CatalogTTL time.Duration
}

func NewDispatcher(d Deps) *Dispatcher {
	disp := &Dispatcher{
		client:     d.Client,
		keys:       d.Keys,
		apiKeys:    d.APIKeys,
		droplets:   d.Droplets,
		limits:     d.Limits,
		invites:    d.Invites,
		users:      d.Users,
		roles:      d.Roles,
		reconciler: d.Reconciler,
		audit:      d.Audit,
		guard:      d.Guard,
		defaults:   d.Defaults,
		catalog:    newCatalogCache(d.CatalogTTL),
		log:        logger.WithComponent("actions"),
	}

	disp.routes = map[string]route{
		"get-regions":    {handler: disp.getRegions, needsKey: true},
		"get-sizes":      {handler: disp.getSizes, needsKey: true},
		"get-images":     {handler: disp.getImages, needsKey: true},
		"get-apps":       {handler: disp.getApps, needsKey: true},
		"get-my-limits":  {handler: disp.getMyLimits},
		"create-droplet": {handler: disp.createDroplet, needsKey: true},
		"list-droplets":  {handler: disp.listDroplets, needsKey: true},
		"droplet-action": {handler: disp.dropletAction, needsKey: true},

		"admin-list-droplets":         {handler: disp.adminListDroplets, needsKey: true},
		"admin-droplet-action":        {handler: disp.adminDropletAction, needsKey: true},
		"admin-list-api-keys":         {handler: disp.adminListAPIKeys},
		"admin-add-api-key":           {handler: disp.adminAddAPIKey},
		"admin-update-api-key":        {handler: disp.adminUpdateAPIKey},
		"admin-delete-api-key":        {handler: disp.adminDeleteAPIKey},
		"admin-check-api-key-balance": {handler: disp.adminCheckBalance},
		"admin-list-firewalls":        {handler: disp.adminListFirewalls, needsKey: true},
		"admin-create-firewall":       {handler: disp.adminCreateFirewall, needsKey: true},
		"admin-delete-firewall":       {handler: disp.adminDeleteFirewall, needsKey: true},
		"admin-list-invite-keys":      {handler: disp.adminListInvites},
		"admin-create-invite-key":     {handler: disp.adminCreateInvite},
		"admin-deactivate-invite-key": {handler: disp.adminDeactivateInvite},
		"admin-list-users":            {handler: disp.adminListUsers},
		"admin-update-user-limits":    {handler: disp.adminUpdateUserLimits},
		"admin-set-user-role":         {handler: disp.adminSetUserRole},
	}
	return disp
}

// Actions lists the registered action names.
func (d *Dispatcher) Actions() []string {
	names := make([]string, 0, len(d.routes))
	for name := range d.routes {
		names = append(names, name)
	}
	return names
}

// Dispatch runs one action for caller. body is the flat request object
// {"action": "...", ...params}. Returned errors are *errors.Error values.
func (d *Dispatcher) Dispatch(ctx context.Context, caller *models.Caller, body []byte) (interface{}, error) {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.InvalidInput("Invalid request body")
	}
	name := strings.TrimSpace(envelope.Action)
	if name == "" {
		return nil, errors.InvalidInput("Missing action")
	}

	rt, ok := d.routes[name]
	if !ok {
		metrics.ActionsTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, errors.InvalidInput(fmt.Sprintf("Unknown action: %s", name))
	}

	log := d.log.With().Str("action", name).Str("user_id", userID(caller)).Logger()

	if !d.guard.Allow(caller, name) {
		metrics.ActionsTotal.WithLabelValues(name, "forbidden").Inc()
		log.Warn().Msg("action denied")
		if strings.HasPrefix(name, "admin-") {
			return nil, errors.Forbidden("Admin access required")
		}
		return nil, errors.Forbidden("Not allowed")
	}

	c := &call{action: name, caller: caller, body: body}
	if rt.needsKey {
		key, err := d.keys.ActiveKey(ctx)
		if err != nil {
			metrics.ActionsTotal.WithLabelValues(name, "error").Inc()
			if stderrors.Is(err, keypool.ErrNoActiveKey) {
				log.Error().Msg("no active DigitalOcean API key")
				return nil, errors.Configuration("No active DigitalOcean API key configured. Ask an administrator to add one.")
			}
			log.Error().Err(err).Msg("failed to load API key")
			return nil, errors.Persistence("Failed to load API key", err)
		}
		c.key = key
	}

	timer := metrics.NewTimer()
	result, err := rt.handler(ctx, c)
	timer.ObserveDuration(metrics.ActionDuration.WithLabelValues(name))

	if err != nil {
		metrics.ActionsTotal.WithLabelValues(name, "error").Inc()
		if c.key != nil {
			d.keys.Report(ctx, c.key, err)
		}
		classified := classify(err)
		log.Error().Err(err).Str("code", classified.Code).Msg("action failed")
		return nil, classified
	}

	metrics.ActionsTotal.WithLabelValues(name, "ok").Inc()
	return result, nil
}

// record writes an audit row for mutating actions.
func (d *Dispatcher) record(c *call, resourceType, resourceID string, meta map[string]interface{}) {
	if d.audit == nil {
		return
	}
	d.audit.Log(userID(c.caller), c.action, resourceType, resourceID, meta)
}

// classify turns any handler error into a caller-facing *errors.Error.
func classify(err error) *errors.Error {
	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	var apiErr *digitalocean.APIError
	if stderrors.As(err, &apiErr) {
		return errors.Wrap(errors.ErrCodeUpstream, apiErr.Message, err)
	}
	// Everything else reaching here is a transport or decode failure talking to the provider.
	return errors.Wrap(errors.ErrCodeUpstream, "DigitalOcean request failed", err)
}

func userID(c *models.Caller) string {
	if c == nil {
		return ""
	}
	return c.UserID
}
