package actions

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/goccy/go-json"

	"cloudcompanion/internal/engine/digitalocean"
	"cloudcompanion/internal/engine/keypool"
	"cloudcompanion/internal/pkg/errors"
	"cloudcompanion/internal/platform/database"
	"cloudcompanion/internal/platform/models"
)

func (d *Dispatcher) adminListDroplets(ctx context.Context, c *call) (interface{}, error) {
	list, err := d.droplets.ListAll(ctx)
	if err != nil {
		return nil, errors.Persistence("Failed to load droplets", err)
	}
	return d.reconciler.Reconcile(ctx, c.key, list), nil
}

func (d *Dispatcher) adminDropletAction(ctx context.Context, c *call) (interface{}, error) {
	var p dropletActionParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}

	droplet, err := d.droplets.GetByID(ctx, p.DropletID)
	if err != nil {
		return nil, errors.Persistence("Failed to load droplet", err)
	}
	if droplet == nil {
		return nil, errors.NotFound("Droplet not found")
	}
	return d.applyDropletAction(ctx, c, droplet, p.ActionType)
}

// API keys

func (d *Dispatcher) adminListAPIKeys(ctx context.Context, c *call) (interface{}, error) {
	keys, err := d.apiKeys.List(ctx)
	if err != nil {
		return nil, errors.Persistence("Failed to load API keys", err)
	}
	views := make([]*models.APIKeyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, models.NewAPIKeyView(k))
	}
	return views, nil
}

type addAPIKeyParams struct {
	Name   string `json:"name" validate:"required,max=100"`
	APIKey string `json:"apiKey" validate:"required,max=512"`
}

func (d *Dispatcher) adminAddAPIKey(ctx context.Context, c *call) (interface{}, error) {
	var p addAPIKeyParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}

	key := &models.APIKey{Name: strings.TrimSpace(p.Name), Secret: strings.TrimSpace(p.APIKey)}
	if err := d.apiKeys.Create(ctx, key); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, errors.Conflict("API key already exists")
		}
		return nil, errors.Persistence("Failed to save API key", err)
	}

	d.record(c, "api_key", key.ID, map[string]interface{}{"name": key.Name})
	return models.NewAPIKeyView(key), nil
}

type updateAPIKeyParams struct {
	KeyID    string  `json:"keyId" validate:"required"`
	Name     *string `json:"name" validate:"omitempty,min=1,max=100"`
	IsActive *bool   `json:"isActive"`
}

func (d *Dispatcher) adminUpdateAPIKey(ctx context.Context, c *call) (interface{}, error) {
	var p updateAPIKeyParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}

	existing, err := d.apiKeys.GetByID(ctx, p.KeyID)
	if err != nil {
		return nil, errors.Persistence("Failed to load API key", err)
	}
	if existing == nil {
		return nil, errors.NotFound("API key not found")
	}

	if err := d.apiKeys.Update(ctx, p.KeyID, p.Name, p.IsActive); err != nil {
		return nil, errors.Persistence("Failed to update API key", err)
	}

	updated, err := d.apiKeys.GetByID(ctx, p.KeyID)
	if err != nil || updated == nil {
		return nil, errors.Persistence("Failed to load API key", err)
	}

	meta := map[string]interface{}{}
	if p.Name != nil {
		meta["name"] = *p.Name
	}
	if p.IsActive != nil {
		meta["is_active"] = *p.IsActive
	}
	d.record(c, "api_key", p.KeyID, meta)
	return models.NewAPIKeyView(updated), nil
}

type keyIDParams struct {
	KeyID string `json:"keyId" validate:"required"`
}

func (d *Dispatcher) adminDeleteAPIKey(ctx context.Context, c *call) (interface{}, error) {
	var p keyIDParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}

	deleted, err := d.apiKeys.Delete(ctx, p.KeyID)
	if err != nil {
		return nil, errors.Persistence("Failed to delete API key", err)
	}
	if !deleted {
		return nil, errors.NotFound("API key not found")
	}

	d.record(c, "api_key", p.KeyID, nil)
	return map[string]interface{}{"success": true}, nil
}

func (d *Dispatcher) adminCheckBalance(ctx context.Context, c *call) (interface{}, error) {
	var p keyIDParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}

	res, err := d.keys.CheckBalance(ctx, p.KeyID)
	if err != nil {
		if stderrors.Is(err, keypool.ErrKeyNotFound) {
			return nil, errors.NotFound("API key not found")
		}
		return nil, errors.Persistence("Failed to check balance", err)
	}
	if res.Error != "" {
		if !res.IsActive {
			return nil, errors.New(errors.ErrCodeUpstream, "API key was rejected and has been deactivated: "+res.Error)
		}
		return nil, errors.New(errors.ErrCodeUpstream, res.Error)
	}
	return res, nil
}

// Firewalls

func (d *Dispatcher) adminListFirewalls(ctx context.Context, c *call) (interface{}, error) {
	firewalls, err := d.client.Firewalls(ctx, c.key.Secret)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"firewalls": firewalls}, nil
}

type createFirewallParams struct {
	Name          string          `json:"name" validate:"required,max=255"`
	DropletIDs    []int64         `json:"dropletIds"`
	Tags          []string        `json:"tags"`
	InboundRules  json.RawMessage `json:"inboundRules"`
	OutboundRules json.RawMessage `json:"outboundRules"`
}

func (d *Dispatcher) adminCreateFirewall(ctx context.Context, c *call) (interface{}, error) {
	var p createFirewallParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if p.DropletIDs == nil {
		p.DropletIDs = []int64{}
	}

	fw, err := d.client.CreateFirewall(ctx, c.key.Secret, &digitalocean.Firewall{
		Name:          p.Name,
		DropletIDs:    p.DropletIDs,
		Tags:          p.Tags,
		InboundRules:  p.InboundRules,
		OutboundRules: p.OutboundRules,
	})
	if err != nil {
		return nil, err
	}

	d.record(c, "firewall", fw.ID, map[string]interface{}{"name": fw.Name})
	return map[string]interface{}{"firewall": fw}, nil
}

type firewallIDParams struct {
	FirewallID string `json:"firewallId" validate:"required"`
}

func (d *Dispatcher) adminDeleteFirewall(ctx context.Context, c *call) (interface{}, error) {
	var p firewallIDParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if err := d.client.DeleteFirewall(ctx, c.key.Secret, p.FirewallID); err != nil {
		return nil, err
	}
	d.record(c, "firewall", p.FirewallID, nil)
	return map[string]interface{}{"success": true}, nil
}

// Invite keys

func (d *Dispatcher) adminListInvites(ctx context.Context, c *call) (interface{}, error) {
	invites, err := d.invites.List(ctx)
	if err != nil {
		return nil, errors.Persistence("Failed to load invite keys", err)
	}
	return invites, nil
}

type presetParams struct {
	MaxDroplets     int      `json:"maxDroplets" validate:"min=0,max=1000"`
	AllowedSizes    []string `json:"allowedSizes"`
	AutoDestroyDays int      `json:"autoDestroyDays" validate:"min=0,max=3650"`
}

type createInviteParams struct {
	Key          string        `json:"key" validate:"omitempty,min=4,max=64"`
	MaxUses      int           `json:"maxUses" validate:"omitempty,min=1,max=100000"`
	PresetLimits *presetParams `json:"presetLimits"`
}

func (d *Dispatcher) adminCreateInvite(ctx context.Context, c *call) (interface{}, error) {
	var p createInviteParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}

	key, err := generateInviteKey(ctx, strings.TrimSpace(p.Key), d.invites)
	if err != nil {
		return nil, err
	}
	inv := &models.InviteKey{Key: key, MaxUses: p.MaxUses}
	if p.PresetLimits != nil {
		inv.PresetLimits = &models.LimitsPreset{
			MaxDroplets:     p.PresetLimits.MaxDroplets,
			AllowedSizes:    p.PresetLimits.AllowedSizes,
			AutoDestroyDays: p.PresetLimits.AutoDestroyDays,
		}
	}
	createdBy := c.caller.UserID
	inv.CreatedBy = &createdBy

	if err := d.invites.Create(ctx, inv); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, errors.Conflict("Invite key already exists")
		}
		return nil, errors.Persistence("Failed to create invite key", err)
	}

	d.record(c, "invite_key", inv.ID, map[string]interface{}{"max_uses": inv.MaxUses})
	return inv, nil
}

type inviteIDParams struct {
	InviteKeyID string `json:"inviteKeyId" validate:"required"`
}

func (d *Dispatcher) adminDeactivateInvite(ctx context.Context, c *call) (interface{}, error) {
	var p inviteIDParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}

	ok, err := d.invites.Deactivate(ctx, p.InviteKeyID)
	if err != nil {
		return nil, errors.Persistence("Failed to deactivate invite key", err)
	}
	if !ok {
		return nil, errors.NotFound("Invite key not found")
	}

	d.record(c, "invite_key", p.InviteKeyID, nil)
	return map[string]interface{}{"success": true}, nil
}

// Users

func (d *Dispatcher) adminListUsers(ctx context.Context, c *call) (interface{}, error) {
	users, err := d.users.ListSummaries(ctx)
	if err != nil {
		return nil, errors.Persistence("Failed to load users", err)
	}
	return users, nil
}

type updateLimitsParams struct {
	UserID          string   `json:"userId" validate:"required"`
	MaxDroplets     int      `json:"maxDroplets" validate:"min=0,max=1000"`
	AllowedSizes    []string `json:"allowedSizes"`
	AutoDestroyDays int      `json:"autoDestroyDays" validate:"min=0,max=3650"`
}

func (d *Dispatcher) adminUpdateUserLimits(ctx context.Context, c *call) (interface{}, error) {
	var p updateLimitsParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if err := d.requireProfile(ctx, p.UserID); err != nil {
		return nil, err
	}

	limits := &models.UserLimits{
		UserID:          p.UserID,
		MaxDroplets:     p.MaxDroplets,
		AllowedSizes:    p.AllowedSizes,
		AutoDestroyDays: p.AutoDestroyDays,
	}
	if err := d.limits.Upsert(ctx, limits); err != nil {
		return nil, errors.Persistence("Failed to update limits", err)
	}

	d.record(c, "user_limits", p.UserID, map[string]interface{}{
		"max_droplets":      p.MaxDroplets,
		"auto_destroy_days": p.AutoDestroyDays,
	})
	return limits, nil
}

type setRoleParams struct {
	UserID string `json:"userId" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=admin user"`
}

func (d *Dispatcher) adminSetUserRole(ctx context.Context, c *call) (interface{}, error) {
	var p setRoleParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if p.UserID == c.caller.UserID && p.Role != models.RoleAdmin {
		return nil, errors.InvalidInput("You cannot remove your own admin role")
	}
	if err := d.requireProfile(ctx, p.UserID); err != nil {
		return nil, err
	}

	if err := d.roles.SetRole(ctx, p.UserID, p.Role); err != nil {
		return nil, errors.Persistence("Failed to update role", err)
	}

	d.record(c, "user_role", p.UserID, map[string]interface{}{"role": p.Role})
	return map[string]interface{}{"userId": p.UserID, "role": p.Role}, nil
}

func (d *Dispatcher) requireProfile(ctx context.Context, userID string) error {
	profile, err := d.users.GetProfile(ctx, userID)
	if err != nil {
		return errors.Persistence("Failed to load user", err)
	}
	if profile == nil {
		return errors.NotFound("User not found")
	}
	return nil
}
