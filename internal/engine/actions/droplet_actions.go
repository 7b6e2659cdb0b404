package actions

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"cloudcompanion/internal/engine/digitalocean"
	"cloudcompanion/internal/pkg/errors"
	"cloudcompanion/internal/platform/models"
)

// imageRef accepts an image slug or a numeric image id.
type imageRef string

func (r *imageRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*r = imageRef(s)
		return nil
	}
	if _, err := strconv.ParseInt(string(b), 10, 64); err != nil {
		return fmt.Errorf("image must be a slug or numeric id")
	}
	*r = imageRef(b)
	return nil
}

// value returns the form the provider expects: a number for ids, a string for slugs.
func (r imageRef) value() interface{} {
	if id, err := strconv.ParseInt(string(r), 10, 64); err == nil {
		return id
	}
	return string(r)
}

func (d *Dispatcher) getRegions(ctx context.Context, c *call) (interface{}, error) {
	regions, err := cachedFetch(d.catalog, "regions", func() ([]digitalocean.Region, error) {
		return d.client.Regions(ctx, c.key.Secret)
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"regions": regions}, nil
}

func (d *Dispatcher) getSizes(ctx context.Context, c *call) (interface{}, error) {
	sizes, err := cachedFetch(d.catalog, "sizes", func() ([]digitalocean.Size, error) {
		return d.client.Sizes(ctx, c.key.Secret)
	})
	if err != nil {
		return nil, err
	}

	limits, err := d.callerLimits(ctx, c.caller.UserID)
	if err != nil {
		return nil, err
	}
	allowed := make([]digitalocean.Size, 0, len(sizes))
	for _, s := range sizes {
		if limits.AllowsSize(s.Slug) {
			allowed = append(allowed, s)
		}
	}
	return map[string]interface{}{"sizes": allowed}, nil
}

func (d *Dispatcher) getImages(ctx context.Context, c *call) (interface{}, error) {
	images, err := cachedFetch(d.catalog, "images:distribution", func() ([]digitalocean.Image, error) {
		return d.client.Images(ctx, c.key.Secret, "distribution")
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"images": images}, nil
}

func (d *Dispatcher) getApps(ctx context.Context, c *call) (interface{}, error) {
	images, err := cachedFetch(d.catalog, "images:application", func() ([]digitalocean.Image, error) {
		return d.client.Images(ctx, c.key.Secret, "application")
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"images": images}, nil
}

func (d *Dispatcher) getMyLimits(ctx context.Context, c *call) (interface{}, error) {
	limits, err := d.callerLimits(ctx, c.caller.UserID)
	if err != nil {
		return nil, err
	}
	count, err := d.droplets.CountByUser(ctx, c.caller.UserID)
	if err != nil {
		return nil, errors.Persistence("Failed to count droplets", err)
	}
	return map[string]interface{}{
		"limits":       limits,
		"dropletCount": count,
	}, nil
}

// callerLimits returns the stored limits, or the configured defaults for users
// that have none.
func (d *Dispatcher) callerLimits(ctx context.Context, userID string) (*models.UserLimits, error) {
	limits, err := d.limits.Get(ctx, userID)
	if err != nil {
		return nil, errors.Persistence("Failed to load limits", err)
	}
	if limits == nil {
		limits = &models.UserLimits{
			UserID:          userID,
			MaxDroplets:     d.defaults.MaxDroplets,
			AllowedSizes:    d.defaults.AllowedSizes,
			AutoDestroyDays: d.defaults.AutoDestroyDays,
		}
	}
	return limits, nil
}

type createDropletParams struct {
	Name     string   `json:"name" validate:"required,max=63,hostname_label"`
	Region   string   `json:"region" validate:"required"`
	Size     string   `json:"size" validate:"required"`
	Image    imageRef `json:"image" validate:"required"`
	Password string   `json:"password" validate:"required,min=8,max=128"`
}

// createDroplet checks the caller's quota, creates the machine and records it.
// The count check is not atomic with the insert: two concurrent creations can
// both pass it.
func (d *Dispatcher) createDroplet(ctx context.Context, c *call) (interface{}, error) {
	var p createDropletParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}

	limits, err := d.callerLimits(ctx, c.caller.UserID)
	if err != nil {
		return nil, err
	}
	count, err := d.droplets.CountByUser(ctx, c.caller.UserID)
	if err != nil {
		return nil, errors.Persistence("Failed to count droplets", err)
	}
	if count >= limits.MaxDroplets {
		return nil, errors.New(errors.ErrCodeQuotaExceeded, fmt.Sprintf("Droplet limit reached (%d)", limits.MaxDroplets))
	}
	if !limits.AllowsSize(p.Size) {
		return nil, errors.New(errors.ErrCodeQuotaExceeded, fmt.Sprintf("Size %s is not allowed for your account", p.Size))
	}

	userData, err := rootPasswordUserData(p.Password)
	if err != nil {
		return nil, errors.InvalidInput(err.Error())
	}

	created, err := d.client.CreateDroplet(ctx, c.key.Secret, &digitalocean.DropletCreateRequest{
		Name:       p.Name,
		Region:     p.Region,
		Size:       p.Size,
		Image:      p.Image.value(),
		UserData:   userData,
		Monitoring: true,
		Tags:       []string{"cloudcompanion"},
	})
	if err != nil {
		return nil, err
	}

	doID := created.ID
	droplet := &models.Droplet{
		UserID:         c.caller.UserID,
		DigitalOceanID: &doID,
		Name:           p.Name,
		Status:         created.Status,
		Region:         p.Region,
		Size:           p.Size,
		Image:          string(p.Image),
	}
	if droplet.Status == "" {
		droplet.Status = "new"
	}
	if ip := created.PublicIPv4(); ip != "" {
		droplet.IPAddress = &ip
	}

	if err := d.droplets.Create(ctx, droplet); err != nil {
		d.log.Error().Err(err).
			Str("user_id", c.caller.UserID).
			Int64("digitalocean_id", doID).
			Msg("droplet created upstream but not recorded locally")
		return nil, errors.Persistence("Droplet was created but could not be saved", err)
	}

	d.record(c, "droplet", droplet.ID, map[string]interface{}{
		"digitalocean_id": doID,
		"region":          p.Region,
		"size":            p.Size,
	})
	return droplet, nil
}

func (d *Dispatcher) listDroplets(ctx context.Context, c *call) (interface{}, error) {
	list, err := d.droplets.ListByUser(ctx, c.caller.UserID)
	if err != nil {
		return nil, errors.Persistence("Failed to load droplets", err)
	}
	return d.reconciler.Reconcile(ctx, c.key, list), nil
}

type dropletActionParams struct {
	DropletID  string `json:"dropletId" validate:"required"`
	ActionType string `json:"actionType" validate:"required,max=64"`
}

func (d *Dispatcher) dropletAction(ctx context.Context, c *call) (interface{}, error) {
	var p dropletActionParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}

	droplet, err := d.droplets.GetForUser(ctx, p.DropletID, c.caller.UserID)
	if err != nil {
		return nil, errors.Persistence("Failed to load droplet", err)
	}
	if droplet == nil {
		return nil, errors.NotFound("Droplet not found")
	}
	return d.applyDropletAction(ctx, c, droplet, p.ActionType)
}

// applyDropletAction runs actionType against an already authorized droplet.
// "delete" removes the local row even when the provider call fails; every other
// type is forwarded to the provider unchanged.
func (d *Dispatcher) applyDropletAction(ctx context.Context, c *call, droplet *models.Droplet, actionType string) (interface{}, error) {
	if actionType != "delete" {
		if droplet.DigitalOceanID == nil {
			return nil, errors.InvalidInput("Droplet has not been provisioned")
		}
		action, err := d.client.DropletAction(ctx, c.key.Secret, *droplet.DigitalOceanID, actionType)
		if err != nil {
			return nil, err
		}
		d.record(c, "droplet", droplet.ID, map[string]interface{}{"action_type": actionType})
		return map[string]interface{}{"success": true, "action": action}, nil
	}

	result := map[string]interface{}{"success": true, "providerDeleted": true}
	if droplet.DigitalOceanID != nil {
		err := d.client.DeleteDroplet(ctx, c.key.Secret, *droplet.DigitalOceanID)
		if err != nil && !digitalocean.IsNotFound(err) {
			d.keys.Report(ctx, c.key, err)
			d.log.Warn().Err(err).
				Str("droplet_id", droplet.ID).
				Int64("digitalocean_id", *droplet.DigitalOceanID).
				Msg("provider delete failed, removing local record anyway")
			result["providerDeleted"] = false
			result["warning"] = err.Error()
		}
	}

	deleted, err := d.droplets.Delete(ctx, droplet.ID)
	if err != nil {
		return nil, errors.Persistence("Failed to delete droplet", err)
	}
	if !deleted {
		return nil, errors.NotFound("Droplet not found")
	}

	d.record(c, "droplet", droplet.ID, map[string]interface{}{
		"action_type":      "delete",
		"provider_deleted": result["providerDeleted"],
	})
	return result, nil
}
