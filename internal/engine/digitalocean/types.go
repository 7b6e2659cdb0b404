package digitalocean

import (
	"fmt"

	"github.com/digitalocean/godo"
	"github.com/goccy/go-json"
)

type Region struct {
	Slug      string   `json:"slug"`
	Name      string   `json:"name"`
	Available bool     `json:"available"`
	Sizes     []string `json:"sizes"`
	Features  []string `json:"features"`
}

type Size struct {
	Slug         string   `json:"slug"`
	Memory       int      `json:"memory"`
	VCPUs        int      `json:"vcpus"`
	Disk         int      `json:"disk"`
	Transfer     float64  `json:"transfer"`
	PriceMonthly float64  `json:"price_monthly"`
	PriceHourly  float64  `json:"price_hourly"`
	Available    bool     `json:"available"`
	Regions      []string `json:"regions"`
}

type Image struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Distribution string   `json:"distribution"`
	Slug         string   `json:"slug"`
	Type         string   `json:"type"`
	Public       bool     `json:"public"`
	Regions      []string `json:"regions"`
	MinDiskSize  int      `json:"min_disk_size"`
}

type Droplet struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Memory    int      `json:"memory"`
	VCPUs     int      `json:"vcpus"`
	Disk      int      `json:"disk"`
	SizeSlug  string   `json:"size_slug"`
	Region    Region   `json:"region"`
	Image     Image    `json:"image"`
	Networks  Networks `json:"networks"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
}

type Networks struct {
	V4 []NetworkV4 `json:"v4"`
	V6 []NetworkV6 `json:"v6"`
}

type NetworkV4 struct {
	IPAddress string `json:"ip_address"`
	Netmask   string `json:"netmask"`
	Gateway   string `json:"gateway"`
	Type      string `json:"type"`
}

type NetworkV6 struct {
	IPAddress string `json:"ip_address"`
	Netmask   int    `json:"netmask"`
	Gateway   string `json:"gateway"`
	Type      string `json:"type"`
}

// PublicIPv4 returns the droplet's public IPv4 address, or "" before one is assigned.
func (d *Droplet) PublicIPv4() string {
	for _, n := range d.Networks.V4 {
		if n.Type == "public" {
			return n.IPAddress
		}
	}
	return ""
}

// DropletCreateRequest mirrors POST /v2/droplets. Image is a slug string or a numeric id.
type DropletCreateRequest struct {
	Name       string      `json:"name"`
	Region     string      `json:"region"`
	Size       string      `json:"size"`
	Image      interface{} `json:"image"`
	UserData   string      `json:"user_data,omitempty"`
	Monitoring bool        `json:"monitoring"`
	IPv6       bool        `json:"ipv6"`
	Tags       []string    `json:"tags,omitempty"`
}

type Action struct {
	ID           int64  `json:"id"`
	Status       string `json:"status"`
	Type         string `json:"type"`
	StartedAt    string `json:"started_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
	ResourceID   int64  `json:"resource_id"`
	ResourceType string `json:"resource_type"`
}

// Firewall rules are passed through untouched; only the admin console builds them.
type Firewall struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name"`
	Status        string          `json:"status,omitempty"`
	InboundRules  json.RawMessage `json:"inbound_rules,omitempty"`
	OutboundRules json.RawMessage `json:"outbound_rules,omitempty"`
	DropletIDs    []int64         `json:"droplet_ids"`
	Tags          []string        `json:"tags,omitempty"`
	CreatedAt     string          `json:"created_at,omitempty"`
}

func (r *DropletCreateRequest) toGodo() (*godo.DropletCreateRequest, error) {
	var image godo.DropletCreateImage
	switch v := r.Image.(type) {
	case string:
		image.Slug = v
	case int64:
		image.ID = int(v)
	case int:
		image.ID = v
	default:
		return nil, fmt.Errorf("unsupported image reference %T", r.Image)
	}
	return &godo.DropletCreateRequest{
		Name:       r.Name,
		Region:     r.Region,
		Size:       r.Size,
		Image:      image,
		UserData:   r.UserData,
		Monitoring: r.Monitoring,
		IPv6:       r.IPv6,
		Tags:       r.Tags,
	}, nil
}

func regionFrom(r godo.Region) Region {
	return Region{Slug: r.Slug, Name: r.Name, Available: r.Available, Sizes: r.Sizes, Features: r.Features}
}

func sizeFrom(s godo.Size) Size {
	return Size{
		Slug:         s.Slug,
		Memory:       s.Memory,
		VCPUs:        s.Vcpus,
		Disk:         s.Disk,
		Transfer:     s.Transfer,
		PriceMonthly: s.PriceMonthly,
		PriceHourly:  s.PriceHourly,
		Available:    s.Available,
		Regions:      s.Regions,
	}
}

func imageFrom(i godo.Image) Image {
	return Image{
		ID:           int64(i.ID),
		Name:         i.Name,
		Distribution: i.Distribution,
		Slug:         i.Slug,
		Type:         i.Type,
		Public:       i.Public,
		Regions:      i.Regions,
		MinDiskSize:  i.MinDiskSize,
	}
}

func dropletFrom(d *godo.Droplet) *Droplet {
	out := &Droplet{
		ID:        int64(d.ID),
		Name:      d.Name,
		Status:    d.Status,
		Memory:    d.Memory,
		VCPUs:     d.Vcpus,
		Disk:      d.Disk,
		SizeSlug:  d.SizeSlug,
		Tags:      d.Tags,
		CreatedAt: d.Created,
	}
	if d.Region != nil {
		out.Region = regionFrom(*d.Region)
	}
	if d.Image != nil {
		out.Image = imageFrom(*d.Image)
	}
	if d.Networks != nil {
		for _, n := range d.Networks.V4 {
			out.Networks.V4 = append(out.Networks.V4, NetworkV4{IPAddress: n.IPAddress, Netmask: n.Netmask, Gateway: n.Gateway, Type: n.Type})
		}
		for _, n := range d.Networks.V6 {
			out.Networks.V6 = append(out.Networks.V6, NetworkV6{IPAddress: n.IPAddress, Netmask: n.Netmask, Gateway: n.Gateway, Type: n.Type})
		}
	}
	return out
}
