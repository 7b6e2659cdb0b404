package digitalocean

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/digitalocean/godo"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"cloudcompanion/internal/pkg/metrics"
)

// DefaultBaseURL is the API host; request paths carry the v2 prefix.
const DefaultBaseURL = "https://api.digitalocean.com/"

const perPage = 200

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode  int
	RequestID   string
	Message     string
	IsAuthError bool
}

func (e *APIError) Error() string {
	return e.Message
}

// IsAuthError reports whether err is a provider rejection of the credential itself.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuthError
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to DigitalOcean with whichever credential the caller passes. A godo
// client is built per call since the key pool can rotate the credential at any time.
type Client struct {
	baseURL string
	timeout time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{baseURL: baseURL, timeout: timeout}
}

func (c *Client) api(token string) (*godo.Client, error) {
	hc := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	hc.Timeout = c.timeout
	api, err := godo.New(hc, godo.SetBaseURL(c.baseURL))
	if err != nil {
		return nil, fmt.Errorf("configure digitalocean client: %w", err)
	}
	return api, nil
}

// translate records the outcome of one call and maps provider rejections to *APIError.
func translate(method string, err error) error {
	if err == nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(method, "ok").Inc()
		return nil
	}

	var errResp *godo.ErrorResponse
	if !errors.As(err, &errResp) || errResp.Response == nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(method, "transport_error").Inc()
		return fmt.Errorf("digitalocean request failed: %w", err)
	}

	status := errResp.Response.StatusCode
	apiErr := &APIError{
		StatusCode:  status,
		RequestID:   errResp.RequestID,
		Message:     errResp.Message,
		IsAuthError: status == http.StatusUnauthorized || status == http.StatusForbidden,
	}
	// Non-JSON bodies (proxy error pages) land in Message verbatim.
	if msg := strings.TrimSpace(apiErr.Message); msg == "" || strings.HasPrefix(msg, "<") {
		apiErr.Message = http.StatusText(status)
	}

	result := "error"
	if apiErr.IsAuthError {
		result = "auth_error"
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(method, result).Inc()
	return apiErr
}

// Do performs one authenticated call against an endpoint under /v2 and returns the
// raw JSON body. An empty response yields nil data. Every non-2xx response is
// returned as *APIError.
func (c *Client) Do(ctx context.Context, method, endpoint, token string, body interface{}) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := c.do(ctx, method, endpoint, token, body, &buf); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(buf.Bytes())) == 0 {
		return nil, nil
	}
	return json.RawMessage(buf.Bytes()), nil
}

// do sends a request godo has no typed service for. out is either a JSON target
// or an io.Writer that receives the body as is.
func (c *Client) do(ctx context.Context, method, endpoint, token string, body, out interface{}) error {
	api, err := c.api(token)
	if err != nil {
		return err
	}
	req, err := api.NewRequest(ctx, method, "v2/"+strings.TrimPrefix(endpoint, "/"), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	_, err = api.Do(ctx, req, out)
	return translate(method, err)
}

// Regions returns the regions currently accepting new droplets.
func (c *Client) Regions(ctx context.Context, token string) ([]Region, error) {
	api, err := c.api(token)
	if err != nil {
		return nil, err
	}
	regions, _, err := api.Regions.List(ctx, &godo.ListOptions{PerPage: perPage})
	if err := translate(http.MethodGet, err); err != nil {
		return nil, err
	}
	available := make([]Region, 0, len(regions))
	for _, r := range regions {
		if r.Available {
			available = append(available, regionFrom(r))
		}
	}
	return available, nil
}

// Sizes returns the sizes currently available for new droplets.
func (c *Client) Sizes(ctx context.Context, token string) ([]Size, error) {
	api, err := c.api(token)
	if err != nil {
		return nil, err
	}
	sizes, _, err := api.Sizes.List(ctx, &godo.ListOptions{PerPage: perPage})
	if err := translate(http.MethodGet, err); err != nil {
		return nil, err
	}
	available := make([]Size, 0, len(sizes))
	for _, s := range sizes {
		if s.Available {
			available = append(available, sizeFrom(s))
		}
	}
	return available, nil
}

// Images lists public images of the given type ("distribution" or "application").
func (c *Client) Images(ctx context.Context, token, imageType string) ([]Image, error) {
	api, err := c.api(token)
	if err != nil {
		return nil, err
	}
	opt := &godo.ListOptions{PerPage: perPage}
	var images []godo.Image
	if imageType == "application" {
		images, _, err = api.Images.ListApplication(ctx, opt)
	} else {
		images, _, err = api.Images.ListDistribution(ctx, opt)
	}
	if err := translate(http.MethodGet, err); err != nil {
		return nil, err
	}
	out := make([]Image, 0, len(images))
	for _, img := range images {
		out = append(out, imageFrom(img))
	}
	return out, nil
}

func (c *Client) CreateDroplet(ctx context.Context, token string, req *DropletCreateRequest) (*Droplet, error) {
	createReq, err := req.toGodo()
	if err != nil {
		return nil, err
	}
	api, err := c.api(token)
	if err != nil {
		return nil, err
	}
	d, _, err := api.Droplets.Create(ctx, createReq)
	if err := translate(http.MethodPost, err); err != nil {
		return nil, err
	}
	return dropletFrom(d), nil
}

func (c *Client) GetDroplet(ctx context.Context, token string, id int64) (*Droplet, error) {
	api, err := c.api(token)
	if err != nil {
		return nil, err
	}
	d, _, err := api.Droplets.Get(ctx, int(id))
	if err := translate(http.MethodGet, err); err != nil {
		return nil, err
	}
	return dropletFrom(d), nil
}

func (c *Client) DeleteDroplet(ctx context.Context, token string, id int64) error {
	api, err := c.api(token)
	if err != nil {
		return err
	}
	_, err = api.Droplets.Delete(ctx, int(id))
	return translate(http.MethodDelete, err)
}

// DropletAction forwards a power or lifecycle action (reboot, power_off, ...) verbatim.
// godo only exposes one method per known type, so the request is built directly.
func (c *Client) DropletAction(ctx context.Context, token string, id int64, actionType string) (*Action, error) {
	var resp struct {
		Action Action `json:"action"`
	}
	body := map[string]string{"type": actionType}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/droplets/%d/actions", id), token, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Action, nil
}

func (c *Client) Balance(ctx context.Context, token string) (json.RawMessage, error) {
	api, err := c.api(token)
	if err != nil {
		return nil, err
	}
	balance, _, err := api.Balance.Get(ctx)
	if err := translate(http.MethodGet, err); err != nil {
		return nil, err
	}
	return json.Marshal(balance)
}

func (c *Client) BillingHistory(ctx context.Context, token string) (json.RawMessage, error) {
	api, err := c.api(token)
	if err != nil {
		return nil, err
	}
	history, _, err := api.BillingHistory.List(ctx, &godo.ListOptions{PerPage: perPage})
	if err := translate(http.MethodGet, err); err != nil {
		return nil, err
	}
	return json.Marshal(history)
}

// Firewalls and CreateFirewall keep the rule lists as raw JSON, so they go through
// the untyped request path.
func (c *Client) Firewalls(ctx context.Context, token string) ([]Firewall, error) {
	var resp struct {
		Firewalls []Firewall `json:"firewalls"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/firewalls?per_page=%d", perPage), token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Firewalls, nil
}

func (c *Client) CreateFirewall(ctx context.Context, token string, fw *Firewall) (*Firewall, error) {
	var resp struct {
		Firewall Firewall `json:"firewall"`
	}
	if err := c.do(ctx, http.MethodPost, "/firewalls", token, fw, &resp); err != nil {
		return nil, err
	}
	return &resp.Firewall, nil
}

func (c *Client) DeleteFirewall(ctx context.Context, token, id string) error {
	api, err := c.api(token)
	if err != nil {
		return err
	}
	_, err = api.Firewalls.Delete(ctx, id)
	return translate(http.MethodDelete, err)
}
