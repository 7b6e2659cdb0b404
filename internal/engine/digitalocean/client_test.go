package digitalocean

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestDo_SendsBearerToken(t *testing.T) {
	var gotAuth, gotPath, gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"ok":true}`))
	})

	data, err := c.Do(context.Background(), http.MethodPost, "/things", "dop_v1_token", map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer dop_v1_token", gotAuth)
	assert.Equal(t, "/v2/things", gotPath)
	assert.JSONEq(t, `{"a":"b"}`, gotBody)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestDo_NoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	data, err := c.Do(context.Background(), http.MethodDelete, "/droplets/1", "t", nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantAuth bool
		wantMsg  string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"id":"unauthorized","message":"Unable to authenticate you"}`, true, "Unable to authenticate you"},
		{"forbidden", http.StatusForbidden, `{"id":"forbidden","message":"You do not have access"}`, true, "You do not have access"},
		{"unprocessable", http.StatusUnprocessableEntity, `{"id":"unprocessable_entity","message":"Name is invalid"}`, false, "Name is invalid"},
		{"not found without body", http.StatusNotFound, ``, false, "Not Found"},
		{"server error html", http.StatusBadGateway, `<html>bad gateway</html>`, false, "Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.Do(context.Background(), http.MethodGet, "/account", "t", nil)
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantAuth, apiErr.IsAuthError)
			assert.Equal(t, tt.wantAuth, IsAuthError(err))
			assert.Equal(t, tt.wantMsg, apiErr.Message)
		})
	}
}

func TestDo_TransportErrorIsNotAPIError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	_, err := c.Do(context.Background(), http.MethodGet, "/account", "t", nil)
	require.Error(t, err)
	assert.False(t, IsAuthError(err))

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestRegionsAndSizes_FilterUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/regions":
			w.Write([]byte(`{"regions":[{"slug":"nyc1","available":true},{"slug":"ams2","available":false}]}`))
		case "/v2/sizes":
			w.Write([]byte(`{"sizes":[{"slug":"s-1vcpu-1gb","available":true},{"slug":"old","available":false}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	regions, err := c.Regions(context.Background(), "t")
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "nyc1", regions[0].Slug)

	sizes, err := c.Sizes(context.Background(), "t")
	require.NoError(t, err)
	require.Len(t, sizes, 1)
	assert.Equal(t, "s-1vcpu-1gb", sizes[0].Slug)
}

func TestImages_PassesType(t *testing.T) {
	var gotType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotType = r.URL.Query().Get("type")
		w.Write([]byte(`{"images":[{"id":1,"slug":"ubuntu-22-04-x64","type":"base"}]}`))
	})

	images, err := c.Images(context.Background(), "t", "application")
	require.NoError(t, err)
	assert.Equal(t, "application", gotType)
	require.Len(t, images, 1)
	assert.Equal(t, "ubuntu-22-04-x64", images[0].Slug)
}

func TestGetDroplet_PublicIPv4(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/droplets/42", r.URL.Path)
		w.Write([]byte(`{"droplet":{"id":42,"status":"active","networks":{"v4":[
			{"ip_address":"10.0.0.2","type":"private"},
			{"ip_address":"203.0.113.5","type":"public"}]}}}`))
	})

	d, err := c.GetDroplet(context.Background(), "t", 42)
	require.NoError(t, err)
	assert.Equal(t, "active", d.Status)
	assert.Equal(t, "203.0.113.5", d.PublicIPv4())

	empty := &Droplet{}
	assert.Equal(t, "", empty.PublicIPv4())
}

func TestDropletAction_ForwardsType(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/droplets/7/actions", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"action":{"id":99,"status":"in-progress","type":"reboot"}}`))
	})

	action, err := c.DropletAction(context.Background(), "t", 7, "reboot")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"reboot"}`, gotBody)
	assert.Equal(t, int64(99), action.ID)
}

func TestDeleteDroplet_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"id":"not_found","message":"The resource you were accessing could not be found."}`))
	})

	err := c.DeleteDroplet(context.Background(), "t", 1)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsAuthError(err))
}

func TestTypedCalls_UseCallerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"id":"unauthorized","message":"Unable to authenticate you","request_id":"req-1"}`))
			return
		}
		w.Write([]byte(`{"droplet":{"id":3,"status":"active"}}`))
	})

	d, err := c.GetDroplet(context.Background(), "good", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.ID)

	_, err = c.GetDroplet(context.Background(), "stale", 3)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "req-1", apiErr.RequestID)
}

func TestCreateDroplet_ImageReference(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/droplets", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"droplet":{"id":11,"name":"web","status":"new"}}`))
	})

	d, err := c.CreateDroplet(context.Background(), "t", &DropletCreateRequest{
		Name: "web", Region: "nyc1", Size: "s-1vcpu-1gb", Image: int64(12345), UserData: "#cloud-config",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), d.ID)
	assert.Equal(t, float64(12345), got["image"])
	assert.Equal(t, "#cloud-config", got["user_data"])

	d, err = c.CreateDroplet(context.Background(), "t", &DropletCreateRequest{Name: "web", Image: "ubuntu-22-04-x64"})
	require.NoError(t, err)
	assert.Equal(t, "ubuntu-22-04-x64", got["image"])

	_, err = c.CreateDroplet(context.Background(), "t", &DropletCreateRequest{Name: "web", Image: 1.5})
	assert.Error(t, err)
}
