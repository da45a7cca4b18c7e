package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// CoreStatus is the decoded STATUS answer of the core admin handler.
type CoreStatus struct {
	ResponseHeader struct {
		Status int `json:"status"`
		QTime  int `json:"QTime"`
	} `json:"responseHeader"`
	InitFailures map[string]string         `json:"initFailures"`
	Status       map[string]map[string]any `json:"status"`
}

// Loaded reports whether core appears in the status answer with a name.
func (s CoreStatus) Loaded(core string) bool {
	st, ok := s.Status[core]
	return ok && st["name"] != nil
}

func (c *Client) coreAdmin(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("wt", "json")
	return c.get(ctx, "/admin/cores?"+params.Encode())
}

// CoreStatus fetches the status of one core, or of all cores when core is empty.
func (c *Client) CoreStatus(ctx context.Context, core string) (CoreStatus, error) {
	params := url.Values{"action": {"STATUS"}}
	if core != "" {
		params.Set("core", core)
	}
	var st CoreStatus
	data, err := c.coreAdmin(ctx, params)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode core status: %w", err)
	}
	return st, nil
}

// ReloadCore reloads the configuration of core.
func (c *Client) ReloadCore(ctx context.Context, core string) error {
	_, err := c.coreAdmin(ctx, url.Values{"action": {"RELOAD"}, "core": {core}})
	return err
}

// CreateCore registers a new core backed by instanceDir.
func (c *Client) CreateCore(ctx context.Context, name, instanceDir string) error {
	params := url.Values{"action": {"CREATE"}, "name": {name}}
	if instanceDir != "" {
		params.Set("instanceDir", instanceDir)
	}
	_, err := c.coreAdmin(ctx, params)
	return err
}

// UnloadCore removes core from the running Solr.
func (c *Client) UnloadCore(ctx context.Context, core string) error {
	_, err := c.coreAdmin(ctx, url.Values{"action": {"UNLOAD"}, "core": {core}})
	return err
}

// Ping calls the ping handler of core and reports whether it answered OK.
func (c *Client) Ping(ctx context.Context, core string) (bool, error) {
	data, err := c.get(ctx, "/"+url.PathEscape(core)+"/admin/ping?wt=json")
	if err != nil {
		return false, err
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, fmt.Errorf("decode ping: %w", err)
	}
	return resp.Status == "OK", nil
}
