package admin

import (
	"context"
	"net/http"
	"strings"
)

// FedoraDescribe returns the repository description document.
func (c *Client) FedoraDescribe(ctx context.Context) (string, error) {
	data, err := c.get(ctx, "/describe?xml=true")
	return string(data), err
}

// FedoraPut stores body at path and returns the HTTP status.
func (c *Client) FedoraPut(ctx context.Context, path string, body []byte, contentType string) (int, error) {
	code, _, err := c.do(ctx, http.MethodPut, "/"+strings.TrimLeft(path, "/"), bodyOf(body), contentType)
	return code, err
}

// FedoraDelete removes the resource at path and returns the HTTP status.
func (c *Client) FedoraDelete(ctx context.Context, path string) (int, error) {
	code, _, err := c.do(ctx, http.MethodDelete, "/"+strings.TrimLeft(path, "/"), nil, "")
	return code, err
}
