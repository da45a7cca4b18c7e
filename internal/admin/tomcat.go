package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// ErrManager is returned when the Tomcat manager answers "FAIL".
var ErrManager = errors.New("tomcat manager")

// Webapp is one line of the manager's list command: path:state:sessions:name.
type Webapp struct {
	Path     string
	State    string
	Sessions string
	Name     string
}

func managerResult(data []byte) (string, error) {
	text := string(data)
	first, _, _ := strings.Cut(text, "\n")
	if !strings.HasPrefix(first, "OK") {
		return text, fmt.Errorf("%w: %s", ErrManager, strings.TrimSpace(first))
	}
	return text, nil
}

// TomcatList returns the deployed web applications.
func (c *Client) TomcatList(ctx context.Context) ([]Webapp, error) {
	data, err := c.get(ctx, "/manager/text/list")
	if err != nil {
		return nil, err
	}
	text, err := managerResult(data)
	if err != nil {
		return nil, err
	}
	var apps []Webapp
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Scan() // OK header
	for sc.Scan() {
		parts := strings.SplitN(strings.TrimSpace(sc.Text()), ":", 4)
		if len(parts) != 4 {
			continue
		}
		apps = append(apps, Webapp{Path: parts[0], State: parts[1], Sessions: parts[2], Name: parts[3]})
	}
	return apps, sc.Err()
}

// TomcatDeploy uploads warFile to context path, replacing an existing app.
func (c *Client) TomcatDeploy(ctx context.Context, path, warFile string) error {
	// #nosec G304
	war, err := os.ReadFile(warFile)
	if err != nil {
		return fmt.Errorf("read war: %w", err)
	}
	q := url.Values{"path": {path}, "update": {"true"}}
	_, data, err := c.do(ctx, http.MethodPut, "/manager/text/deploy?"+q.Encode(), bodyOf(war), "application/octet-stream")
	if err != nil {
		return err
	}
	_, err = managerResult(data)
	return err
}

// TomcatUndeploy removes the application at context path.
func (c *Client) TomcatUndeploy(ctx context.Context, path string) error {
	data, err := c.get(ctx, "/manager/text/undeploy?"+url.Values{"path": {path}}.Encode())
	if err != nil {
		return err
	}
	_, err = managerResult(data)
	return err
}
