package detector

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultHTTPTimeout bounds a single readiness request.
const DefaultHTTPTimeout = 2 * time.Second

// HTTPDetector issues a GET against URL and reports ready on a 2xx answer.
// Connection failures mean "not ready yet".
type HTTPDetector struct {
	URL      string
	Timeout  time.Duration
	Username string
	Password string
	Client   *http.Client
}

func (d HTTPDetector) Alive() (bool, error) {
	req, err := http.NewRequest(http.MethodGet, d.URL, nil)
	if err != nil {
		return false, fmt.Errorf("http detector: %w", err)
	}
	if d.Username != "" {
		req.SetBasicAuth(d.Username, d.Password)
	}
	client := d.Client
	if client == nil {
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, nil
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (d HTTPDetector) Describe() string { return "http:" + d.URL }
