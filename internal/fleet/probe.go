package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// StatusFetcher asks a node for its current status.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, node NodeRecord) (string, error)
}

// Prober answers whether a node's host is on the network at all.
type Prober interface {
	Reachable(ctx context.Context, node NodeRecord) bool
}

// HTTPFetcher issues GET {node}/status and keeps the last word, upper-cased.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) FetchStatus(ctx context.Context, node NodeRecord) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.Address()+"/status", nil)
	if err != nil {
		return "", err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status request to %s: %s", node.Name, resp.Status)
	}
	return ParseStatus(string(body))
}

// ParseStatus extracts the status word from a /status response body.
func ParseStatus(body string) (string, error) {
	words := strings.Fields(body)
	if len(words) == 0 {
		return "", errors.New("empty status response")
	}
	return cleanField(strings.ToUpper(words[len(words)-1])), nil
}

// TCPProber dials the node port. A refused connection still proves the host
// is up, it only means the node API is not listening.
type TCPProber struct {
	Timeout time.Duration
}

func (p TCPProber) Reachable(ctx context.Context, node NodeRecord) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", hostPort(node.IP, node.Port))
	if err == nil {
		conn.Close()
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
