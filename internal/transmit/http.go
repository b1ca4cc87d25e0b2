package transmit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// FatalHeader marks a node response sent after its role refused to stop.
// The node is restarting; sending the message again would only repeat the
// forced stop.
const FatalHeader = "X-Escapewright-Fatal"

// ErrNodeFatal is returned, never retried, when a node answers with FatalHeader.
var ErrNodeFatal = errors.New("node reported a fatal error")

// HTTPSender posts messages to the control API and node APIs:
//
//	trigger  POST {control}/trigger/{event}
//	status   POST {control}/update_status/{name}/{status}
//	relay    POST {node}/relay/{message}
type HTTPSender struct {
	ControlURL string
	Client     *http.Client
}

func NewHTTPSender(controlURL string) *HTTPSender {
	return &HTTPSender{
		ControlURL: strings.TrimSuffix(controlURL, "/"),
		Client:     &http.Client{},
	}
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	u, err := s.url(msg)
	if err != nil {
		return Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return Permanent(err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.Header.Get(FatalHeader) != "":
		return Permanent(fmt.Errorf("%w: %s: %s", ErrNodeFatal, msg.Target, strings.TrimSpace(string(body))))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: %s", u, resp.Status)
	case resp.StatusCode >= 400:
		return Permanent(fmt.Errorf("%s: %s", u, resp.Status))
	}
	return nil
}

func (s *HTTPSender) url(msg Message) (string, error) {
	switch msg.Kind {
	case KindTrigger:
		if s.ControlURL == "" {
			return "", fmt.Errorf("no control url configured")
		}
		return s.ControlURL + "/trigger/" + url.PathEscape(msg.Body), nil
	case KindStatus:
		if s.ControlURL == "" {
			return "", fmt.Errorf("no control url configured")
		}
		return s.ControlURL + "/update_status/" + url.PathEscape(msg.Source) + "/" + url.PathEscape(msg.Body), nil
	case KindRelay:
		if msg.Address == "" {
			return "", fmt.Errorf("no address for node %s", msg.Target)
		}
		return strings.TrimSuffix(msg.Address, "/") + "/relay/" + url.PathEscape(msg.Body), nil
	}
	return "", fmt.Errorf("unknown message kind %q", msg.Kind)
}
