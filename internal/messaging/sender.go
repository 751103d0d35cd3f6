// Package messaging delivers outbound text to a user's channel address.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sender is the outbound half of the messaging channel. A nil error is an ack.
type Sender interface {
	Send(ctx context.Context, address, text string) error
}

// HTTPChannel posts messages to a channel gateway.
type HTTPChannel struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewHTTPChannel(url, token string) *HTTPChannel {
	return &HTTPChannel{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

type outboundReq struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (c *HTTPChannel) Send(ctx context.Context, address, text string) error {
	if c.Client == nil {
		return errors.New("channel: http client is nil")
	}
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("channel: url is required")
	}

	b, err := json.Marshal(outboundReq{To: address, Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("channel: %s", msg)
	}
	return nil
}
