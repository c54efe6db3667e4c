package resendhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/TrackMail/internal/integrations/mailer"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://api.resend.com"

type Client struct {
	baseURL string
	apiKey  string
	msg     mailer.Message
	httpc   *http.Client
}

func New(baseURL, apiKey string, msg mailer.Message) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		msg:     msg,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendReq struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendResp struct {
	ID string `json:"id"`
}

type errResp struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (c *Client) Send(ctx context.Context, recipients []string, trackingID string) error {
	if c.apiKey == "" {
		return errors.New("resend api key is not configured")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = "/emails"

	body, err := json.Marshal(sendReq{
		From:    c.msg.FromAddress(),
		To:      recipients,
		Subject: c.msg.SubjectLine(),
		HTML:    c.msg.HTML(trackingID),
	})
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var er errResp
		if json.Unmarshal(raw, &er) == nil && er.Message != "" {
			return fmt.Errorf("resend http %d: %s", resp.StatusCode, er.Message)
		}
		return fmt.Errorf("resend http %d", resp.StatusCode)
	}

	var sr sendResp
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return errors.Wrap(err, "decode")
	}
	if sr.ID == "" {
		return errors.New("resend returned empty message id")
	}
	return nil
}
