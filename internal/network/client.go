// Package network talks to the signage server and keeps the latest schedule
// fresh through a background poll loop.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pi-signage/internal/models"
)

const maxScheduleBytes = 4 << 20

// Client performs schedule and media requests against the signage server.
type Client struct {
	serverURL   string
	downloadURL string
	timeout     time.Duration
	http        *http.Client
	logger      zerolog.Logger
}

// NewClient builds a client. timeout bounds schedule requests only; media
// downloads run until they finish or their context ends.
func NewClient(serverURL, downloadURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		serverURL:   serverURL,
		downloadURL: downloadURL,
		timeout:     timeout,
		http:        &http.Client{},
		logger:      logger.With().Str("component", "signage_client").Logger(),
	}
}

// FetchSchedule asks the server for the schedule assigned to id.
func (c *Client) FetchSchedule(ctx context.Context, id Identity) (models.Schedule, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return models.Schedule{}, fmt.Errorf("%w: server url: %v", models.ErrServerUnreachable, err)
	}
	query := u.Query()
	query.Set("ipAddress", id.IPAddress)
	query.Set("macAddress", id.MACAddress)
	u.RawQuery = query.Encode()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.get(ctx, u.String())
	if err != nil {
		return models.Schedule{}, fmt.Errorf("fetch schedule: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScheduleBytes))
	if err != nil {
		return models.Schedule{}, fmt.Errorf("fetch schedule: %w: read body: %v", models.ErrServerUnreachable, err)
	}

	var sched models.Schedule
	if err := json.Unmarshal(body, &sched); err != nil {
		return models.Schedule{}, fmt.Errorf("fetch schedule: %w: %v", models.ErrParse, err)
	}
	c.logger.Debug().Int("entries", len(sched.MediaFiles)).Str("server_time", sched.ServerDateTime).Msg("schedule received")
	return sched, nil
}

// Fetch streams one media file into w.
func (c *Client) Fetch(ctx context.Context, fileName string, w io.Writer) error {
	resp, err := c.get(ctx, c.downloadURL+url.PathEscape(fileName))
	if err != nil {
		return fmt.Errorf("download %s: %w", fileName, err)
	}
	defer resp.Body.Close()

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("download %s: %w: %v", fileName, models.ErrServerUnreachable, err)
	}
	c.logger.Debug().Str("file", fileName).Int64("bytes", written).Msg("media downloaded")
	return nil
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", models.ErrServerUnreachable, err)
	}
	req.Close = true
	req.Header.Set("Connection", "close")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrServerUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrServerUnreachable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}
