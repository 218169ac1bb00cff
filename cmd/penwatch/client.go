package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hazyhaar/penwatch/horosafe"
	"github.com/hazyhaar/penwatch/penwatch"
)

// channelClient talks to a running penwatch over its HTTP channel.
type channelClient struct {
	base  string
	token string
	http  *http.Client
}

func (o *rootOptions) client() (*channelClient, error) {
	base := o.addr
	if base == "" {
		cfg, err := o.config()
		if err != nil {
			return nil, err
		}
		if cfg.Channel.Listen == "" {
			return nil, fmt.Errorf("no --addr and channel.listen is not set")
		}
		base = listenURL(cfg.Channel.Listen)
	}
	token := o.token
	if token == "" {
		token = os.Getenv("PENWATCH_TOKEN")
	}
	return &channelClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// listenURL turns a listen address into a URL reachable from this host.
func listenURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}

func (c *channelClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := horosafe.LimitedReadAll(resp.Body, 1<<20)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *channelClient) send(ctx context.Context, msg penwatch.Message, out any) error {
	return c.do(ctx, http.MethodPost, "/v1/message", msg, out)
}

func (c *channelClient) status(ctx context.Context) ([]penwatch.PageStatus, error) {
	var st []penwatch.PageStatus
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st)
	return st, err
}
