package syncx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Poster delivers one published grade message.
type Poster interface {
	Post(ctx context.Context, body []byte) error
}

type PosterConfig struct {
	URL string
	// Token is sent as a static bearer token when TokenURL is empty.
	Token        string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// HTTPPoster POSTs JSON to a transcript webhook.
type HTTPPoster struct {
	url   string
	token string
	http  *http.Client
}

func NewHTTPPoster(cfg PosterConfig) *HTTPPoster {
	var h *http.Client
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		h = cc.Client(context.Background())
	} else {
		h = &http.Client{}
	}
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}
	p := &HTTPPoster{url: cfg.URL, http: h}
	if cfg.TokenURL == "" {
		p.token = cfg.Token
	}
	return p
}

func (p *HTTPPoster) Post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	res, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("post grade: %s", res.Status)
	}
	return nil
}
