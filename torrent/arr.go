package torrent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	cfgpkg "github.com/jkaberg/linkarr/config"
	"github.com/jkaberg/linkarr/media"
)

// Notifier is told about media items whose files were placed in the library.
type Notifier interface {
	Rescan(ctx context.Context, t media.Type, id int)
}

var _ Notifier = &ArrNotifier{}

// ArrNotifier asks Radarr or Sonarr to rescan a movie or series folder so
// linked files show up without waiting for the import.
type ArrNotifier struct {
	clients []*arrClient
	log     zerolog.Logger
}

func NewArrNotifier(instances []*cfgpkg.ArrInstance) *ArrNotifier {
	n := &ArrNotifier{
		log: log.Logger.With().Str("component", "arr").Logger(),
	}

	for _, inst := range instances {
		if inst == nil || inst.BaseURL == "" || inst.APIKey == "" {
			continue
		}

		httpc := &http.Client{Timeout: 15 * time.Second}
		if inst.Insecure {
			httpc.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
		}
		n.clients = append(n.clients, newArrClient(inst, httpc))
	}

	return n
}

func (n *ArrNotifier) Len() int {
	return len(n.clients)
}

func (n *ArrNotifier) Rescan(ctx context.Context, t media.Type, id int) {
	if id == 0 {
		return
	}

	for _, c := range n.clients {
		if !c.handles(t) {
			continue
		}

		if err := c.rescan(ctx, id); err != nil {
			n.log.Warn().Err(err).Str("instance", c.inst.Name).Int("media_id", id).Msg("error requesting rescan")
			continue
		}

		n.log.Info().Str("instance", c.inst.Name).Int("media_id", id).Msg("requested rescan")
	}
}

type arrClient struct {
	inst  *cfgpkg.ArrInstance
	httpc *http.Client
}

func newArrClient(inst *cfgpkg.ArrInstance, httpc *http.Client) *arrClient {
	return &arrClient{inst: inst, httpc: httpc}
}

func (c *arrClient) handles(t media.Type) bool {
	switch c.inst.Type {
	case cfgpkg.ArrRadarr:
		return t == media.TypeMovie
	case cfgpkg.ArrSonarr:
		return t == media.TypeSeries
	}
	return false
}

func (c *arrClient) base(prefix string) (string, error) {
	u, err := url.Parse(c.inst.BaseURL)
	if err != nil {
		return "", err
	}
	// ensure path join
	u.Path = path.Join(u.Path, prefix)
	return u.String(), nil
}

func (c *arrClient) doJSON(ctx context.Context, method, urlStr string, body any, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	var req *http.Request
	var err error
	if rd != nil {
		req, err = http.NewRequestWithContext(ctx, method, urlStr, rd)
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, urlStr, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.inst.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("arr http %s: %d", method, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *arrClient) rescan(ctx context.Context, id int) error {
	payload := map[string]any{}
	switch c.inst.Type {
	case cfgpkg.ArrRadarr:
		payload["name"] = "RescanMovie"
		payload["movieId"] = id
	case cfgpkg.ArrSonarr:
		payload["name"] = "RescanSeries"
		payload["seriesId"] = id
	default:
		return fmt.Errorf("unknown arr type %q", c.inst.Type)
	}

	u, err := c.base("/api/v3/command")
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, u, payload, nil)
}
