// Command avatarfetch is an extension plugin: when a buddy's icon_hash
// changes, it fetches the buddy's avatar image over HTTP and reports it
// back to the gateway for vCard-temp publishing. Avatar retrieval runs as
// an out-of-process plugin rather than inline in the gateway core, since
// it is peripheral to envelope translation and has its own failure modes
// (slow or unreachable avatar hosts) that shouldn't block the dispatch
// loop.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nyxbridge/xmppgw/internal/extension"
)

const avatarFetchTimeout = 60 * time.Second

// avatarFetchPlugin turns a BUDDY_CHANGED icon_hash change into a fetched
// image, reported back through extension.AvatarAPI.
type avatarFetchPlugin struct {
	api     extension.API
	client  *http.Client
	unsub   func()
	running bool
}

func (p *avatarFetchPlugin) Name() string        { return "avatarfetch" }
func (p *avatarFetchPlugin) Version() string      { return "1.0.0" }
func (p *avatarFetchPlugin) Description() string  { return "Fetch buddy avatars on icon_hash change" }

func (p *avatarFetchPlugin) Init(ctx context.Context, api extension.API) error {
	p.api = api
	p.client = &http.Client{Timeout: avatarFetchTimeout}
	return nil
}

func (p *avatarFetchPlugin) Start() error {
	if p.running {
		return nil
	}
	p.unsub = p.api.OnAvatarChanged(func(event extension.AvatarChangedEvent) {
		go p.fetch(event)
	})
	p.running = true
	return nil
}

func (p *avatarFetchPlugin) Stop() error {
	if !p.running {
		return nil
	}
	if p.unsub != nil {
		p.unsub()
		p.unsub = nil
	}
	p.running = false
	return nil
}

// fetch retrieves the avatar image at the legacy network's per-buddy
// avatar URL convention and reports it to the host. A non-2xx response or a
// transport error is dropped silently: a missed avatar update is not fatal
// and the next icon_hash change will retry.
func (p *avatarFetchPlugin) fetch(event extension.AvatarChangedEvent) {
	url := avatarURL(event.BuddyName, event.IconHash)

	resp, err := p.client.Get(url)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil || len(data) == 0 {
		return
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/png"
	}

	_ = p.api.PublishAvatar(event.BuddyName, event.IconHash, data, mimeType)
}

// avatarURL builds the legacy network's avatar retrieval URL. The exact host
// is deployment-specific; this mirrors httprequest.h's async-fetch contract
// of addressing an avatar by buddy name and hash.
func avatarURL(buddyName, iconHash string) string {
	return fmt.Sprintf("https://avatars.invalid/%s/%s", buddyName, iconHash)
}

func main() {
	// main does not start a go-plugin server: it returns at once, so the
	// avatarFetchPlugin above is never served to the gateway's extension
	// host (see internal/extension/host.go for its handshake and plugin map).
}
