package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tunepull/internal/core"
)

const (
	appleWebURL       = "https://music.apple.com"
	appleAPIBaseURL   = "https://amp-api.music.apple.com"
	appleWebPlayback  = "https://play.itunes.apple.com/WebObjects/MZPlay.woa/wa/webPlayback"
	appleTokenTTL     = 6 * time.Hour
	defaultStorefront = "us"
)

var (
	appleBundleRe = regexp.MustCompile(`/assets/index-[^"]+\.js`)
	appleTokenRe  = regexp.MustCompile(`eyJh[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`)
	ttmlTagRe     = regexp.MustCompile(`<[^>]+>`)
	ttmlLineRe    = regexp.MustCompile(`(?s)<p[^>]*\bbegin="([^"]+)"[^>]*>(.*?)</p>`)
)

// AppleMusic resolves tracks through the Apple Music web catalog. The bearer
// token is scraped from the web player's JS bundle and cached; asset URLs
// come from the webplayback exchange, which needs a subscribed session.
type AppleMusic struct {
	client     *http.Client
	logger     *zap.Logger
	storefront string

	tokenMu    sync.Mutex
	token      string
	tokenUntil time.Time
}

func NewAppleMusic(storefront, proxyURL string, logger *zap.Logger) *AppleMusic {
	if storefront == "" {
		storefront = defaultStorefront
	}
	return &AppleMusic{
		client:     newHTTPClient(proxyURL),
		logger:     logger,
		storefront: storefront,
	}
}

func (a *AppleMusic) Platform() core.Platform { return core.PlatformAppleMusic }

// appleQualities lists the renditions the webplayback exchange can serve.
// Everything beyond the base AAC rendition needs an active subscription.
func appleQualities() []core.QualityDescriptor {
	return []core.QualityDescriptor{
		{Label: "aac-128", Codec: "aac", Container: core.ContainerM4A, BitrateKbps: 128, Tier: core.TierStandard},
		{Label: "aac-256", Codec: "aac", Container: core.ContainerM4A, BitrateKbps: 256, Tier: core.TierHigh, RequiresEntitlement: true},
		{Label: "alac", Codec: "alac", Container: core.ContainerM4A, BitrateKbps: 1411, Tier: core.TierLossless, RequiresEntitlement: true},
	}
}

// webplayback flavor codes per rendition label.
var appleFlavors = map[string]string{
	"aac-128": "18:ctrp64",
	"aac-256": "28:ctrp256",
	"alac":    "28:ctrp256", // lossless falls back to the top AAC flavor
}

type appleSongAttributes struct {
	Name             string `json:"name"`
	ArtistName       string `json:"artistName"`
	AlbumName        string `json:"albumName"`
	ComposerName     string `json:"composerName"`
	GenreNames       []string `json:"genreNames"`
	TrackNumber      int    `json:"trackNumber"`
	DiscNumber       int    `json:"discNumber"`
	ReleaseDate      string `json:"releaseDate"`
	DurationInMillis int64  `json:"durationInMillis"`
	Artwork          struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"artwork"`
}

type appleResource struct {
	ID            string              `json:"id"`
	Attributes    appleSongAttributes `json:"attributes"`
	Relationships struct {
		Tracks struct {
			Data []appleResource `json:"data"`
		} `json:"tracks"`
		Lyrics struct {
			Data []struct {
				Attributes struct {
					TTML string `json:"ttml"`
				} `json:"attributes"`
			} `json:"data"`
		} `json:"lyrics"`
	} `json:"relationships"`
}

func (r *appleResource) metadata(region string) *core.TrackMetadata {
	at := r.Attributes
	meta := &core.TrackMetadata{
		ID:          r.ID,
		Title:       at.Name,
		Artists:     splitAppleArtists(at.ArtistName),
		Album:       at.AlbumName,
		Composer:    at.ComposerName,
		TrackNumber: at.TrackNumber,
		DiscNumber:  at.DiscNumber,
		Duration:    time.Duration(at.DurationInMillis) * time.Millisecond,
		CoverURL:    appleArtworkURL(at.Artwork.URL),
	}
	if len(at.GenreNames) > 0 {
		meta.Genre = at.GenreNames[0]
	}
	if len(at.ReleaseDate) >= 4 {
		fmt.Sscanf(at.ReleaseDate[:4], "%d", &meta.Year)
	}
	for _, l := range r.Relationships.Lyrics.Data {
		if l.Attributes.TTML != "" {
			meta.Lyrics = ttmlToPlain(l.Attributes.TTML)
			meta.SyncedLyrics = ttmlToLRC(l.Attributes.TTML)
			break
		}
	}
	return meta
}

// Expand lists the tracks behind a link in catalog order.
func (a *AppleMusic) Expand(ctx context.Context, link core.LinkDescriptor, creds core.CredentialContext) ([]core.TrackRef, string, error) {
	region := link.Region
	if region == "" {
		region = a.storefront
	}

	switch link.Kind {
	case core.KindTrack:
		res, err := a.catalog(ctx, region, "songs/"+link.ID, creds)
		if err != nil {
			return nil, "", err
		}
		return []core.TrackRef{{Platform: core.PlatformAppleMusic, ID: link.ID, Region: region, Position: 1}},
			res.Attributes.Name, nil

	case core.KindAlbum, core.KindPlaylist:
		path := "albums/" + link.ID
		if link.Kind == core.KindPlaylist {
			path = "playlists/" + link.ID
		}
		res, err := a.catalog(ctx, region, path, creds)
		if err != nil {
			return nil, "", err
		}
		tracks := res.Relationships.Tracks.Data
		if len(tracks) == 0 {
			return nil, "", &core.ResolutionError{Kind: core.ResolutionNotFound,
				Cause: fmt.Sprintf("%s %s has no tracks", link.Kind, link.ID)}
		}
		refs := make([]core.TrackRef, len(tracks))
		for i, t := range tracks {
			refs[i] = core.TrackRef{Platform: core.PlatformAppleMusic, ID: t.ID, Region: region, Position: i + 1}
		}
		return refs, res.Attributes.Name, nil
	}
	return nil, "", &core.ResolutionError{Kind: core.ResolutionUnsupported, Cause: fmt.Sprintf("content kind %q", link.Kind)}
}

// ResolveTrack fetches catalog metadata including lyrics.
func (a *AppleMusic) ResolveTrack(ctx context.Context, ref core.TrackRef, creds core.CredentialContext) (*core.TrackMetadata, []core.QualityDescriptor, error) {
	region := ref.Region
	if region == "" {
		region = a.storefront
	}
	res, err := a.catalog(ctx, region, "songs/"+ref.ID+"?include=lyrics", creds)
	if err != nil {
		return nil, nil, err
	}
	meta := res.metadata(region)
	meta.TrackNumber = orDefault(meta.TrackNumber, ref.Position)
	return meta, appleQualities(), nil
}

// StreamRequest performs the webplayback exchange for a signed asset URL.
func (a *AppleMusic) StreamRequest(ctx context.Context, ref core.TrackRef, q core.QualityDescriptor, creds core.CredentialContext) (*core.AssetRequest, error) {
	token, err := a.bearerToken(ctx)
	if err != nil {
		return nil, err
	}
	if creds.MediaUserToken == "" {
		return nil, &core.FetchError{Kind: core.FetchAuthExpired, Cause: "no media user token configured"}
	}

	body, _ := json.Marshal(map[string]string{"salableAdamId": ref.ID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, appleWebPlayback, bytes.NewReader(body))
	if err != nil {
		return nil, &core.FetchError{Kind: core.FetchFatal, Cause: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Origin", appleWebURL)
	req.Header.Set("Media-User-Token", creds.MediaUserToken)
	if cookie := creds.Cookie(core.PlatformAppleMusic); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &core.FetchError{Kind: core.FetchTransient, Cause: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fetchStatusError(resp.StatusCode)
	}

	var out struct {
		SongList []struct {
			Assets []struct {
				Flavor string `json:"flavor"`
				URL    string `json:"URL"`
				Size   int64  `json:"file-size"`
			} `json:"assets"`
		} `json:"songList"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &core.FetchError{Kind: core.FetchTransient, Cause: fmt.Sprintf("bad webplayback response: %v", err)}
	}
	if len(out.SongList) == 0 || len(out.SongList[0].Assets) == 0 {
		return nil, &core.FetchError{Kind: core.FetchQualityUnavailable, Cause: "webplayback returned no assets"}
	}

	wanted := appleFlavors[q.Label]
	assets := out.SongList[0].Assets
	for _, asset := range assets {
		if asset.Flavor == wanted {
			return &core.AssetRequest{URL: asset.URL, SupportsRange: true, Length: asset.Size}, nil
		}
	}
	// Fall back to whatever flavor the exchange offered.
	return &core.AssetRequest{URL: assets[0].URL, SupportsRange: true, Length: assets[0].Size}, nil
}

// catalog performs an amp-api catalog lookup for one resource.
func (a *AppleMusic) catalog(ctx context.Context, region, path string, creds core.CredentialContext) (*appleResource, error) {
	token, err := a.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/catalog/%s/%s", appleAPIBaseURL, region, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &core.ResolutionError{Kind: core.ResolutionTransient, Cause: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Origin", appleWebURL)
	if creds.MediaUserToken != "" {
		req.Header.Set("Media-User-Token", creds.MediaUserToken)
	}
	if cookie := creds.Cookie(core.PlatformAppleMusic); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &core.ResolutionError{Kind: core.ResolutionTransient, Cause: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusResolutionError(resp.StatusCode)
	}

	var out struct {
		Data []appleResource `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &core.ResolutionError{Kind: core.ResolutionTransient, Cause: fmt.Sprintf("bad catalog response: %v", err)}
	}
	if len(out.Data) == 0 {
		return nil, &core.ResolutionError{Kind: core.ResolutionNotFound, Cause: path}
	}
	return &out.Data[0], nil
}

// bearerToken returns the cached web player token, scraping a fresh one from
// the JS bundle when missing or stale.
func (a *AppleMusic) bearerToken(ctx context.Context) (string, error) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()

	if a.token != "" && time.Now().Before(a.tokenUntil) {
		return a.token, nil
	}

	home, err := a.fetchText(ctx, appleWebURL)
	if err != nil {
		return "", err
	}
	bundlePath := appleBundleRe.FindString(home)
	if bundlePath == "" {
		return "", &core.ResolutionError{Kind: core.ResolutionTransient, Cause: "web player bundle not found"}
	}

	bundle, err := a.fetchText(ctx, appleWebURL+bundlePath)
	if err != nil {
		return "", err
	}
	token := appleTokenRe.FindString(bundle)
	if token == "" {
		return "", &core.ResolutionError{Kind: core.ResolutionTransient, Cause: "bearer token not found in bundle"}
	}

	a.token = token
	a.tokenUntil = time.Now().Add(appleTokenTTL)
	a.logger.Debug("Refreshed web player token")
	return token, nil
}

func (a *AppleMusic) fetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &core.ResolutionError{Kind: core.ResolutionTransient, Cause: err.Error()}
	}
	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &core.ResolutionError{Kind: core.ResolutionTransient, Cause: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", httpStatusResolutionError(resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &core.ResolutionError{Kind: core.ResolutionTransient, Cause: err.Error()}
	}
	return string(data), nil
}

// appleArtworkURL resolves the artwork template to a concrete size.
func appleArtworkURL(template string) string {
	if template == "" {
		return ""
	}
	url := strings.ReplaceAll(template, "{w}", "1200")
	return strings.ReplaceAll(url, "{h}", "1200")
}

func splitAppleArtists(name string) []string {
	if name == "" {
		return nil
	}
	parts := strings.Split(name, " & ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ttmlToPlain strips TTML markup down to lyric lines.
func ttmlToPlain(ttml string) string {
	text := strings.ReplaceAll(ttml, "</p>", "\n")
	text = ttmlTagRe.ReplaceAllString(text, "")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// ttmlToLRC converts timed TTML paragraphs into LRC lines. Paragraphs
// without a parseable begin attribute are skipped; an empty result means the
// document carried no usable timings.
func ttmlToLRC(ttml string) string {
	var lines []string
	for _, m := range ttmlLineRe.FindAllStringSubmatch(ttml, -1) {
		offset, ok := parseTTMLTime(m[1])
		if !ok {
			continue
		}
		text := strings.TrimSpace(ttmlTagRe.ReplaceAllString(m[2], ""))
		if text == "" {
			continue
		}
		centis := offset.Milliseconds() / 10
		lines = append(lines, fmt.Sprintf("[%02d:%02d.%02d]%s",
			centis/6000, (centis/100)%60, centis%100, text))
	}
	return strings.Join(lines, "\n")
}

// parseTTMLTime accepts the clock forms TTML uses for begin attributes:
// "12.5s", "ss.fff", "mm:ss.fff" and "hh:mm:ss.fff".
func parseTTMLTime(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "s") {
		s = strings.TrimSuffix(s, "s")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, false
		}
		total = total*60 + v
	}
	return time.Duration(total * float64(time.Second)), true
}
