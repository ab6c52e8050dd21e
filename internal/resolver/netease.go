package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tunepull/internal/core"
)

const neteaseBaseURL = "https://music.163.com"

// Netease resolves tracks against the NetEase Cloud Music web API. Every
// request body goes through the weapi encryption wrapper; responses are
// plain JSON.
type Netease struct {
	client *http.Client
	logger *zap.Logger
}

func NewNetease(proxyURL string, logger *zap.Logger) *Netease {
	return &Netease{
		client: newHTTPClient(proxyURL),
		logger: logger,
	}
}

func (n *Netease) Platform() core.Platform { return core.PlatformNetease }

// neteaseQualities lists the four service levels. Lossless and hi-res are
// served only to VIP accounts.
func neteaseQualities() []core.QualityDescriptor {
	return []core.QualityDescriptor{
		{Label: "standard", Codec: "mp3", Container: core.ContainerMP3, BitrateKbps: 128, Tier: core.TierStandard},
		{Label: "exhigh", Codec: "mp3", Container: core.ContainerMP3, BitrateKbps: 320, Tier: core.TierHigh},
		{Label: "lossless", Codec: "flac", Container: core.ContainerFLAC, BitrateKbps: 1411, Tier: core.TierLossless, RequiresEntitlement: true},
		{Label: "hires", Codec: "flac", Container: core.ContainerFLAC, BitrateKbps: 2304, Tier: core.TierHiRes, RequiresEntitlement: true},
	}
}

type neteaseSong struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Ar   []struct {
		Name string `json:"name"`
	} `json:"ar"`
	Al struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		PicURL string `json:"picUrl"`
	} `json:"al"`
	Dt          int64 `json:"dt"` // duration in milliseconds
	No          int   `json:"no"` // track number within the album
	CD          string `json:"cd"`
	PublishTime int64 `json:"publishTime"`
}

func (s *neteaseSong) metadata() *core.TrackMetadata {
	artists := make([]string, 0, len(s.Ar))
	for _, a := range s.Ar {
		if a.Name != "" {
			artists = append(artists, a.Name)
		}
	}
	meta := &core.TrackMetadata{
		ID:          strconv.FormatInt(s.ID, 10),
		Title:       s.Name,
		Artists:     artists,
		Album:       s.Al.Name,
		TrackNumber: s.No,
		Duration:    time.Duration(s.Dt) * time.Millisecond,
		CoverURL:    s.Al.PicURL,
	}
	if disc, err := strconv.Atoi(strings.TrimSpace(s.CD)); err == nil {
		meta.DiscNumber = disc
	}
	if s.PublishTime > 0 {
		meta.Year = time.UnixMilli(s.PublishTime).Year()
	}
	return meta
}

// Expand lists the track references behind a link.
func (n *Netease) Expand(ctx context.Context, link core.LinkDescriptor, creds core.CredentialContext) ([]core.TrackRef, string, error) {
	switch link.Kind {
	case core.KindTrack:
		meta, err := n.songDetail(ctx, link.ID, creds)
		if err != nil {
			return nil, "", err
		}
		return []core.TrackRef{{Platform: core.PlatformNetease, ID: link.ID, Position: 1}}, meta.Title, nil
	case core.KindAlbum:
		return n.expandAlbum(ctx, link.ID, creds)
	case core.KindPlaylist:
		return n.expandPlaylist(ctx, link.ID, creds)
	}
	return nil, "", &core.ResolutionError{Kind: core.ResolutionUnsupported, Cause: fmt.Sprintf("content kind %q", link.Kind)}
}

// ResolveTrack fetches full metadata, lyrics and the quality set for one track.
func (n *Netease) ResolveTrack(ctx context.Context, ref core.TrackRef, creds core.CredentialContext) (*core.TrackMetadata, []core.QualityDescriptor, error) {
	meta, err := n.songDetail(ctx, ref.ID, creds)
	if err != nil {
		return nil, nil, err
	}
	meta.TrackNumber = orDefault(meta.TrackNumber, ref.Position)

	// Lyrics are best-effort; a failed lookup never fails the track.
	if lrc, plain, lerr := n.lyrics(ctx, ref.ID, creds); lerr == nil {
		meta.SyncedLyrics = lrc
		meta.Lyrics = plain
	} else {
		n.logger.Debug("Lyrics lookup failed", zap.String("track", ref.ID), zap.Error(lerr))
	}

	return meta, neteaseQualities(), nil
}

// StreamRequest asks the player URL endpoint for a signed CDN link at the
// chosen service level.
func (n *Netease) StreamRequest(ctx context.Context, ref core.TrackRef, q core.QualityDescriptor, creds core.CredentialContext) (*core.AssetRequest, error) {
	id, err := strconv.ParseInt(ref.ID, 10, 64)
	if err != nil {
		return nil, &core.FetchError{Kind: core.FetchFatal, Cause: fmt.Sprintf("bad track id %q", ref.ID)}
	}

	payload := map[string]any{
		"ids":        []int64{id},
		"level":      q.Label,
		"encodeType": "flac",
		"csrf_token": "",
	}
	var out struct {
		Code int `json:"code"`
		Data []struct {
			URL  string `json:"url"`
			Size int64  `json:"size"`
			Type string `json:"type"`
			Br   int    `json:"br"`
		} `json:"data"`
	}
	if err := n.weapiPost(ctx, "/weapi/song/enhance/player/url/v1", payload, creds, &out); err != nil {
		return nil, err
	}
	if out.Code != 200 || len(out.Data) == 0 {
		return nil, &core.FetchError{Kind: core.FetchTransient, Cause: fmt.Sprintf("player url code %d", out.Code)}
	}
	if out.Data[0].URL == "" {
		// The service answers 200 with an empty URL when the level is gated
		// behind a missing entitlement.
		return nil, &core.FetchError{Kind: core.FetchQualityUnavailable,
			Cause: fmt.Sprintf("no url for level %s", q.Label)}
	}

	return &core.AssetRequest{
		URL: out.Data[0].URL,
		Header: map[string]string{
			"Referer": neteaseBaseURL + "/",
		},
		SupportsRange: true,
		Length:        out.Data[0].Size,
	}, nil
}

func (n *Netease) songDetail(ctx context.Context, id string, creds core.CredentialContext) (*core.TrackMetadata, error) {
	payload := map[string]any{
		"c":   fmt.Sprintf(`[{"id":%s}]`, id),
		"ids": fmt.Sprintf("[%s]", id),
	}
	var out struct {
		Code  int           `json:"code"`
		Songs []neteaseSong `json:"songs"`
	}
	if err := n.weapiPost(ctx, "/weapi/v3/song/detail", payload, creds, &out); err != nil {
		return nil, err
	}
	if out.Code != 200 {
		return nil, apiCodeError(out.Code)
	}
	if len(out.Songs) == 0 {
		return nil, &core.ResolutionError{Kind: core.ResolutionNotFound, Cause: fmt.Sprintf("track %s", id)}
	}
	return out.Songs[0].metadata(), nil
}

func (n *Netease) expandAlbum(ctx context.Context, id string, creds core.CredentialContext) ([]core.TrackRef, string, error) {
	payload := map[string]any{"csrf_token": ""}
	var out struct {
		Code  int `json:"code"`
		Album struct {
			Name string `json:"name"`
		} `json:"album"`
		Songs []neteaseSong `json:"songs"`
	}
	if err := n.weapiPost(ctx, "/weapi/v1/album/"+id, payload, creds, &out); err != nil {
		return nil, "", err
	}
	if out.Code != 200 {
		return nil, "", apiCodeError(out.Code)
	}
	if len(out.Songs) == 0 {
		return nil, "", &core.ResolutionError{Kind: core.ResolutionNotFound, Cause: fmt.Sprintf("album %s has no tracks", id)}
	}

	refs := make([]core.TrackRef, len(out.Songs))
	for i, s := range out.Songs {
		refs[i] = core.TrackRef{
			Platform: core.PlatformNetease,
			ID:       strconv.FormatInt(s.ID, 10),
			Position: i + 1,
		}
	}
	return refs, out.Album.Name, nil
}

func (n *Netease) expandPlaylist(ctx context.Context, id string, creds core.CredentialContext) ([]core.TrackRef, string, error) {
	payload := map[string]any{"id": id, "n": 1000, "csrf_token": ""}
	var out struct {
		Code     int `json:"code"`
		Playlist struct {
			Name   string `json:"name"`
			Tracks []struct {
				ID int64 `json:"id"`
			} `json:"tracks"`
			TrackIDs []struct {
				ID int64 `json:"id"`
			} `json:"trackIds"`
		} `json:"playlist"`
	}
	if err := n.weapiPost(ctx, "/weapi/v6/playlist/detail", payload, creds, &out); err != nil {
		return nil, "", err
	}
	if out.Code != 200 {
		return nil, "", apiCodeError(out.Code)
	}

	// Large playlists ship only trackIds; prefer the full track list when
	// present since both carry the declared order.
	ids := out.Playlist.Tracks
	if len(ids) == 0 {
		ids = out.Playlist.TrackIDs
	}
	if len(ids) == 0 {
		return nil, "", &core.ResolutionError{Kind: core.ResolutionNotFound, Cause: fmt.Sprintf("playlist %s is empty", id)}
	}

	refs := make([]core.TrackRef, len(ids))
	for i, t := range ids {
		refs[i] = core.TrackRef{
			Platform: core.PlatformNetease,
			ID:       strconv.FormatInt(t.ID, 10),
			Position: i + 1,
		}
	}
	return refs, out.Playlist.Name, nil
}

func (n *Netease) lyrics(ctx context.Context, id string, creds core.CredentialContext) (synced, plain string, err error) {
	payload := map[string]any{"id": id, "lv": -1, "tv": -1, "csrf_token": ""}
	var out struct {
		Code int `json:"code"`
		Lrc  struct {
			Lyric string `json:"lyric"`
		} `json:"lrc"`
	}
	if err := n.weapiPost(ctx, "/weapi/song/lyric", payload, creds, &out); err != nil {
		return "", "", err
	}
	if out.Code != 200 {
		return "", "", apiCodeError(out.Code)
	}
	return out.Lrc.Lyric, stripLRCTimestamps(out.Lrc.Lyric), nil
}

// weapiPost encrypts the payload, posts it as a form and decodes the JSON
// response into out.
func (n *Netease) weapiPost(ctx context.Context, path string, payload map[string]any, creds core.CredentialContext, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &core.ResolutionError{Kind: core.ResolutionTransient, Cause: err.Error()}
	}
	form, err := weapiEncrypt(body)
	if err != nil {
		return &core.ResolutionError{Kind: core.ResolutionTransient, Cause: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, neteaseBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return &core.ResolutionError{Kind: core.ResolutionTransient, Cause: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", neteaseBaseURL+"/")
	req.Header.Set("Origin", neteaseBaseURL)
	if cookie := creds.Cookie(core.PlatformNetease); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &core.ResolutionError{Kind: core.ResolutionTransient, Cause: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpStatusResolutionError(resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &core.ResolutionError{Kind: core.ResolutionTransient, Cause: err.Error()}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &core.ResolutionError{Kind: core.ResolutionTransient, Cause: fmt.Sprintf("bad response from %s: %v", path, err)}
	}
	return nil
}

// apiCodeError maps NetEase business codes to resolution error kinds.
func apiCodeError(code int) error {
	switch code {
	case 301:
		return &core.ResolutionError{Kind: core.ResolutionAuthRequired, Cause: fmt.Sprintf("api code %d", code)}
	case 404:
		return &core.ResolutionError{Kind: core.ResolutionNotFound, Cause: fmt.Sprintf("api code %d", code)}
	default:
		return &core.ResolutionError{Kind: core.ResolutionTransient, Cause: fmt.Sprintf("api code %d", code)}
	}
}

func httpStatusResolutionError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &core.ResolutionError{Kind: core.ResolutionAuthRequired, Cause: fmt.Sprintf("HTTP %d", code)}
	case code == http.StatusNotFound:
		return &core.ResolutionError{Kind: core.ResolutionNotFound, Cause: fmt.Sprintf("HTTP %d", code)}
	default:
		return &core.ResolutionError{Kind: core.ResolutionTransient, Cause: fmt.Sprintf("HTTP %d", code)}
	}
}

// stripLRCTimestamps flattens LRC lines to plain lyrics.
func stripLRCTimestamps(lrc string) string {
	if lrc == "" {
		return ""
	}
	var b strings.Builder
	for _, line := range strings.Split(lrc, "\n") {
		text := line
		for strings.HasPrefix(text, "[") {
			end := strings.Index(text, "]")
			if end < 0 {
				break
			}
			text = text[end+1:]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(text)
	}
	return b.String()
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
