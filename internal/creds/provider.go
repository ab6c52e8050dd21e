// Package creds manages the process-wide credential context: per-platform
// session cookies, proxy settings and entitlement flags. Jobs read immutable
// snapshots; the backing material refreshes only between jobs.
package creds

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"tunepull/internal/core"
)

// Provider loads cookie material from config values or files and serves
// copy-on-read snapshots. Cookie files are re-read on change (fsnotify) and
// on explicit Refresh after an auth expiry.
type Provider struct {
	config  *core.Config
	logger  *zap.Logger
	mutex   sync.RWMutex
	current core.CredentialContext
	watcher *fsnotify.Watcher
}

func NewProvider(config *core.Config, logger *zap.Logger) (*Provider, error) {
	p := &Provider{
		config: config,
		logger: logger,
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Snapshot returns a deep copy of the current credential context. The copy
// is immutable from the provider's perspective; a job holding it sees a
// consistent view for its full lifetime.
func (p *Provider) Snapshot() core.CredentialContext {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	cp := core.CredentialContext{
		ProxyURL:       p.current.ProxyURL,
		MediaUserToken: p.current.MediaUserToken,
		Cookies:        make(map[core.Platform]string, len(p.current.Cookies)),
		Entitlements:   make(map[core.Platform]bool, len(p.current.Entitlements)),
	}
	for k, v := range p.current.Cookies {
		cp.Cookies[k] = v
	}
	for k, v := range p.current.Entitlements {
		cp.Entitlements[k] = v
	}
	return cp
}

// Refresh re-reads the backing cookie material. Called by the pipeline after
// an AuthExpired fetch failure.
func (p *Provider) Refresh(_ context.Context) error {
	return p.reload()
}

// Watch re-reads cookie files whenever they change on disk, until ctx ends.
func (p *Provider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating credential watcher: %w", err)
	}
	p.watcher = watcher

	for _, path := range p.watchedFiles() {
		if err := watcher.Add(path); err != nil {
			p.logger.Warn("Cannot watch cookie file", zap.String("path", path), zap.Error(err))
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				p.logger.Info("Cookie file changed, reloading credentials",
					zap.String("path", event.Name))
				if err := p.reload(); err != nil {
					p.logger.Error("Credential reload failed", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("Credential watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (p *Provider) watchedFiles() []string {
	var out []string
	for _, f := range []string{p.config.Netease.CookiesFile, p.config.Apple.CookiesFile, p.config.YouTube.CookiesFile} {
		if f != "" {
			if _, err := os.Stat(f); err == nil {
				out = append(out, f)
			}
		}
	}
	return out
}

func (p *Provider) reload() error {
	next := core.CredentialContext{
		ProxyURL:       p.config.App.ProxyURL,
		MediaUserToken: p.config.Apple.MediaUserToken,
		Cookies:        make(map[core.Platform]string),
		Entitlements: map[core.Platform]bool{
			core.PlatformNetease:      p.config.Netease.VIP,
			core.PlatformAppleMusic:   p.config.Apple.Subscribed,
			core.PlatformYouTubeMusic: p.config.YouTube.Premium,
		},
	}

	netease, err := loadCookieSource(p.config.Netease.Cookies, p.config.Netease.CookiesFile)
	if err != nil {
		return fmt.Errorf("loading netease cookies: %w", err)
	}
	next.Cookies[core.PlatformNetease] = netease

	apple, err := loadCookieSource(p.config.Apple.Cookies, p.config.Apple.CookiesFile)
	if err != nil {
		return fmt.Errorf("loading apple music cookies: %w", err)
	}
	next.Cookies[core.PlatformAppleMusic] = apple

	youtube, err := loadCookieSource("", p.config.YouTube.CookiesFile)
	if err != nil {
		return fmt.Errorf("loading youtube cookies: %w", err)
	}
	next.Cookies[core.PlatformYouTubeMusic] = youtube

	p.mutex.Lock()
	p.current = next
	p.mutex.Unlock()

	if p.logger != nil {
		p.logger.Debug("Credential context loaded",
			zap.Bool("netease", netease != ""),
			zap.Bool("apple", apple != ""),
			zap.Bool("youtube", youtube != ""))
	}
	return nil
}

// loadCookieSource prefers the inline config value and falls back to a
// cookie file. A missing file is not an error; platforms degrade to their
// anonymous tiers without a session.
func loadCookieSource(inline, file string) (string, error) {
	if inline != "" {
		return strings.TrimSpace(inline), nil
	}
	if file == "" {
		return "", nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
