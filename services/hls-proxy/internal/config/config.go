package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	platformconfig "github.com/example/catalog-stream/internal/platform/config"
)

type Config struct {
	platformconfig.AppConfig

	// Upstream locations.
	WatchURLPrefix string
	StreamHost     string
	PlaylistSuffix string
	UserAgent      string

	// PublicBaseURL prefixes rewritten references; empty keeps them relative.
	PublicBaseURL  string
	RewriteTagURIs bool

	LocateMaxAttempts int
	LocateRetryDelay  time.Duration
	MetadataTimeout   time.Duration
	MediaTimeout      time.Duration
	MaxManifestBytes  int64

	SigningSecret string
	SigningTTL    time.Duration

	LocateCacheTTL  time.Duration
	LocateCacheSize int
	RedisURL        string

	CBMaxRequests      uint32
	CBInterval         time.Duration
	CBTimeout          time.Duration
	CBFailureThreshold uint32

	NATSURL         string
	LogObfuscateURL bool
}

func Load() (Config, error) {
	app, err := platformconfig.Load()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		AppConfig:          app,
		WatchURLPrefix:     strings.TrimRight(platformconfig.EnvString("WATCH_URL_PREFIX", "https://missav.ai"), "/"),
		StreamHost:         platformconfig.EnvString("STREAM_HOST", "https://surrit.com/"),
		PlaylistSuffix:     platformconfig.EnvString("PLAYLIST_SUFFIX", "/playlist.m3u8"),
		UserAgent:          platformconfig.EnvString("UPSTREAM_USER_AGENT", ""),
		PublicBaseURL:      strings.TrimRight(platformconfig.EnvString("PUBLIC_BASE_URL", ""), "/"),
		RewriteTagURIs:     platformconfig.EnvBool("REWRITE_TAG_URIS", true),
		LocateMaxAttempts:  platformconfig.EnvInt("LOCATE_MAX_ATTEMPTS", 3),
		LocateRetryDelay:   platformconfig.EnvDuration("LOCATE_RETRY_DELAY", 2*time.Second),
		MetadataTimeout:    platformconfig.EnvDuration("METADATA_TIMEOUT", 10*time.Second),
		MediaTimeout:       platformconfig.EnvDuration("MEDIA_TIMEOUT", 30*time.Second),
		MaxManifestBytes:   int64(platformconfig.EnvInt("MAX_MANIFEST_BYTES", 8<<20)),
		SigningSecret:      platformconfig.EnvString("PROXY_SIGNING_SECRET", ""),
		SigningTTL:         platformconfig.EnvDuration("PROXY_SIGNING_TTL", 6*time.Hour),
		LocateCacheTTL:     platformconfig.EnvDuration("LOCATE_CACHE_TTL", 0),
		LocateCacheSize:    platformconfig.EnvInt("LOCATE_CACHE_SIZE", 10_000),
		RedisURL:           platformconfig.EnvString("REDIS_URL", ""),
		CBMaxRequests:      uint32(platformconfig.EnvInt("CB_MAX_REQUESTS", 5)),
		CBInterval:         platformconfig.EnvDuration("CB_INTERVAL", 60*time.Second),
		CBTimeout:          platformconfig.EnvDuration("CB_TIMEOUT", 30*time.Second),
		CBFailureThreshold: uint32(platformconfig.EnvInt("CB_FAILURE_THRESHOLD", 5)),
		NATSURL:            platformconfig.EnvString("NATS_URL", ""),
		LogObfuscateURL:    platformconfig.EnvBool("LOG_OBFUSCATE_URLS", false),
	}
	if !strings.HasSuffix(cfg.StreamHost, "/") {
		cfg.StreamHost += "/"
	}
	for name, raw := range map[string]string{"WATCH_URL_PREFIX": cfg.WatchURLPrefix, "STREAM_HOST": cfg.StreamHost} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return Config{}, errors.New(name + " must be an absolute http(s) URL")
		}
	}
	if cfg.LocateMaxAttempts < 1 {
		cfg.LocateMaxAttempts = 1
	}
	return cfg, nil
}

// CacheEnabled reports whether located references are cached.
func (c Config) CacheEnabled() bool {
	return c.LocateCacheTTL > 0
}
