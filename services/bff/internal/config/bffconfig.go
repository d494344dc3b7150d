package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	platformconfig "github.com/example/catalog-stream/internal/platform/config"
)

type TranslationConfig struct {
	APIURL     string
	APIToken   string
	Model      string
	SourceLang string
	TargetLang string
	Timeout    time.Duration
}

type BFFConfig struct {
	CatalogAPIURL     string
	CatalogRPS        int
	CatalogMaxRetries int
	CatalogRetryDelay time.Duration
	CatalogTimeout    time.Duration
	CatalogReferer    string

	// ImageBaseURL hosts full-size covers derived from thumbnail URLs.
	ImageBaseURL string

	CacheTTLSec            int
	CacheMaxEntries        int
	CacheInvalidateSubject string

	FanzaBaseURL string
	FanzaTimeout time.Duration

	Translation TranslationConfig

	RateLimitRPS   float64
	RateLimitBurst int

	CBMaxRequests      uint32
	CBInterval         time.Duration
	CBTimeout          time.Duration
	CBFailureThreshold uint32

	NATSURL string
}

func LoadBFF() (BFFConfig, error) {
	cfg := BFFConfig{
		CatalogAPIURL:          strings.TrimRight(platformconfig.EnvString("CATALOG_API_URL", "https://busapi.furey.top/api"), "/"),
		CatalogRPS:             platformconfig.EnvInt("CATALOG_RPS", 0),
		CatalogMaxRetries:      platformconfig.EnvInt("CATALOG_MAX_RETRIES", 2),
		CatalogRetryDelay:      platformconfig.EnvDuration("CATALOG_RETRY_DELAY", 500*time.Millisecond),
		CatalogTimeout:         platformconfig.EnvDuration("CATALOG_TIMEOUT", 10*time.Second),
		CatalogReferer:         platformconfig.EnvString("CATALOG_REFERER", "https://www.javbus.com/"),
		ImageBaseURL:           strings.TrimRight(platformconfig.EnvString("IMAGE_BASE_URL", "https://www.javbus.com"), "/"),
		CacheTTLSec:            platformconfig.EnvInt("CACHE_TTL_SEC", 60),
		CacheMaxEntries:        platformconfig.EnvInt("CACHE_MAX_ENTRIES", 10000),
		CacheInvalidateSubject: platformconfig.EnvString("CACHE_INVALIDATE_SUBJECT", "bff.cache.invalidate"),
		FanzaBaseURL:           strings.TrimRight(platformconfig.EnvString("FANZA_BASE_URL", "https://www.dmm.co.jp"), "/"),
		FanzaTimeout:           platformconfig.EnvDuration("FANZA_TIMEOUT", 10*time.Second),
		Translation: TranslationConfig{
			APIURL:     platformconfig.EnvString("TRANSLATION_API_URL", "https://api.siliconflow.cn/v1/chat/completions"),
			APIToken:   platformconfig.EnvString("TRANSLATION_API_TOKEN", ""),
			Model:      platformconfig.EnvString("TRANSLATION_MODEL", "THUDM/glm-4-9b-chat"),
			SourceLang: platformconfig.EnvString("TRANSLATION_SOURCE_LANG", "Japanese"),
			TargetLang: platformconfig.EnvString("TRANSLATION_TARGET_LANG", "Chinese"),
			Timeout:    platformconfig.EnvDuration("TRANSLATION_TIMEOUT", 60*time.Second),
		},
		RateLimitRPS:       platformconfig.EnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     platformconfig.EnvInt("RATE_LIMIT_BURST", 40),
		CBMaxRequests:      uint32(platformconfig.EnvInt("CB_MAX_REQUESTS", 5)),
		CBInterval:         platformconfig.EnvDuration("CB_INTERVAL", 60*time.Second),
		CBTimeout:          platformconfig.EnvDuration("CB_TIMEOUT", 30*time.Second),
		CBFailureThreshold: uint32(platformconfig.EnvInt("CB_FAILURE_THRESHOLD", 5)),
		NATSURL:            platformconfig.EnvString("NATS_URL", ""),
	}
	if err := requireHTTPURL("CATALOG_API_URL", cfg.CatalogAPIURL); err != nil {
		return BFFConfig{}, err
	}
	if err := requireHTTPURL("FANZA_BASE_URL", cfg.FanzaBaseURL); err != nil {
		return BFFConfig{}, err
	}
	if err := requireHTTPURL("IMAGE_BASE_URL", cfg.ImageBaseURL); err != nil {
		return BFFConfig{}, err
	}
	if cfg.CacheTTLSec <= 0 {
		return BFFConfig{}, errors.New("CACHE_TTL_SEC must be positive")
	}
	if cfg.CacheMaxEntries <= 0 {
		return BFFConfig{}, errors.New("CACHE_MAX_ENTRIES must be positive")
	}
	return cfg, nil
}

func requireHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
	}
	return nil
}
