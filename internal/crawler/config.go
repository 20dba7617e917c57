package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// CrawlConfig bounds a single crawl job. It is validated once at job creation
// and treated as immutable afterwards.
type CrawlConfig struct {
	MaxPages             int      `json:"max_pages" mapstructure:"max_pages" validate:"min=1,max=10000"`
	MaxDepth             int      `json:"max_depth" mapstructure:"max_depth" validate:"min=1,max=50"`
	IncludePatterns      []string `json:"include_patterns" mapstructure:"include_patterns"`
	ExcludePatterns      []string `json:"exclude_patterns" mapstructure:"exclude_patterns"`
	RespectRobots        bool     `json:"respect_robots_txt" mapstructure:"respect_robots_txt"`
	DelayBetweenRequests float64  `json:"delay_between_requests" mapstructure:"delay_between_requests" validate:"gte=0.1,lte=10"`
	Timeout              int      `json:"timeout" mapstructure:"timeout" validate:"min=5,max=120"`
	FollowExternalLinks  bool     `json:"follow_external_links" mapstructure:"follow_external_links"`
}

// DefaultCrawlConfig mirrors the documented request defaults.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		MaxPages:             1000,
		MaxDepth:             10,
		RespectRobots:        true,
		DelayBetweenRequests: 1.0,
		Timeout:              30,
	}
}

// Clone returns a copy with independent pattern slices.
func (c CrawlConfig) Clone() CrawlConfig {
	cp := c
	cp.IncludePatterns = append([]string(nil), c.IncludePatterns...)
	cp.ExcludePatterns = append([]string(nil), c.ExcludePatterns...)
	return cp
}

// Delay returns the pause enforced after each fetch.
func (c CrawlConfig) Delay() time.Duration {
	return time.Duration(c.DelayBetweenRequests * float64(time.Second))
}

// RequestTimeout returns the per-page render budget.
func (c CrawlConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate rejects out-of-range values and malformed patterns. Every failure
// wraps ErrInvalidConfig.
func (c CrawlConfig) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s=%s", ErrInvalidConfig, fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, p := range c.IncludePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w: include pattern %q: %v", ErrInvalidConfig, p, err)
		}
	}
	for _, p := range c.ExcludePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w: exclude pattern %q: %v", ErrInvalidConfig, p, err)
		}
	}
	return nil
}

// NormalizeBaseURL requires an explicit http(s) scheme and a host. The path
// is kept as given so relative links keep resolving against the same
// directory; only a bare root slash is dropped.
func NormalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return "", fmt.Errorf("%w: url must start with http:// or https://", ErrInvalidConfig)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", ErrInvalidConfig, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: url has no host", ErrInvalidConfig)
	}
	if u.Path == "/" && u.RawQuery == "" && u.Fragment == "" {
		return strings.TrimSuffix(trimmed, "/"), nil
	}
	return trimmed, nil
}
