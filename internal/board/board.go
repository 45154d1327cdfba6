package board

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "spigell/autoapply"
	// Max value for search per page.
	defaultPerPage = 100

	defaultRequestsPerSecond = 2
	defaultTimeout           = 10 * time.Second

	postingsPath     = "/postings"
	applicationsPath = "/applications"
)

type Config struct {
	URL               string        `mapstructure:"url"`
	TokenFile         string        `mapstructure:"token-file"`
	UserAgent         string        `mapstructure:"user-agent"`
	RequestsPerSecond float64       `mapstructure:"requests-per-second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PerPage           int           `mapstructure:"per-page"`
}

// Client talks to a job board API. It finds postings and submits applications.
type Client struct {
	token      string
	logger     *zap.Logger
	limiter    *rate.Limiter
	perPage    int
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(cfg Config, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	return &Client{
		token:   token,
		logger:  logger.Named("board"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		perPage: cfg.PerPage,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		UserAgent: cfg.UserAgent,
		APIURL:    strings.TrimRight(cfg.URL, "/"),
	}
}
