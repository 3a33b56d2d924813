package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"golang.org/x/time/rate"
)

const (
	DefaultTimezone      = "Asia/Seoul"
	DefaultMaxUploadSize = 10 << 20
)

// DefaultAvatars are the user images a member may pick from.
var DefaultAvatars = []string{
	"/images/image-1.png",
	"/images/image-2.png",
	"/images/image-3.png",
	"/images/image-4.png",
	"/images/image-5.png",
	"/images/image-6.png",
	"/images/image-7.png",
	"/images/image-8.png",
	"/images/image-9.png",
	"/images/image-10.png",
	"/images/image-11.png",
	"/images/image-12.png",
}

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	AllowedOrigins []string
	Location       *time.Location
	BlobDir        string
	MaxUploadSize  int64
	SeedFile       string
	TrustProxy     bool
	RateLimit      rate.Limit
	RateBurst      int
	Avatars        []string
}

type Params struct {
	ServerAddr     string
	DatabaseDSN    string
	AllowedOrigins []string
	Timezone       string
	BlobDir        string
	MaxUploadSize  int64
	SeedFile       string
	TrustProxy     bool
	RatePerSecond  float64
	RateBurst      int
}

func NewConfig(p Params) (*Config, error) {
	if p.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if p.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if p.BlobDir == "" {
		return nil, fmt.Errorf("blob directory cannot be empty")
	}
	if p.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("max upload size must be positive")
	}
	if p.RatePerSecond < 0 || p.RateBurst < 0 {
		return nil, fmt.Errorf("rate limit cannot be negative")
	}

	tz := p.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	limit := rate.Inf
	if p.RatePerSecond > 0 {
		limit = rate.Limit(p.RatePerSecond)
	}

	return &Config{
		DatabaseDSN:    p.DatabaseDSN,
		ServerAddr:     p.ServerAddr,
		AllowedOrigins: p.AllowedOrigins,
		Location:       loc,
		BlobDir:        p.BlobDir,
		MaxUploadSize:  p.MaxUploadSize,
		SeedFile:       p.SeedFile,
		TrustProxy:     p.TrustProxy,
		RateLimit:      limit,
		RateBurst:      p.RateBurst,
		Avatars:        DefaultAvatars,
	}, nil
}
