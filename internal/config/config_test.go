package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func validParams() Params {
	return Params{
		ServerAddr:     "localhost:5050",
		DatabaseDSN:    "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable",
		AllowedOrigins: []string{"http://localhost:5000"},
		Timezone:       "UTC",
		BlobDir:        "/tmp/uploads",
		MaxUploadSize:  DefaultMaxUploadSize,
		RatePerSecond:  5,
		RateBurst:      10,
	}
}

func TestNewConfig(t *testing.T) {
	tcases := []struct {
		name   string
		modify func(p *Params)
		err    bool
	}{
		{
			name:   "valid config",
			modify: func(p *Params) {},
			err:    false,
		},
		{
			name:   "empty address",
			modify: func(p *Params) { p.ServerAddr = "" },
			err:    true,
		},
		{
			name:   "empty DSN",
			modify: func(p *Params) { p.DatabaseDSN = "" },
			err:    true,
		},
		{
			name:   "empty blob dir",
			modify: func(p *Params) { p.BlobDir = "" },
			err:    true,
		},
		{
			name:   "zero upload size",
			modify: func(p *Params) { p.MaxUploadSize = 0 },
			err:    true,
		},
		{
			name:   "negative rate",
			modify: func(p *Params) { p.RatePerSecond = -1 },
			err:    true,
		},
		{
			name:   "unknown timezone",
			modify: func(p *Params) { p.Timezone = "Mars/Olympus_Mons" },
			err:    true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.modify(&p)

			cfg, err := NewConfig(p)
			if tc.err {
				assert.Error(t, err, "expected error for %s", tc.name)
				assert.Nil(t, cfg, "expected nil config on error")
				return
			}

			assert.NoError(t, err)
			assert.NotNil(t, cfg)
			assert.Equal(t, p.ServerAddr, cfg.ServerAddr)
			assert.Equal(t, p.DatabaseDSN, cfg.DatabaseDSN)
			assert.Equal(t, p.AllowedOrigins, cfg.AllowedOrigins)
			assert.Equal(t, "UTC", cfg.Location.String())
			assert.Equal(t, rate.Limit(5), cfg.RateLimit)
			assert.Equal(t, 10, cfg.RateBurst)
			assert.Equal(t, DefaultAvatars, cfg.Avatars)
		})
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	p := validParams()
	p.Timezone = ""
	p.RatePerSecond = 0

	cfg, err := NewConfig(p)
	assert.NoError(t, err)
	assert.Equal(t, DefaultTimezone, cfg.Location.String())
	assert.Equal(t, rate.Inf, cfg.RateLimit, "expected unlimited rate when none is configured")
}
