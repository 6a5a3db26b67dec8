package boot

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env     string `env:"ENV,default=dev"`
	DataDir string `env:"DATA_DIR,default=."`
	Server  struct {
		Port        string        `env:"PORT,default=8080"`
		MetricsPort string        `env:"METRICS_PORT,default=8081"`
		Origins     string        `env:"ALLOWED_ORIGINS,default=*"`
		BodyLimit   string        `env:"BODY_LIMIT,default=1M"`
		RateLimit   int           `env:"RATE_LIMIT,default=100"`
		RateWindow  time.Duration `env:"RATE_WINDOW,default=15m"`
	}
	Auth struct {
		JWTSecret string `env:"JWT_SECRET,required"`
	}
	Crypto struct {
		EncryptionKey string `env:"ENCRYPTION_KEY,required"` // hex or JWK (kty=oct)
	}
	Notify struct {
		SendBuffer int `env:"WS_SEND_BUFFER,default=64"`
	}
}

func Load() (*Config, error) {
	return LoadWith(context.Background(), nil)
}

// LoadWith reads configuration from the given lookuper, or from the process
// environment when l is nil.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	config := &Config{}
	if l == nil {
		l = envconfig.OsLookuper()
	}
	if err := envconfig.ProcessWith(ctx, config, l); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	return config, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}

func (c *Config) DataDirectory() string {
	return c.DataDir
}

func (c *Config) DatabasePath() string {
	return path.Join(c.DataDir, "courier.db")
}
