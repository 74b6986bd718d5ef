// Package relay parses relay command flags and composes transport entrypoints.
package relay

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/relaychat/internal/platform/cmd"
	server "github.com/louisbranch/relaychat/internal/relay/app"
)

// Config holds relay command configuration.
type Config struct {
	HTTPAddr         string        `env:"RELAYCHAT_HTTP_ADDR"          envDefault:":8090"`
	DBPath           string        `env:"RELAYCHAT_DB_PATH"            envDefault:"relaychat.db"`
	AIBaseURL        string        `env:"RELAYCHAT_AI_BASE_URL"`
	AIModel          string        `env:"RELAYCHAT_AI_MODEL"           envDefault:"amazon.titan-text-express-v1"`
	AIRequestTimeout time.Duration `env:"RELAYCHAT_AI_REQUEST_TIMEOUT" envDefault:"30s"`
	MaxFileSize      int64         `env:"RELAYCHAT_MAX_FILE_SIZE"      envDefault:"10485760"`
	AllowedFileTypes string        `env:"RELAYCHAT_ALLOWED_FILE_TYPES" envDefault:"pdf,txt,doc,docx"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "relay HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the relay SQLite database")
	fs.StringVar(&cfg.AIBaseURL, "ai-base-url", cfg.AIBaseURL, "generative reply service base URL")
	fs.StringVar(&cfg.AIModel, "ai-model", cfg.AIModel, "generative reply model id")
	fs.DurationVar(&cfg.AIRequestTimeout, "ai-request-timeout", cfg.AIRequestTimeout, "generative reply request timeout")
	fs.Int64Var(&cfg.MaxFileSize, "max-file-size", cfg.MaxFileSize, "maximum decoded upload size in bytes")
	fs.StringVar(&cfg.AllowedFileTypes, "allowed-file-types", cfg.AllowedFileTypes, "comma-separated list of accepted upload file types")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the relay app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelay, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:         cfg.HTTPAddr,
			DBPath:           cfg.DBPath,
			AIBaseURL:        cfg.AIBaseURL,
			AIModel:          cfg.AIModel,
			AIRequestTimeout: cfg.AIRequestTimeout,
			MaxFileSize:      cfg.MaxFileSize,
			AllowedFileTypes: splitFileTypes(cfg.AllowedFileTypes),
		}); err != nil {
			return fmt.Errorf("serve relay: %w", err)
		}
		return nil
	})
}

func splitFileTypes(raw string) []string {
	var types []string
	for _, entry := range strings.Split(raw, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			types = append(types, entry)
		}
	}
	return types
}
