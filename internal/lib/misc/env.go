package misc

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
)

// LoadEnvSettings loads .env.local and then .env - values already present in the environment (or loaded
// from an earlier file) win.
func LoadEnvSettings(log *slog.Logger) {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err == nil {
			Debugf(log, "loaded env file:%s", name)
		}
	}
}

// LoadEnvForProfile loads .env.{profile} (ie: .env.devnet) if present.
func LoadEnvForProfile(log *slog.Logger, profile string) {
	if profile == "" {
		return
	}
	name := fmt.Sprintf(".env.%s", profile)
	if err := godotenv.Load(name); err == nil {
		Infof(log, "loaded env file:%s", name)
	}
}
