package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

type Config struct {
	Host                      string        `env:"HOST,default=0.0.0.0"`
	Port                      int           `env:"PORT,default=3000"`
	LogLevel                  string        `env:"LOG_LEVEL,default=INFO"`
	BadgerFilepath            string        `env:"BADGER_FILEPATH,required=true"`
	RoomMailboxSize           int           `env:"ROOM_MAILBOX_SIZE,default=64"`
	ConnectionBufferSize      int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	DeliveryTimeout           time.Duration `env:"DELIVERY_TIMEOUT,default=2s"`
	RoomIdleTimeout           time.Duration `env:"ROOM_IDLE_TIMEOUT,default=5m"`
	RestartInterval           time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	MaxFrameBytes             int64         `env:"MAX_FRAME_BYTES,default=1048576"`
	PongWait                  time.Duration `env:"PONG_WAIT,default=60s"`
	WriteWait                 time.Duration `env:"WRITE_WAIT,default=10s"`
	ShutdownTimeout           time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	AllowedOrigins            string        `env:"ALLOWED_ORIGINS"`
	RequireKnownUsers         bool          `env:"REQUIRE_KNOWN_USERS,default=false"`
	ModerationEnabled         bool          `env:"MODERATION_ENABLED,default=false"`
	ModerationCharReplacement string        `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`
}

// LoadConfig reads an optional .env file then the environment.
// Variables already set win over the file.
func LoadConfig(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if _, err := CharacterRune(config.ModerationCharReplacement); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Address is the listen address of the HTTP server.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits ALLOWED_ORIGINS on commas. Empty means any origin.
func (c Config) Origins() []string {
	return lo.FilterMap(strings.Split(c.AllowedOrigins, ","), func(origin string, _ int) (string, bool) {
		origin = strings.TrimSpace(origin)
		return origin, origin != ""
	})
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"MODERATION_CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
