package internal

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

type Config struct {
	Host string `env:"HOST,required=true"`
	Port int    `env:"PORT,required=true"`

	TransferSecret string `env:"TRANSFER_SECRET,required=true"`
	ChunkSize      int    `env:"CHUNK_SIZE,required=true"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	UploadDir      string `env:"UPLOAD_DIR,required=true"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,required=true"`
	SourceBufferSize     int           `env:"SOURCE_BUFFER_SIZE,required=true"`
	SessionIdleTimeout   time.Duration `env:"SESSION_IDLE_TIMEOUT,required=true"`
	ReaperInterval       time.Duration `env:"REAPER_INTERVAL,required=true"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,required=true"`
	AuthTokenDuration    time.Duration `env:"AUTH_TOKEN_DURATION,required=true"`

	LogLevel       string `env:"LOG_LEVEL,required=true"`
	DebugPort      int    `env:"DEBUG_PORT,required=true"`
	ForbiddenWords string `env:"FORBIDDEN_WORDS"`
}

// ForbiddenWordList splits the comma-separated FORBIDDEN_WORDS value,
// ignoring empty entries. An unset variable disables screening.
func (c Config) ForbiddenWordList() []string {
	var words []string
	for _, w := range strings.Split(c.ForbiddenWords, ",") {
		if trimmed := strings.TrimSpace(w); trimmed != "" {
			words = append(words, trimmed)
		}
	}
	return lo.Uniq(words)
}
