package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds live test configuration from the environment.
type Config struct {
	OpenAIKey    string
	OpenAIURL    string
	ReplicateKey string
	TestTimeout  time.Duration
	SkipSlow     bool
}

// LoadConfig loads live test configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIURL:    os.Getenv("OPENAI_BASE_URL"),
		ReplicateKey: os.Getenv("REPLICATE_API_KEY"),
		TestTimeout:  60 * time.Second,
		SkipSlow:     os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

// SkipIfNoAPIKey skips the test if the required API key is not set.
func SkipIfNoAPIKey(t *testing.T, key, name string) {
	t.Helper()
	if key == "" {
		t.Skipf("Skipping %s live test: %s_API_KEY not set", name, name)
	}
}

// SkipIfShort skips live tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping live test in short mode")
	}
}

// NewTestContext creates a context with timeout for live tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
