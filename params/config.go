package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Book struct {
	Name    string   `validate:"required"`
	Symbols []string `validate:"required,min=1,dive,required"`
}

type Session struct {
	SenderCompID string `validate:"required"`
	TargetCompID string `validate:"required,nefield=SenderCompID"`

	// Settings is a quickfix settings file. When set the client connects
	// to a remote engine instead of the in-process venue.
	Settings string `validate:"omitempty,file"`
}

// Demo drives the synthetic order loop.
type Demo struct {
	Orders    int           `validate:"gte=0"`
	Threshold float64       `validate:"gte=0,lte=1"` // probability of sending rather than canceling
	Interval  time.Duration `validate:"gt=0"`
	Drain     time.Duration `validate:"gte=0"` // wait for outstanding reports after the last send
}

type Venue struct {
	FillProb   float64       `validate:"gte=0,lte=1"`
	RejectProb float64       `validate:"gte=0,lte=1"`
	Latency    time.Duration `validate:"gte=0"`
	Seed       uint64
}

type Journal struct {
	Kind string `validate:"oneof=pebble file none"`
	Path string `validate:"required_unless=Kind none"`
}

type API struct {
	Addr    string   // empty disables the HTTP server
	Origins []string `validate:"dive,required"`
}

type Config struct {
	Book    Book
	Session Session
	Demo    Demo
	Venue   Venue
	Journal Journal
	API     API

	LogFile string
	Verbose bool
}

func Default() Config {
	return Config{
		Book: Book{
			Name:    "demo",
			Symbols: []string{"AAPL", "MSFT", "GOOG", "AMZN"},
		},
		Session: Session{
			SenderCompID: "CLIENT",
			TargetCompID: "ENGINE",
		},
		Demo: Demo{
			Orders:    10,
			Threshold: 0.8,
			Interval:  100 * time.Millisecond,
			Drain:     15 * time.Second,
		},
		Venue: Venue{
			FillProb:   0.6,
			RejectProb: 0.05,
			Latency:    5 * time.Millisecond,
			Seed:       1,
		},
		Journal: Journal{
			Kind: "pebble",
			Path: "data/journal",
		},
		API: API{
			Addr:    ":8080",
			Origins: []string{"http://localhost:3000"},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Book.Name = getEnv("BOOK_NAME", cfg.Book.Name)
	if syms := os.Getenv("BOOK_SYMBOLS"); syms != "" {
		cfg.Book.Symbols = splitList(syms)
	}

	cfg.Session.SenderCompID = getEnv("SENDER_COMP_ID", cfg.Session.SenderCompID)
	cfg.Session.TargetCompID = getEnv("TARGET_COMP_ID", cfg.Session.TargetCompID)
	cfg.Session.Settings = getEnv("FIX_SETTINGS", cfg.Session.Settings)

	if n := os.Getenv("DEMO_ORDERS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Demo.Orders = v
		}
	}
	cfg.Demo.Threshold = getFloat("DEMO_THRESHOLD", cfg.Demo.Threshold)
	cfg.Demo.Interval = getMillis("DEMO_INTERVAL_MS", cfg.Demo.Interval)
	cfg.Demo.Drain = getMillis("DEMO_DRAIN_MS", cfg.Demo.Drain)

	cfg.Venue.FillProb = getFloat("VENUE_FILL_PROB", cfg.Venue.FillProb)
	cfg.Venue.RejectProb = getFloat("VENUE_REJECT_PROB", cfg.Venue.RejectProb)
	cfg.Venue.Latency = getMillis("VENUE_LATENCY_MS", cfg.Venue.Latency)
	if seed := os.Getenv("VENUE_SEED"); seed != "" {
		if v, err := strconv.ParseUint(seed, 10, 64); err == nil {
			cfg.Venue.Seed = v
		}
	}

	cfg.Journal.Kind = getEnv("JOURNAL", cfg.Journal.Kind)
	cfg.Journal.Path = getEnv("JOURNAL_PATH", cfg.Journal.Path)

	// API_ADDR=off disables the server
	if addr, ok := os.LookupEnv("API_ADDR"); ok {
		if addr == "off" {
			addr = ""
		}
		cfg.API.Addr = addr
	}
	if origins := os.Getenv("API_ORIGINS"); origins != "" {
		cfg.API.Origins = splitList(origins)
	}

	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	if verbose := os.Getenv("VERBOSE"); verbose != "" {
		cfg.Verbose = verbose == "true" || verbose == "1"
	}

	return cfg
}

// Validate checks the struct tags of every section.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

// splitList parses "a, b,c" into trimmed, non-empty items.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
