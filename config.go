package bart2sqlite

import (
	"errors"
	"fmt"
	"os"

	"crawshaw.io/sqlite"
	"github.com/joho/godotenv"
)

const (
	defaultRidershipBaseURL = "http://64.111.127.166/origin-destination"
	defaultAPIBase          = "http://api.bart.gov/api"
	defaultStationURLBase   = "https://www.bart.gov/stations"
	defaultAbbreviationsURL = "https://api.bart.gov/docs/overview/abbrev.aspx"
)

// Config holds everything resolved at process start. All components take the
// database handle and the config values they need explicitly; nothing reads
// the environment after LoadConfig returns.
type Config struct {
	DBPath           string
	APIToken         string
	RidershipBaseURL string
	APIBase          string
	StationURLBase   string
	AbbreviationsURL string
}

// LoadConfig reads configuration from the environment, loading a .env file
// first if one exists in the working directory. Missing required variables are
// a hard error: the pipeline never runs partially configured.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		DBPath:           os.Getenv("BART_DB_PATH"),
		APIToken:         os.Getenv("BART_API_TOKEN"),
		RidershipBaseURL: envOr("BART_OD_BASE_URL", defaultRidershipBaseURL),
		APIBase:          envOr("BART_API_BASE", defaultAPIBase),
		StationURLBase:   envOr("BART_STATION_URL_BASE", defaultStationURLBase),
		AbbreviationsURL: envOr("BART_ABBREVIATION_URL", defaultAbbreviationsURL),
	}

	if cfg.DBPath == "" {
		return nil, errors.New("BART_DB_PATH is required")
	}
	if cfg.APIToken == "" {
		return nil, errors.New("BART_API_TOKEN is required")
	}
	return cfg, nil
}

// OpenDB opens the warehouse database, creating the file if needed.
func (c *Config) OpenDB() (*sqlite.Conn, error) {
	db, err := sqlite.OpenConn(c.DBPath, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.DBPath, err)
	}
	return db, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
