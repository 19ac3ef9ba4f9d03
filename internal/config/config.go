// Package config loads catalog-sync configuration from YAML with .env and
// environment variable overrides. Scoring weights, quotas and region buckets
// are defined here and nowhere else.
package config

import (
	"fmt"
	"time"
)

// Default service configuration values.
const (
	defaultServiceName    = "catalog-sync"
	defaultServiceVersion = "1.0.0"
	defaultServicePort    = 8095
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultPyroscopeURL   = "http://pyroscope:4040"
	defaultPyroscopeEnv   = "development"
)

// Default database configuration values.
const (
	defaultDBHost         = "localhost"
	defaultDBPort         = 5432
	defaultDBUser         = "postgres"
	defaultDBName         = "catalog_sync"
	defaultDBSSLMode      = "disable"
	defaultDBMaxConns     = 25
	defaultDBMaxIdleConns = 5
	defaultDBConnLifetime = 5 * time.Minute
)

// Default catalog client values.
const (
	defaultCatalogBaseURL      = "https://api.themoviedb.org/3"
	defaultCatalogTimeout      = 15 * time.Second
	defaultCatalogMinDelay     = 50 * time.Millisecond
	defaultCatalogMaxDelay     = 5 * time.Second
	defaultCatalogLanguage     = "en-US"
	defaultBreakerFailures     = 5
	defaultBreakerOpenDuration = 30 * time.Second
)

// Default sync values.
const (
	defaultDailyQuota             = 500
	defaultBatchSize              = 25
	defaultConcurrency            = 4
	defaultMaxAttempts            = 3
	defaultRetryBaseDelay         = time.Minute
	defaultRateLimitMultiplier    = 5
	defaultMaxConsecutiveFailures = 5
	defaultLaunchWindow           = "02:00-06:00"
	defaultTimezone               = "UTC"
	defaultOverFetchFactor        = 3
	defaultClaimTimeout           = 15 * time.Minute
	defaultSweepRetention         = 7 * 24 * time.Hour
	defaultSortBy                 = "popularity.desc"
	defaultFailureHistory         = 20
)

// Default priority values.
const (
	defaultRegionMultiplier  = 2
	defaultPopularityDivisor = 10
	defaultPopularityCap     = 10
	defaultCurrentYearBonus  = 5
	defaultPreviousYearBonus = 3
	defaultRegionPages       = 2
)

// Default gap detection values.
const (
	defaultSequentialWindow   = 200
	defaultPopularityPages    = 3
	defaultTemporalYears      = 5
	defaultTemporalThreshold  = 0.8
	defaultTemporalPages      = 2
	defaultMetadataLimit      = 500
	defaultChangesDays        = 1
	defaultChangesMaxPages    = 10
	defaultFillBatchSize      = 20
	defaultMaxFillAttempts    = 3
	defaultGapReopenAfter     = 7 * 24 * time.Hour
	defaultScheduleTick       = "*/5 * * * *"
	defaultScheduleDetectGaps = "0 3 * * *"
	defaultScheduleFillGaps   = "*/30 * * * *"
	defaultScheduleSweep      = "0 4 * * *"
)

// Default people enrichment values.
const (
	defaultPeopleBatchSize    = 50
	defaultPeopleMaxAttempts  = 3
	defaultPeopleRefreshAfter = 90 * 24 * time.Hour
	defaultScheduleEnrich     = "30 4 * * *"
)

// Config holds the application configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Sync      SyncConfig      `yaml:"sync"`
	Priority  PriorityConfig  `yaml:"priority"`
	Regions   []RegionConfig  `yaml:"regions"`
	Gaps      GapsConfig      `yaml:"gaps"`
	People    PeopleConfig    `yaml:"people"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

// ServiceConfig holds service identity and runtime settings.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `env:"CATALOG_SYNC_PORT" yaml:"port"`
	Debug   bool   `env:"APP_DEBUG"         yaml:"debug"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host                  string        `env:"POSTGRES_CATALOG_SYNC_HOST"     yaml:"host"`
	Port                  int           `env:"POSTGRES_CATALOG_SYNC_PORT"     yaml:"port"`
	User                  string        `env:"POSTGRES_CATALOG_SYNC_USER"     yaml:"user"`
	Password              string        `env:"POSTGRES_CATALOG_SYNC_PASSWORD" yaml:"password"`
	Database              string        `env:"POSTGRES_CATALOG_SYNC_DB"       yaml:"database"`
	SSLMode               string        `yaml:"sslmode"`
	MaxConnections        int           `yaml:"max_connections"`
	MaxIdleConns          int           `yaml:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
	MigrationsPath        string        `env:"MIGRATIONS_PATH" yaml:"migrations_path"`
}

// DSN returns the lib/pq key=value connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds Redis settings. An empty address disables Redis; the
// service then runs without the tick lock and without event publishing.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
	Stream   string `yaml:"stream"`
}

// CatalogConfig configures the external catalog client.
type CatalogConfig struct {
	BaseURL             string        `env:"CATALOG_BASE_URL" yaml:"base_url"`
	APIKey              string        `env:"TMDB_API_KEY"     yaml:"api_key"`
	Language            string        `yaml:"language"`
	Timeout             time.Duration `yaml:"timeout"`
	MinDelay            time.Duration `yaml:"min_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	BreakerFailures     int           `yaml:"breaker_failures"`
	BreakerOpenDuration time.Duration `yaml:"breaker_open_duration"`
}

// SyncConfig configures job orchestration and batch processing.
type SyncConfig struct {
	DailyQuota             int           `env:"SYNC_DAILY_QUOTA" yaml:"daily_quota"`
	BatchSize              int           `env:"SYNC_BATCH_SIZE"  yaml:"batch_size"`
	Concurrency            int           `yaml:"concurrency"`
	MaxAttempts            int           `yaml:"max_attempts"`
	RetryBaseDelay         time.Duration `yaml:"retry_base_delay"`
	RateLimitMultiplier    int           `yaml:"rate_limit_multiplier"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	LaunchWindow           string        `env:"SYNC_LAUNCH_WINDOW" yaml:"launch_window"`
	Timezone               string        `env:"SYNC_TIMEZONE"      yaml:"timezone"`
	OverFetchFactor        int           `yaml:"over_fetch_factor"`
	ClaimTimeout           time.Duration `yaml:"claim_timeout"`
	SweepRetention         time.Duration `yaml:"sweep_retention"`
	SortBy                 string        `yaml:"sort_by"`
	FailureHistory         int           `yaml:"failure_history"`
}

// PriorityConfig holds every weight consumed by the priority scorer.
// Country codes are ISO 3166-1 alpha-2; type keys are scoring categories
// (movie, tv, drama, anime).
type PriorityConfig struct {
	CountryWeights    map[string]int `yaml:"country_weights"`
	TypeWeights       map[string]int `yaml:"type_weights"`
	RegionMultiplier  int            `yaml:"region_multiplier"`
	PopularityDivisor int            `yaml:"popularity_divisor"`
	PopularityCap     int            `yaml:"popularity_cap"`
	CurrentYearBonus  int            `yaml:"current_year_bonus"`
	PreviousYearBonus int            `yaml:"previous_year_bonus"`
	// DramaCountries are origins whose TV dramas score as "drama".
	DramaCountries []string `yaml:"drama_countries"`
	// AnimeCountries are origins whose animation scores as "anime".
	AnimeCountries []string `yaml:"anime_countries"`
}

// RegionConfig is one discovery bucket.
type RegionConfig struct {
	Name         string   `yaml:"name"`
	Countries    []string `yaml:"countries"`
	ContentTypes []string `yaml:"content_types"`
	Pages        int      `yaml:"pages"`
}

// GapsConfig configures gap detection and backfill.
type GapsConfig struct {
	SequentialWindow  int           `yaml:"sequential_window"`
	PopularityPages   int           `yaml:"popularity_pages"`
	TemporalYears     int           `yaml:"temporal_years"`
	TemporalThreshold float64       `yaml:"temporal_threshold"`
	TemporalPages     int           `yaml:"temporal_pages"`
	MetadataLimit     int           `yaml:"metadata_limit"`
	ChangesDays       int           `yaml:"changes_days"`
	ChangesMaxPages   int           `yaml:"changes_max_pages"`
	FillBatchSize     int           `yaml:"fill_batch_size"`
	MaxFillAttempts   int           `yaml:"max_fill_attempts"`
	ReopenAfter       time.Duration `yaml:"reopen_after"`
}

// PeopleConfig configures contributor profile enrichment.
type PeopleConfig struct {
	BatchSize    int           `env:"PEOPLE_BATCH_SIZE" yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RefreshAfter time.Duration `yaml:"refresh_after"`
}

// ScheduleConfig holds cron expressions for serve mode.
type ScheduleConfig struct {
	Enabled      bool   `env:"SCHEDULE_ENABLED" yaml:"enabled"`
	Tick         string `yaml:"tick"`
	DetectGaps   string `yaml:"detect_gaps"`
	FillGaps     string `yaml:"fill_gaps"`
	Sweep        string `yaml:"sweep"`
	EnrichPeople string `yaml:"enrich_people"`
}

// AuthConfig holds the shared secret protecting the trigger surface.
type AuthConfig struct {
	SharedSecret string `env:"CATALOG_SYNC_SECRET" yaml:"shared_secret"`
	JWTSecret    string `env:"AUTH_JWT_SECRET"     yaml:"jwt_secret"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// ProfilingConfig controls continuous profiling in serve mode.
type ProfilingConfig struct {
	Enabled     bool   `env:"ENABLE_CONTINUOUS_PROFILING" yaml:"enabled"`
	ServerURL   string `env:"PYROSCOPE_SERVER_URL"        yaml:"server_url"`
	Environment string `env:"PYROSCOPE_ENVIRONMENT"       yaml:"environment"`
}

// Load loads configuration from a YAML file, applies defaults, then env overrides.
func Load(path string) (*Config, error) {
	cfg, loadErr := LoadWithDefaults(path, SetDefaults)
	if loadErr != nil {
		return nil, fmt.Errorf("load config: %w", loadErr)
	}

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := validatePort("service.port", c.Service.Port); err != nil {
		return err
	}
	if err := requireString("database.host", c.Database.Host); err != nil {
		return err
	}
	if err := requireString("database.database", c.Database.Database); err != nil {
		return err
	}
	if err := requireString("catalog.base_url", c.Catalog.BaseURL); err != nil {
		return err
	}
	if err := requirePositive("sync.daily_quota", c.Sync.DailyQuota); err != nil {
		return err
	}
	if err := requirePositive("sync.batch_size", c.Sync.BatchSize); err != nil {
		return err
	}
	if err := requirePositive("sync.max_attempts", c.Sync.MaxAttempts); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
		return &ValidationError{Field: "sync.timezone", Message: err.Error()}
	}
	if len(c.Regions) == 0 {
		return &ValidationError{Field: "regions", Message: "at least one region bucket is required"}
	}
	for i := range c.Regions {
		if len(c.Regions[i].Countries) == 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("regions[%d].countries", i),
				Message: "must not be empty",
			}
		}
	}
	if c.Logging.Level != "" {
		return validateLogLevel(c.Logging.Level)
	}
	return nil
}

// SetDefaults applies default values to all configuration sections.
func SetDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setDatabaseDefaults(&cfg.Database)
	setCatalogDefaults(&cfg.Catalog)
	setSyncDefaults(&cfg.Sync)
	setPriorityDefaults(&cfg.Priority)
	setRegionDefaults(cfg)
	setGapsDefaults(&cfg.Gaps)
	setPeopleDefaults(&cfg.People)
	setScheduleDefaults(&cfg.Schedule)
	setLoggingDefaults(&cfg.Logging)
	setProfilingDefaults(&cfg.Profiling)

	if cfg.Redis.Stream == "" {
		cfg.Redis.Stream = "catalog-sync:events"
	}
}

func setServiceDefaults(s *ServiceConfig) {
	if s.Name == "" {
		s.Name = defaultServiceName
	}
	if s.Version == "" {
		s.Version = defaultServiceVersion
	}
	if s.Port == 0 {
		s.Port = defaultServicePort
	}
}

func setDatabaseDefaults(d *DatabaseConfig) {
	if d.Host == "" {
		d.Host = defaultDBHost
	}
	if d.Port == 0 {
		d.Port = defaultDBPort
	}
	if d.User == "" {
		d.User = defaultDBUser
	}
	if d.Database == "" {
		d.Database = defaultDBName
	}
	if d.SSLMode == "" {
		d.SSLMode = defaultDBSSLMode
	}
	if d.MaxConnections == 0 {
		d.MaxConnections = defaultDBMaxConns
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = defaultDBMaxIdleConns
	}
	if d.ConnectionMaxLifetime == 0 {
		d.ConnectionMaxLifetime = defaultDBConnLifetime
	}
	if d.MigrationsPath == "" {
		d.MigrationsPath = "file://migrations"
	}
}

func setCatalogDefaults(c *CatalogConfig) {
	if c.BaseURL == "" {
		c.BaseURL = defaultCatalogBaseURL
	}
	if c.Language == "" {
		c.Language = defaultCatalogLanguage
	}
	if c.Timeout == 0 {
		c.Timeout = defaultCatalogTimeout
	}
	if c.MinDelay == 0 {
		c.MinDelay = defaultCatalogMinDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaultCatalogMaxDelay
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = defaultBreakerFailures
	}
	if c.BreakerOpenDuration == 0 {
		c.BreakerOpenDuration = defaultBreakerOpenDuration
	}
}

func setSyncDefaults(s *SyncConfig) {
	if s.DailyQuota == 0 {
		s.DailyQuota = defaultDailyQuota
	}
	if s.BatchSize == 0 {
		s.BatchSize = defaultBatchSize
	}
	if s.Concurrency == 0 {
		s.Concurrency = defaultConcurrency
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = defaultMaxAttempts
	}
	if s.RetryBaseDelay == 0 {
		s.RetryBaseDelay = defaultRetryBaseDelay
	}
	if s.RateLimitMultiplier == 0 {
		s.RateLimitMultiplier = defaultRateLimitMultiplier
	}
	if s.MaxConsecutiveFailures == 0 {
		s.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	if s.LaunchWindow == "" {
		s.LaunchWindow = defaultLaunchWindow
	}
	if s.Timezone == "" {
		s.Timezone = defaultTimezone
	}
	if s.OverFetchFactor == 0 {
		s.OverFetchFactor = defaultOverFetchFactor
	}
	if s.ClaimTimeout == 0 {
		s.ClaimTimeout = defaultClaimTimeout
	}
	if s.SweepRetention == 0 {
		s.SweepRetention = defaultSweepRetention
	}
	if s.SortBy == "" {
		s.SortBy = defaultSortBy
	}
	if s.FailureHistory == 0 {
		s.FailureHistory = defaultFailureHistory
	}
}

func setPriorityDefaults(p *PriorityConfig) {
	if len(p.CountryWeights) == 0 {
		p.CountryWeights = DefaultCountryWeights()
	}
	if len(p.TypeWeights) == 0 {
		p.TypeWeights = DefaultTypeWeights()
	}
	if p.RegionMultiplier == 0 {
		p.RegionMultiplier = defaultRegionMultiplier
	}
	if p.PopularityDivisor == 0 {
		p.PopularityDivisor = defaultPopularityDivisor
	}
	if p.PopularityCap == 0 {
		p.PopularityCap = defaultPopularityCap
	}
	if p.CurrentYearBonus == 0 {
		p.CurrentYearBonus = defaultCurrentYearBonus
	}
	if p.PreviousYearBonus == 0 {
		p.PreviousYearBonus = defaultPreviousYearBonus
	}
	if len(p.DramaCountries) == 0 {
		p.DramaCountries = DefaultDramaCountries()
	}
	if len(p.AnimeCountries) == 0 {
		p.AnimeCountries = []string{"JP"}
	}
}

func setRegionDefaults(cfg *Config) {
	if len(cfg.Regions) == 0 {
		cfg.Regions = DefaultRegions()
	}
	for i := range cfg.Regions {
		if len(cfg.Regions[i].ContentTypes) == 0 {
			cfg.Regions[i].ContentTypes = []string{"tv", "movie"}
		}
		if cfg.Regions[i].Pages == 0 {
			cfg.Regions[i].Pages = defaultRegionPages
		}
	}
}

func setGapsDefaults(g *GapsConfig) {
	if g.SequentialWindow == 0 {
		g.SequentialWindow = defaultSequentialWindow
	}
	if g.PopularityPages == 0 {
		g.PopularityPages = defaultPopularityPages
	}
	if g.TemporalYears == 0 {
		g.TemporalYears = defaultTemporalYears
	}
	if g.TemporalThreshold == 0 {
		g.TemporalThreshold = defaultTemporalThreshold
	}
	if g.TemporalPages == 0 {
		g.TemporalPages = defaultTemporalPages
	}
	if g.MetadataLimit == 0 {
		g.MetadataLimit = defaultMetadataLimit
	}
	if g.ChangesDays == 0 {
		g.ChangesDays = defaultChangesDays
	}
	if g.ChangesMaxPages == 0 {
		g.ChangesMaxPages = defaultChangesMaxPages
	}
	if g.FillBatchSize == 0 {
		g.FillBatchSize = defaultFillBatchSize
	}
	if g.MaxFillAttempts == 0 {
		g.MaxFillAttempts = defaultMaxFillAttempts
	}
	if g.ReopenAfter == 0 {
		g.ReopenAfter = defaultGapReopenAfter
	}
}

func setScheduleDefaults(s *ScheduleConfig) {
	if s.Tick == "" {
		s.Tick = defaultScheduleTick
	}
	if s.DetectGaps == "" {
		s.DetectGaps = defaultScheduleDetectGaps
	}
	if s.FillGaps == "" {
		s.FillGaps = defaultScheduleFillGaps
	}
	if s.Sweep == "" {
		s.Sweep = defaultScheduleSweep
	}
	if s.EnrichPeople == "" {
		s.EnrichPeople = defaultScheduleEnrich
	}
}

func setPeopleDefaults(p *PeopleConfig) {
	if p.BatchSize == 0 {
		p.BatchSize = defaultPeopleBatchSize
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultPeopleMaxAttempts
	}
	if p.RefreshAfter == 0 {
		p.RefreshAfter = defaultPeopleRefreshAfter
	}
}

func setLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = defaultLogLevel
	}
	if l.Format == "" {
		l.Format = defaultLogFormat
	}
}

func setProfilingDefaults(p *ProfilingConfig) {
	if p.ServerURL == "" {
		p.ServerURL = defaultPyroscopeURL
	}
	if p.Environment == "" {
		p.Environment = defaultPyroscopeEnv
	}
}
