package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Assignment   AssignmentConfig
	SLA          SLAConfig
	Rebalance    RebalanceConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
	// StatementTimeout bounds every statement server-side, including lock waits in the
	// assignment transaction.
	StatementTimeout time.Duration
	ApplicationName  string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
	// EventsChannel is where the ticket service publishes lifecycle events.
	EventsChannel string
	// RulesChannel carries rule cache invalidations between instances.
	RulesChannel string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token validation parameters. Tokens are issued by the auth service.
type AuthConfig struct {
	JWTSecret string
	// Issuer, when set, must match the iss claim.
	Issuer string
}

// NotificationConfig controls where notifications are handed off.
type NotificationConfig struct {
	Channel        string
	AdminRecipient string
}

// ScoringWeights are the per-component weights of the candidate score.
type ScoringWeights struct {
	Workload     float64
	Performance  float64
	Availability float64
	Skill        float64
	History      float64
}

// Sum returns the total of all weights.
func (w ScoringWeights) Sum() float64 {
	return w.Workload + w.Performance + w.Availability + w.Skill + w.History
}

// Validate checks every weight is within [0,1] and the total is close to 1.
func (w ScoringWeights) Validate() error {
	named := map[string]float64{
		"workload":     w.Workload,
		"performance":  w.Performance,
		"availability": w.Availability,
		"skill":        w.Skill,
		"history":      w.History,
	}
	for name, v := range named {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("scoring weight %s out of range: %v", name, v)
		}
	}
	if sum := w.Sum(); sum < 0.95 || sum > 1.05 {
		return fmt.Errorf("scoring weights must sum to 1 (got %.3f)", sum)
	}
	return nil
}

// DefaultScoringWeights returns the standard 25/25/20/15/15 split.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Workload: 0.25, Performance: 0.25, Availability: 0.20, Skill: 0.15, History: 0.15}
}

// AssignmentConfig tunes the rule engine, scoring and coordinator.
type AssignmentConfig struct {
	Weights                   ScoringWeights
	CapacityCeiling           float64
	PartialAvailabilityCredit float64
	SkillBaseline             float64
	LanguageBonus             float64
	ProviderTimeout           time.Duration
	RuleCacheTTL              time.Duration
	MetricsWindowDays         int
	RulesTimezone             string
}

// SLAClock selects how SLA budgets elapse.
type SLAClock string

const (
	SLAClockCalendar SLAClock = "calendar"
	SLAClockBusiness SLAClock = "business"
)

// SLAConfig controls deadline computation and breach warnings.
type SLAConfig struct {
	Clock           SLAClock
	BusinessStart   string
	BusinessEnd     string
	BusinessDays    []time.Weekday
	Timezone        string
	WarningLeadTime time.Duration
	WatchInterval   time.Duration
}

// RebalanceConfig controls the rebalancer.
type RebalanceConfig struct {
	OverloadThreshold   float64
	UnderloadThreshold  float64
	TargetStdDev        float64
	MaxMoves            int
	AllowRespondedMoves bool
	ScheduleInterval    time.Duration
	LockTTL             time.Duration
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	businessDays, err := parseWeekdays(getEnv("SLA_BUSINESS_DAYS", "mon,tue,wed,thu,fri"))
	if err != nil {
		return nil, fmt.Errorf("invalid SLA_BUSINESS_DAYS: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "assignment-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),

			StatementTimeout: getEnvAsDuration("POSTGRES_STATEMENT_TIMEOUT", 5*time.Second),
			ApplicationName:  getEnv("POSTGRES_APPLICATION_NAME", "assignment-service"),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			PoolSize:      getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeout:   getEnvAsDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "tickets:events"),
			RulesChannel:  getEnv("REDIS_RULES_CHANNEL", "assignment:rules:invalidate"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:    os.Getenv("AUTH_JWT_ISSUER"),
		},
		Notification: NotificationConfig{
			Channel:        getEnv("NOTIFY_CHANNEL", "notifications:outbound"),
			AdminRecipient: getEnv("NOTIFY_ADMIN_RECIPIENT", "support-admins"),
		},
		Assignment: AssignmentConfig{
			Weights: ScoringWeights{
				Workload:     getEnvAsFloat("SCORE_WEIGHT_WORKLOAD", 0.25),
				Performance:  getEnvAsFloat("SCORE_WEIGHT_PERFORMANCE", 0.25),
				Availability: getEnvAsFloat("SCORE_WEIGHT_AVAILABILITY", 0.20),
				Skill:        getEnvAsFloat("SCORE_WEIGHT_SKILL", 0.15),
				History:      getEnvAsFloat("SCORE_WEIGHT_HISTORY", 0.15),
			},
			CapacityCeiling:           getEnvAsFloat("ASSIGN_CAPACITY_CEILING", 10),
			PartialAvailabilityCredit: getEnvAsFloat("ASSIGN_PARTIAL_AVAILABILITY_CREDIT", 0),
			SkillBaseline:             getEnvAsFloat("ASSIGN_SKILL_BASELINE", 0.3),
			LanguageBonus:             getEnvAsFloat("ASSIGN_LANGUAGE_BONUS", 0.05),
			ProviderTimeout:           getEnvAsDuration("ASSIGN_PROVIDER_TIMEOUT", 3*time.Second),
			RuleCacheTTL:              getEnvAsDuration("ASSIGN_RULE_CACHE_TTL", 30*time.Second),
			MetricsWindowDays:         getEnvAsInt("ASSIGN_METRICS_WINDOW_DAYS", 30),
			RulesTimezone:             getEnv("ASSIGN_RULES_TIMEZONE", "UTC"),
		},
		SLA: SLAConfig{
			Clock:           SLAClock(strings.ToLower(getEnv("SLA_CLOCK", string(SLAClockCalendar)))),
			BusinessStart:   getEnv("SLA_BUSINESS_START", "09:00"),
			BusinessEnd:     getEnv("SLA_BUSINESS_END", "17:00"),
			BusinessDays:    businessDays,
			Timezone:        getEnv("SLA_TIMEZONE", "UTC"),
			WarningLeadTime: getEnvAsDuration("SLA_WARNING_LEAD_TIME", 30*time.Minute),
			WatchInterval:   getEnvAsDuration("SLA_WATCH_INTERVAL", time.Minute),
		},
		Rebalance: RebalanceConfig{
			OverloadThreshold:   getEnvAsFloat("REBALANCE_OVERLOAD_THRESHOLD", 6),
			UnderloadThreshold:  getEnvAsFloat("REBALANCE_UNDERLOAD_THRESHOLD", 3),
			TargetStdDev:        getEnvAsFloat("REBALANCE_TARGET_STDDEV", 1.0),
			MaxMoves:            getEnvAsInt("REBALANCE_MAX_MOVES", 20),
			AllowRespondedMoves: getEnvAsBool("REBALANCE_ALLOW_RESPONDED", false),
			ScheduleInterval:    getEnvAsDuration("REBALANCE_SCHEDULE_INTERVAL", 0),
			LockTTL:             getEnvAsDuration("REBALANCE_LOCK_TTL", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants that would otherwise surface at assignment time.
func (c *Config) Validate() error {
	if err := c.Assignment.Weights.Validate(); err != nil {
		return err
	}
	a := c.Assignment
	if a.CapacityCeiling <= 0 {
		return errors.New("ASSIGN_CAPACITY_CEILING must be positive")
	}
	if a.PartialAvailabilityCredit < 0 || a.PartialAvailabilityCredit > 1 {
		return errors.New("ASSIGN_PARTIAL_AVAILABILITY_CREDIT must be within [0,1]")
	}
	if a.SkillBaseline <= 0 || a.SkillBaseline > 1 {
		return errors.New("ASSIGN_SKILL_BASELINE must be within (0,1]")
	}
	if a.LanguageBonus < 0 || a.LanguageBonus > 0.25 {
		return errors.New("ASSIGN_LANGUAGE_BONUS must be within [0,0.25]")
	}
	if _, err := time.LoadLocation(a.RulesTimezone); err != nil {
		return fmt.Errorf("invalid ASSIGN_RULES_TIMEZONE: %w", err)
	}

	switch c.SLA.Clock {
	case SLAClockCalendar:
	case SLAClockBusiness:
		if len(c.SLA.BusinessDays) == 0 {
			return errors.New("SLA_BUSINESS_DAYS must not be empty in business clock mode")
		}
	default:
		return fmt.Errorf("SLA_CLOCK must be %q or %q", SLAClockCalendar, SLAClockBusiness)
	}
	if _, err := time.LoadLocation(c.SLA.Timezone); err != nil {
		return fmt.Errorf("invalid SLA_TIMEZONE: %w", err)
	}

	r := c.Rebalance
	if r.UnderloadThreshold > r.OverloadThreshold {
		return errors.New("REBALANCE_UNDERLOAD_THRESHOLD must not exceed REBALANCE_OVERLOAD_THRESHOLD")
	}
	if r.MaxMoves < 0 {
		return errors.New("REBALANCE_MAX_MOVES must not be negative")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWeekday accepts three-letter or full English day names, case-insensitively.
func ParseWeekday(value string) (time.Weekday, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	if len(v) >= 3 {
		if d, ok := weekdayNames[v[:3]]; ok {
			return d, true
		}
	}
	return 0, false
}

func parseWeekdays(value string) ([]time.Weekday, error) {
	var days []time.Weekday
	for _, part := range strings.Split(value, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, ok := ParseWeekday(part)
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		days = append(days, d)
	}
	return days, nil
}
