package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port        string
	PostgresCfg PostgresConfig
	RedisCfg    RedisConfig
	RabbitMQCfg RabbitMQConfig
	AuthCfg     AuthConfig
	Security    SecurityPolicy
}

type PostgresConfig struct {
	DBname   string
	Username string
	Password string
	Host     string
	Port     string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RabbitMQConfig struct {
	Username string
	Password string
	Host     string
	Port     string
}

type AuthConfig struct {
	JWTSecret          string
	AuditSigningSecret string
	TwoFactorIssuer    string
}

// SecurityPolicy holds every policy knob the core consults. Values are
// read once at startup; Reload is the only way they change mid-process.
type SecurityPolicy struct {
	LockoutMaxAttempts        int
	LockoutWindowMinutes      int
	LockoutDurationMinutes    int
	LockoutPermanentAfterTemp int
	LockoutResetAfterSuccess  bool

	SessionExpirationMinutes          int
	SessionExtendOnActivity           bool
	SessionMaxConcurrentSessions      int
	SessionInvalidateOnPasswordChange bool

	PasswordMinLength        int
	PasswordMaxLength        int
	PasswordRequireUppercase bool
	PasswordRequireLowercase bool
	PasswordRequireDigit     bool
	PasswordRequireSpecial   bool
	PasswordSpecialChars     string
	PasswordHistoryCount     int

	PasswordResetTokenExpirationMinutes int
	InvitationTokenExpirationDays       int

	TwoFactorAuthEnabled bool

	AuditLoginEvents    bool
	AuditSessionEvents  bool
	AuditAccountChanges bool

	FailedLoginRetentionDays int
}

func New() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),
		PostgresCfg: PostgresConfig{
			DBname:   getEnv("DB_NAME", "celestra_auth"),
			Username: os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PWD"),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
		},
		RedisCfg: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PWD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		RabbitMQCfg: RabbitMQConfig{
			Username: os.Getenv("RABBITMQ_USER"),
			Password: os.Getenv("RABBITMQ_PWD"),
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
		},
		AuthCfg: AuthConfig{
			JWTSecret:          os.Getenv("JWT_SECRET"),
			AuditSigningSecret: os.Getenv("AUDIT_SIGNING_SECRET"),
			TwoFactorIssuer:    getEnv("TWO_FACTOR_ISSUER", "Celestra"),
		},
		Security: SecurityPolicy{
			LockoutMaxAttempts:        getEnvInt("LOCKOUT_MAX_ATTEMPTS", 5),
			LockoutWindowMinutes:      getEnvInt("LOCKOUT_WINDOW_MINUTES", 30),
			LockoutDurationMinutes:    getEnvInt("LOCKOUT_DURATION_MINUTES", 30),
			LockoutPermanentAfterTemp: getEnvInt("LOCKOUT_PERMANENT_AFTER_TEMP_LOCKOUTS", 3),
			LockoutResetAfterSuccess:  getEnvBool("LOCKOUT_RESET_COUNTER_AFTER_SUCCESS", true),

			SessionExpirationMinutes:          getEnvInt("SESSION_EXPIRATION_MINUTES", 120),
			SessionExtendOnActivity:           getEnvBool("SESSION_EXTEND_ON_ACTIVITY", true),
			SessionMaxConcurrentSessions:      getEnvInt("SESSION_MAX_CONCURRENT", 5),
			SessionInvalidateOnPasswordChange: getEnvBool("SESSION_INVALIDATE_ON_PASSWORD_CHANGE", true),

			PasswordMinLength:        getEnvInt("PASSWORD_MIN_LENGTH", 8),
			PasswordMaxLength:        getEnvInt("PASSWORD_MAX_LENGTH", 128),
			PasswordRequireUppercase: getEnvBool("PASSWORD_REQUIRE_UPPERCASE", true),
			PasswordRequireLowercase: getEnvBool("PASSWORD_REQUIRE_LOWERCASE", true),
			PasswordRequireDigit:     getEnvBool("PASSWORD_REQUIRE_DIGIT", true),
			PasswordRequireSpecial:   getEnvBool("PASSWORD_REQUIRE_SPECIAL", true),
			PasswordSpecialChars:     getEnv("PASSWORD_SPECIAL_CHARS", "!@#$%^&*()_+-=[]{}|;:,.<>?"),
			PasswordHistoryCount:     getEnvInt("PASSWORD_HISTORY_COUNT", 5),

			PasswordResetTokenExpirationMinutes: getEnvInt("PASSWORD_RESET_TOKEN_EXPIRATION_MINUTES", 60),
			InvitationTokenExpirationDays:       getEnvInt("INVITATION_TOKEN_EXPIRATION_DAYS", 7),

			TwoFactorAuthEnabled: getEnvBool("TWO_FACTOR_AUTH_ENABLED", false),

			AuditLoginEvents:    getEnvBool("AUDIT_LOGIN_EVENTS", true),
			AuditSessionEvents:  getEnvBool("AUDIT_SESSION_EVENTS", true),
			AuditAccountChanges: getEnvBool("AUDIT_ACCOUNT_CHANGES", true),

			FailedLoginRetentionDays: getEnvInt("FAILED_LOGIN_RETENTION_DAYS", 30),
		},
	}
}

// Reload re-reads the environment in place. Components hold the pointer,
// so a reload is visible on their next policy read.
func (c *Config) Reload() {
	*c = *New()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
