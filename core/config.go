package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug            bool
		TestMode         bool
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		SendgridApiKey   string
		RollbarToken     string

		Server   ServerConfig
		Database DatabaseConfig
		Supabase SupabaseConfig
		Stripe   StripeConfig
		Billing  BillingConfig
		Jobs     JobsConfig
	}

	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		LoginRateLimit            float64 // requests per second, per client IP
		LoginRateBurst            int
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	SupabaseConfig struct {
		URL       string
		AnonKey   string
		JWTSecret string
	}

	StripeConfig struct {
		SecretKey       string
		WebhookSecret   string
		SuccessURL      string
		CancelURL       string
		PortalReturnURL string
	}

	BillingConfig struct {
		Enabled          bool
		FreeStudentLimit int
	}

	JobsConfig struct {
		ExpireSubscriptionsSpec string
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

// NewConfig loads the configuration from the environment.
// `config/.env.<env>` is loaded first when it exists; variables are prefixed with the env name (eg. DEV_SECRET_KEY).
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v, env)

	// load .env if it exists (ignore if it does not)
	if wd, err := os.Getwd(); err == nil {
		dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	v.AutomaticEnv()

	return fromViper(v, env)
}

func setDefaults(v *viper.Viper, env string) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "NoteEarly")
	v.SetDefault("secretKey", "x8$r!kv2)q+7cw@d#m0tz&yj4h(e%n6b-u9l1s^p3a=oif5g")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "NoteEarly <noreply@localhost>")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.loginRateLimit", 1.0)
	v.SetDefault("server.loginRateBurst", 5)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "noteearly")
	v.SetDefault("database.user", "noteearly")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.anonKey", "")
	v.SetDefault("supabase.jwtSecret", "")

	v.SetDefault("stripe.secretKey", "")
	v.SetDefault("stripe.webhookSecret", "")
	v.SetDefault("stripe.successURL", "http://localhost:3000/billing?checkout=success")
	v.SetDefault("stripe.cancelURL", "http://localhost:3000/billing?checkout=cancel")
	v.SetDefault("stripe.portalReturnURL", "http://localhost:3000/billing")

	v.SetDefault("billing.enabled", false)
	v.SetDefault("billing.freeStudentLimit", 5)

	v.SetDefault("jobs.expireSubscriptionsSpec", "@hourly")
}

func fromViper(v *viper.Viper, env string) *Config {
	from, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatal(fmt.Errorf("config.defaultFromEmail: %w", err))
	}

	return &Config{
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		Env:              env,
		Build:            v.GetString("build"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		DefaultFromEmail: *from,
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			LoginRateLimit:            v.GetFloat64("server.loginRateLimit"),
			LoginRateBurst:            v.GetInt("server.loginRateBurst"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Supabase: SupabaseConfig{
			URL:       strings.TrimRight(v.GetString("supabase.url"), "/"),
			AnonKey:   v.GetString("supabase.anonKey"),
			JWTSecret: v.GetString("supabase.jwtSecret"),
		},
		Stripe: StripeConfig{
			SecretKey:       v.GetString("stripe.secretKey"),
			WebhookSecret:   v.GetString("stripe.webhookSecret"),
			SuccessURL:      v.GetString("stripe.successURL"),
			CancelURL:       v.GetString("stripe.cancelURL"),
			PortalReturnURL: v.GetString("stripe.portalReturnURL"),
		},
		Billing: BillingConfig{
			Enabled:          v.GetBool("billing.enabled"),
			FreeStudentLimit: v.GetInt("billing.freeStudentLimit"),
		},
		Jobs: JobsConfig{
			ExpireSubscriptionsSpec: v.GetString("jobs.expireSubscriptionsSpec"),
		},
	}
}

// NewTestConfig returns a Config with the defaults of the TEST env, without reading the environment.
func NewTestConfig() *Config {
	v := viper.New()
	setDefaults(v, "TEST")
	return fromViper(v, "TEST")
}
