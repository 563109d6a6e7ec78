package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Database engines
const (
	EnginePostgres = "postgres"
	EngineMemory   = "memory"
)

type (
	ServerConfig struct {
		Host                        string
		DebugHost                   string
		ShutdownTimeout             time.Duration
		JWTExpirationDelta          time.Duration
		JWTRefreshExpirationDelta   time.Duration
		CandidateJWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	Config struct {
		Debug            bool
		TestMode         bool
		Env              string
		Build            string
		WorkDir          string
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		SendgridApiKey   string
		RollbarToken     string
		Server           ServerConfig
		Database         DatabaseConfig
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, strconv.Itoa(dbc.Port))
}

func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Concours RP")
	v.SetDefault("secretKey", "x8q!m2$kd0-vn=4zt&(lw9#c3u@ph6yr*o1e_s5f7jb)g+ia")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("serverHost", "0.0.0.0:8000")
	v.SetDefault("serverDebugHost", "0.0.0.0:4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("candidateJwtExpirationDelta", 12*time.Hour)

	v.SetDefault("dbEngine", EnginePostgres)
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", 5432)
	v.SetDefault("dbName", "concours")
	v.SetDefault("dbUser", "concours")
	v.SetDefault("dbPassword", "concours")
	v.SetDefault("dbAdminUser", "postgres")
	v.SetDefault("dbAdminPassword", "postgres")
	v.SetDefault("dbDisableTLS", true)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
		v.SetDefault("dbEngine", EngineMemory)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	fromEmail, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.mail.ParseAddress(%s): %v", v.GetString("defaultFromEmail"), err)
	}

	return &Config{
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		Env:              env,
		Build:            v.GetString("build"),
		WorkDir:          wd,
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		DefaultFromEmail: *fromEmail,
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                        v.GetString("serverHost"),
			DebugHost:                   v.GetString("serverDebugHost"),
			ShutdownTimeout:             v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:          v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta:   v.GetDuration("jwtRefreshExpirationDelta"),
			CandidateJWTExpirationDelta: v.GetDuration("candidateJwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetInt("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
	}
}

// NewTestConfig returns a Config suitable for tests, without reading the environment.
func NewTestConfig() *Config {
	return &Config{
		Debug:            false,
		TestMode:         true,
		Env:              "TEST",
		Build:            "test",
		AppName:          "Concours RP",
		SecretKey:        "test-secret-key",
		FrontendBaseURL:  "http://localhost:3000",
		DefaultFromEmail: mail.Address{Name: "Concours RP", Address: "noreply@localhost"},
		Server: ServerConfig{
			ShutdownTimeout:             time.Second,
			JWTExpirationDelta:          time.Hour,
			JWTRefreshExpirationDelta:   4 * time.Hour,
			CandidateJWTExpirationDelta: time.Hour,
		},
		Database: DatabaseConfig{Engine: EngineMemory},
	}
}
