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
		Env                       string // DEV (local; default), TEST, QA, PROD
		Build                     string
		Debug                     bool
		TestMode                  bool
		AppName                   string
		SecretKey                 string
		DefaultFromEmail          mail.Address
		FrontendBaseURL           string
		PasswordResetTimeoutDelta time.Duration
		RollbarToken              string
		SendgridApiKey            string

		Server     ServerConfig
		Database   DatabaseConfig
		AI         AIConfig
		Generation GenerationConfig
		Learning   LearningConfig
	}

	ServerConfig struct {
		Host                      string
		DebugHost                 string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
		DisableReqLogs            bool
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
		MaxOpenConns  int
	}

	AIConfig struct {
		Provider          string // gemini | offline
		APIKey            string
		Model             string
		Temperature       float32
		RequestsPerMinute int
		Timeout           time.Duration
		MaxRetries        uint64
	}

	GenerationConfig struct {
		Workers             int
		JobTimeout          time.Duration
		MaxDocumentChars    int
		DedupThreshold      float64
		MinLessonChars      int
		MaxModules          int
		MaxLessonsPerModule int
		QuestionsPerQuiz    int
	}

	LearningConfig struct {
		QuizPassScore int
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

// NewConfig loads the configuration of the current ENV from defaults, the optional config/.env.<env> file
// and the environment (variables are prefixed with the ENV name, e.g. DEV_SERVER_HOST).
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("test_mode", true)
	case "QA", "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:                       env,
		Build:                     v.GetString("build"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("test_mode"),
		AppName:                   v.GetString("app_name"),
		SecretKey:                 v.GetString("secret_key"),
		FrontendBaseURL:           strings.TrimRight(v.GetString("frontend_base_url"), "/"),
		PasswordResetTimeoutDelta: v.GetDuration("password_reset_timeout_delta"),
		RollbarToken:              v.GetString("rollbar_token"),
		SendgridApiKey:            v.GetString("sendgrid_api_key"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			DebugHost:                 v.GetString("server.debug_host"),
			JWTExpirationDelta:        v.GetDuration("server.jwt_expiration_delta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwt_refresh_expiration_delta"),
			ShutdownTimeout:           v.GetDuration("server.shutdown_timeout"),
			DisableReqLogs:            v.GetBool("server.disable_req_logs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.admin_user"),
			AdminPassword: v.GetString("database.admin_password"),
			DisableTLS:    v.GetBool("database.disable_tls"),
			MaxOpenConns:  v.GetInt("database.max_open_conns"),
		},
		AI: AIConfig{
			Provider:          strings.ToLower(v.GetString("ai.provider")),
			APIKey:            v.GetString("ai.api_key"),
			Model:             v.GetString("ai.model"),
			Temperature:       float32(v.GetFloat64("ai.temperature")),
			RequestsPerMinute: v.GetInt("ai.requests_per_minute"),
			Timeout:           v.GetDuration("ai.timeout"),
			MaxRetries:        uint64(v.GetInt("ai.max_retries")),
		},
		Generation: GenerationConfig{
			Workers:             v.GetInt("generation.workers"),
			JobTimeout:          v.GetDuration("generation.job_timeout"),
			MaxDocumentChars:    v.GetInt("generation.max_document_chars"),
			DedupThreshold:      v.GetFloat64("generation.dedup_threshold"),
			MinLessonChars:      v.GetInt("generation.min_lesson_chars"),
			MaxModules:          v.GetInt("generation.max_modules"),
			MaxLessonsPerModule: v.GetInt("generation.max_lessons_per_module"),
			QuestionsPerQuiz:    v.GetInt("generation.questions_per_quiz"),
		},
		Learning: LearningConfig{
			QuizPassScore: v.GetInt("learning.quiz_pass_score"),
		},
	}

	from, err := mail.ParseAddress(v.GetString("default_from_email"))
	if err != nil {
		log.Fatalf("config.mail.ParseAddress(default_from_email): %v", err)
	}
	conf.DefaultFromEmail = *from

	// the offline generator is used whenever no Gemini key is configured
	if conf.AI.Provider == "gemini" && conf.AI.APIKey == "" {
		conf.AI.Provider = "offline"
	}
	return conf
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("test_mode", false)
	v.SetDefault("app_name", "Somo")
	v.SetDefault("secret_key", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("default_from_email", "Somo <noreply@localhost>")
	v.SetDefault("frontend_base_url", "http://localhost:3000")
	v.SetDefault("password_reset_timeout_delta", 3*24*time.Hour)
	v.SetDefault("rollbar_token", "")
	v.SetDefault("sendgrid_api_key", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debug_host", ":4000")
	v.SetDefault("server.jwt_expiration_delta", 7*24*time.Hour)
	v.SetDefault("server.jwt_refresh_expiration_delta", 4*time.Hour)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.disable_req_logs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "somo")
	v.SetDefault("database.user", "somo")
	v.SetDefault("database.password", "somo")
	v.SetDefault("database.admin_user", "postgres")
	v.SetDefault("database.admin_password", "postgres")
	v.SetDefault("database.disable_tls", true)
	v.SetDefault("database.max_open_conns", 20)

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "gemini-2.5-flash")
	v.SetDefault("ai.temperature", 0.4)
	v.SetDefault("ai.requests_per_minute", 30)
	v.SetDefault("ai.timeout", 90*time.Second)
	v.SetDefault("ai.max_retries", 3)

	v.SetDefault("generation.workers", 2)
	v.SetDefault("generation.job_timeout", 20*time.Minute)
	v.SetDefault("generation.max_document_chars", 200000)
	v.SetDefault("generation.dedup_threshold", 0.85)
	v.SetDefault("generation.min_lesson_chars", 80)
	v.SetDefault("generation.max_modules", 8)
	v.SetDefault("generation.max_lessons_per_module", 6)
	v.SetDefault("generation.questions_per_quiz", 4)

	v.SetDefault("learning.quiz_pass_score", 70)
}

// String does not leak secrets.
func (conf Config) String() string {
	return fmt.Sprintf("%s[env=%s build=%s debug=%t ai=%s workers=%d]",
		conf.AppName, conf.Env, conf.Build, conf.Debug, conf.AI.Provider, conf.Generation.Workers)
}
