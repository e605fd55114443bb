package config

import "time"

// APIConfig holds runtime configuration for the control-plane service.
type APIConfig struct {
	Environment     string
	Addr            string
	DatabaseURL     string
	MigrationsDir   string
	JWTSecret       string
	ServingDomain   string
	Workdir         string
	BuildImage      string
	InstallCommand  string
	BuildCommand    string
	OutputDir       string
	GitTimeout      time.Duration
	BuildTimeout    time.Duration
	LogTailBytes    int
	DockerHost      string
	StoreBucket     string
	StoreEndpoint   string
	StoreRegion     string
	StoreAccessKey  string
	StoreSecretKey  string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	SSEHeartbeat    time.Duration
	ShutdownTimeout time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("API_ADDR", ":4000"),
		DatabaseURL:     GetString("DATABASE_URL", "postgres://skiff:skiff@db:5432/skiff?sslmode=disable"),
		MigrationsDir:   GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:       GetString("JWT_SECRET", "supersecuresecret"),
		ServingDomain:   GetString("SERVING_DOMAIN", "skiff.app"),
		Workdir:         GetString("BUILD_WORKDIR", "/tmp/skiff"),
		BuildImage:      GetString("BUILD_IMAGE", "node:20-alpine"),
		InstallCommand:  GetString("DEFAULT_INSTALL_COMMAND", "npm install"),
		BuildCommand:    GetString("DEFAULT_BUILD_COMMAND", "npm run build"),
		OutputDir:       GetString("BUILD_OUTPUT_DIR", "dist"),
		GitTimeout:      time.Duration(GetInt("GIT_TIMEOUT_SECONDS", 60)) * time.Second,
		BuildTimeout:    time.Duration(GetInt("BUILD_TIMEOUT_SECONDS", 900)) * time.Second,
		LogTailBytes:    GetInt("LOG_TAIL_BYTES", 4096),
		DockerHost:      GetString("DOCKER_HOST", ""),
		StoreBucket:     GetString("CONTENT_STORE_BUCKET", "skiff-sites"),
		StoreEndpoint:   GetString("CONTENT_STORE_ENDPOINT", ""),
		StoreRegion:     GetString("CONTENT_STORE_REGION", "auto"),
		StoreAccessKey:  GetString("CONTENT_STORE_ACCESS_KEY", ""),
		StoreSecretKey:  GetString("CONTENT_STORE_SECRET_KEY", ""),
		RedisAddr:       GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RedisPassword:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RedisDB:         GetInt("RATE_LIMIT_REDIS_DB", 0),
		SSEHeartbeat:    time.Duration(GetInt("SSE_HEARTBEAT_SECONDS", 15)) * time.Second,
		ShutdownTimeout: time.Duration(GetInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}
