package config

import "time"

// RouterConfig holds runtime configuration for the content resolver service.
type RouterConfig struct {
	Environment     string
	Addr            string
	MetricsAddr     string
	StoreBucket     string
	StoreEndpoint   string
	StoreRegion     string
	StoreAccessKey  string
	StoreSecretKey  string
	CacheMaxAge     time.Duration
	ShutdownTimeout time.Duration
}

// LoadRouterConfig constructs a RouterConfig from environment variables.
func LoadRouterConfig() RouterConfig {
	return RouterConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("ROUTER_ADDR", ":8080"),
		MetricsAddr:     GetString("ROUTER_METRICS_ADDR", ":9090"),
		StoreBucket:     GetString("CONTENT_STORE_BUCKET", "skiff-sites"),
		StoreEndpoint:   GetString("CONTENT_STORE_ENDPOINT", ""),
		StoreRegion:     GetString("CONTENT_STORE_REGION", "auto"),
		StoreAccessKey:  GetString("CONTENT_STORE_ACCESS_KEY", ""),
		StoreSecretKey:  GetString("CONTENT_STORE_SECRET_KEY", ""),
		CacheMaxAge:     time.Duration(GetInt("CACHE_MAX_AGE_SECONDS", 3600)) * time.Second,
		ShutdownTimeout: time.Duration(GetInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}
