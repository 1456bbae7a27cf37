package main

import "time"

type Settings struct {
	Port        int    `env:"PORT,default=8000"`
	BasePath    string `env:"BASE_PATH,default=/api"`
	LogEncoding string `env:"LOG_ENCODING,default=console"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	// Webhook authentication is disabled when both are empty. API_KEYS is
	// comma separated.
	JWTSecret string `env:"JWT_SECRET"`
	APIKeys   string `env:"API_KEYS"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE,default=64"`

	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL,default=notifications"`

	MongoDBURI      string `env:"MONGODB_URI"`
	MongoDBDatabase string `env:"MONGODB_DATABASE,default=notifier"`

	AutomationURL      string        `env:"AUTOMATION_URL"`
	DispatchMaxRetries int           `env:"DISPATCH_MAX_RETRIES,default=3"`
	DispatchDelay      time.Duration `env:"DISPATCH_DELAY,default=1s"`
}
