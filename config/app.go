package config

import (
	"os"
	"sync"
)

// AppConfig holds global application configuration
var AppConfig *Config
var once sync.Once

type Config struct {
	AppName      string
	Env          string
	Debug        bool
	EventChannel string
	// Add more fields as needed
}

// LoadAppConfig initializes the global AppConfig variable
func LoadAppConfig() {
	once.Do(func() {
		channel := os.Getenv("EVENT_CHANNEL")
		if channel == "" {
			channel = "stocktag.transitions"
		}
		AppConfig = &Config{
			AppName:      os.Getenv("APP_NAME"),
			Env:          os.Getenv("APP_ENV"),
			Debug:        os.Getenv("DEBUG") == "true",
			EventChannel: channel,
		}
	})
}
