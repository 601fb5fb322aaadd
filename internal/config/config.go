// Package config loads provider credentials and service settings from the
// environment, with an optional .env file for local development.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds everything main needs that is not a command line flag.
// Storage selection stays on flags; credentials and addresses live here.
type Config struct {
	ListenAddr string

	// CallbackBaseURL is the public base address the call provider can
	// reach for status callbacks, e.g. https://app.example.com.
	CallbackBaseURL string

	SendGridAPIKey string
	EmailFrom      string
	EmailFromName  string

	TwilioAccountSID string
	TwilioAuthToken  string
}

// Load reads the optional .env file and then the process environment.
func Load(log *logrus.Logger) Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using process environment")
	}

	return Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		CallbackBaseURL:  getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),
		SendGridAPIKey:   os.Getenv("SENDGRID_API_KEY"),
		EmailFrom:        getEnv("EMAIL_FROM", "reminders@localhost"),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Reminders"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
