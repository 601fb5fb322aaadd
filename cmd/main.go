package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"bizminder/internal/channel"
	"bizminder/internal/config"
	"bizminder/internal/engine"
	"bizminder/internal/handlers"
	"bizminder/internal/storage"
)

func main() {
	storageType := flag.String("storage", "file", "storage backend to use: memory, file, sqlite, or mongo")
	reminderFile := flag.String("reminder-file", "reminders.json", "reminder data file (used when storage=file)")
	userFile := flag.String("user-file", "users.json", "user data file (used when storage=file)")
	sqlitePath := flag.String("sqlite-path", "bizminder.db", "SQLite database file (used when storage=sqlite)")
	mongoConnString := flag.String("mongo-conn", "mongodb://localhost:27017", "MongoDB connection string (used when storage=mongo)")
	mongoDatabase := flag.String("mongo-db", "bizminder", "MongoDB database name (used when storage=mongo)")
	autoStart := flag.Bool("auto-start", true, "start the trigger loops on boot")

	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Load(log)

	var store storage.Storage
	var err error

	switch *storageType {
	case "memory":
		log.Info("Using memory storage")
		store = storage.NewMemoryStorage()
	case "file":
		log.WithFields(logrus.Fields{"reminders": *reminderFile, "users": *userFile}).Info("Using file storage")
		store = storage.NewFileStorage(*reminderFile, *userFile)
	case "sqlite":
		log.WithField("path", *sqlitePath).Info("Using SQLite storage")
		store, err = storage.NewSQLiteStorage(*sqlitePath)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize SQLite storage")
		}
	case "mongo":
		log.WithFields(logrus.Fields{"connection": *mongoConnString, "database": *mongoDatabase}).Info("Using MongoDB storage")
		store, err = storage.NewMongoStorage(*mongoConnString, *mongoDatabase)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize MongoDB storage")
		}
	default:
		log.Fatalf("Invalid storage type: %s. Valid options are: memory, file, sqlite, mongo", *storageType)
	}

	hub := channel.NewHub(log)

	var email channel.EmailSender
	if cfg.SendGridAPIKey != "" {
		email = channel.NewSendGridSender(cfg.SendGridAPIKey, cfg.EmailFromName, cfg.EmailFrom)
	} else {
		log.Warn("SENDGRID_API_KEY not set, email channel logs instead of sending")
		email = &channel.LogEmailSender{Log: log}
	}

	var voice channel.VoiceCaller
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		voice = channel.NewTwilioCaller(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	} else {
		log.Warn("Twilio credentials not set, voice channel disabled")
	}

	callbackURL := cfg.CallbackBaseURL + "/twilio/call-status"
	eng := engine.New(store, email, voice, hub, callbackURL, log)

	if *autoStart {
		eng.StartTimeLoop()
		eng.StartLocationLoop()
	}

	r := mux.NewRouter()
	handlers.New(store, eng, hub, log).RegisterRoutes(r)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("Starting bizminder")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Could not start HTTP server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	eng.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
}
