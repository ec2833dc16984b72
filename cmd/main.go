package main

import (
	"net/http"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/opsdesk/service-orders/internal/auth"
	"github.com/opsdesk/service-orders/internal/db"
	"github.com/opsdesk/service-orders/internal/handlers"
	"github.com/opsdesk/service-orders/internal/middleware"
	"github.com/opsdesk/service-orders/internal/notify"
	"github.com/opsdesk/service-orders/internal/orders"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	client, err := db.ConnectMongo()
	if err != nil {
		log.WithError(err).Fatal("failed to connect to MongoDB")
	}
	log.Info("connected to MongoDB")

	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "serviceorders"
	}
	database := client.Database(dbName)

	orderCollection := &db.MongoOrderCollection{
		Orders:   database.Collection("orders"),
		Counters: database.Collection("counters"),
	}
	userCollection := &db.MongoUserCollection{
		Collection: database.Collection("users"),
	}
	establishmentCollection := &db.MongoEstablishmentCollection{
		Collection: database.Collection("establishments"),
	}

	authService, err := auth.NewService()
	if err != nil {
		log.WithError(err).Fatal("failed to create auth service")
	}

	var events orders.EventPublisher
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		publisher, err := notify.NewMQTTPublisher(broker, "service-orders-api", os.Getenv("MQTT_TOPIC_PREFIX"))
		if err != nil {
			log.WithError(err).Fatal("failed to connect to MQTT broker")
		}
		defer publisher.Close()
		events = publisher
		log.WithField("broker", broker).Info("publishing lifecycle events to MQTT")
	} else {
		log.Info("MQTT_BROKER not set, lifecycle events will not be published")
	}

	orderService := orders.NewService(orderCollection, userCollection, establishmentCollection, events)

	authHandler := handlers.NewAuthHandler(authService, userCollection)
	orderHandler := handlers.NewOrderHandler(orderService)
	establishmentHandler := handlers.NewEstablishmentHandler(establishmentCollection)

	authMiddleware := middleware.NewAuthMiddleware(authService)
	rateLimiter := middleware.NewRateLimitMiddleware()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", authHandler.Login)
	mux.HandleFunc("/api/auth/register", authHandler.Register)
	mux.HandleFunc("/api/orders", orderHandler.Orders)
	mux.HandleFunc("/api/orders/", orderHandler.OrderByID)
	mux.HandleFunc("/api/establishments", establishmentHandler.Establishments)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	handler := rateLimiter.RateLimit(300, 60)(authMiddleware.Authenticate(mux))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.WithField("port", port).Info("HTTP server listening")
	log.Fatal(http.ListenAndServe(":"+port, handler))
}
