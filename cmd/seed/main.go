// Command seed provisions demo users and sample service orders. Users and the
// establishment directory are written straight to MongoDB (bootstrap needs no
// admin token that way); the sample orders are created through the HTTP API so
// the whole request path gets exercised.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/opsdesk/service-orders/internal/auth"
	"github.com/opsdesk/service-orders/internal/db"
	"github.com/opsdesk/service-orders/internal/models"
)

type seedUser struct {
	username string
	email    string
	role     models.Role
	first    string
	last     string
}

var seedUsers = []seedUser{
	{"admin", "admin@example.com", models.RoleAdmin, "Ada", "Admin"},
	{"tech1", "tech1@example.com", models.RoleTechnician, "Tim", "Turner"},
	{"tech2", "tech2@example.com", models.RoleTechnician, "Tara", "Torres"},
	{"user1", "user1@example.com", models.RoleEndUser, "Uma", "Usher"},
}

var sampleOrders = []models.CreateOrderRequest{
	{Title: "AC broken in meeting room", Description: "No cold air since Monday", Priority: models.PriorityHigh},
	{Title: "Flickering light, 2nd floor", Description: "Corridor near the elevator", Priority: models.PriorityLow},
	{Title: "Leaking faucet in kitchen", Description: "Constant drip", Priority: models.PriorityMedium},
	{Title: "Server room overheating", Description: "Temperature alarm firing", Priority: models.PriorityUrgent},
}

func main() {
	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = "password123"
	}

	client, err := db.ConnectMongo()
	if err != nil {
		log.WithError(err).Fatal("failed to connect to MongoDB")
	}
	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "serviceorders"
	}
	database := client.Database(dbName)
	users := &db.MongoUserCollection{Collection: database.Collection("users")}
	establishments := &db.MongoEstablishmentCollection{Collection: database.Collection("establishments")}

	authService, err := auth.NewService()
	if err != nil {
		log.WithError(err).Fatal("failed to create auth service")
	}
	hash, err := authService.HashPassword(password)
	if err != nil {
		log.WithError(err).Fatal("failed to hash seed password")
	}

	ctx := context.Background()
	for _, su := range seedUsers {
		if _, err := users.FindUserByUsername(ctx, su.username); err == nil {
			log.WithField("username", su.username).Info("user already seeded")
			continue
		}
		err := users.InsertUser(ctx, models.User{
			Username:     su.username,
			Email:        su.email,
			PasswordHash: hash,
			Role:         su.role,
			FirstName:    su.first,
			LastName:     su.last,
		})
		if err != nil {
			log.WithError(err).WithField("username", su.username).Fatal("failed to seed user")
		}
		log.WithFields(log.Fields{"username": su.username, "role": su.role}).Info("seeded user")
	}

	establishmentID, err := establishments.InsertEstablishment(ctx, models.Establishment{
		Name:    "Headquarters",
		Address: "1 Main Street",
		Sectors: []string{"Kitchen", "Server Room", "Meeting Rooms"},
	})
	if err != nil {
		log.WithError(err).Fatal("failed to seed establishment")
	}
	log.WithField("establishment_id", establishmentID).Info("seeded establishment")

	token := login(apiURL, "user1", password)
	for _, req := range sampleOrders {
		req.EstablishmentID = establishmentID
		createOrder(apiURL, token, req)
	}
	log.Info("seeding complete")
}

func login(apiURL, username, password string) string {
	body, _ := json.Marshal(models.LoginRequest{Username: username, Password: password})
	resp, err := http.Post(apiURL+"/api/auth/login", "application/json", bytes.NewBuffer(body))
	if err != nil {
		log.WithError(err).Fatal("login request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.WithField("status", resp.StatusCode).Fatal("login rejected")
	}
	var lr models.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		log.WithError(err).Fatal("failed to decode login response")
	}
	return lr.Token
}

func createOrder(apiURL, token string, orderReq models.CreateOrderRequest) {
	body, _ := json.Marshal(orderReq)
	req, _ := http.NewRequest(http.MethodPost, apiURL+"/api/orders", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		log.WithError(err).Fatal("create order request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		log.WithField("status", resp.StatusCode).Fatal("create order rejected")
	}
	var order models.ServiceOrder
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		log.WithError(err).Fatal("failed to decode order response")
	}
	fmt.Printf("created order #%d: %s\n", order.OrderNumber, order.Title)
}
