package handler

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"orderengine/src/auth"
	"orderengine/src/model"
	"orderengine/src/repository"
	"orderengine/src/security"
)

type registerPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type credentialsPayload struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// RegisterUserHandler creates an account and returns its API token.
func RegisterUserHandler(users *repository.GormUserRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload registerPayload
		if err := decodeStrict(r, &payload); err != nil {
			logger.WithError(err).Warn("invalid register payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		payload.Username = strings.TrimSpace(payload.Username)
		if payload.Username == "" || payload.Password == "" {
			http.Error(w, "Username and password are required", http.StatusBadRequest)
			return
		}

		if existing, err := users.GetUserByUsername(r.Context(), payload.Username); err != nil {
			logger.WithError(err).Error("failed to check username")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		} else if existing != nil {
			http.Error(w, "Username already taken", http.StatusConflict)
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
		if err != nil {
			logger.WithError(err).Error("failed to hash password")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		user := &model.User{
			Username:     payload.Username,
			PasswordHash: string(hashedPassword),
			APIToken:     uuid.New().String(),
		}
		if err := users.Create(r.Context(), user); err != nil {
			logger.WithError(err).Error("failed to create user")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id":        user.ID,
			"username":  user.Username,
			"api_token": user.APIToken,
		})
	}
}

// LoginHandler verifies the password and returns the account's API token.
func LoginHandler(users *repository.GormUserRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload registerPayload
		if err := decodeStrict(r, &payload); err != nil {
			logger.WithError(err).Warn("invalid login payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		user, err := users.GetUserByUsername(r.Context(), strings.TrimSpace(payload.Username))
		if err != nil {
			logger.WithError(err).Error("failed to look up user")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(payload.Password)); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":        user.ID,
			"username":  user.Username,
			"api_token": user.APIToken,
		})
	}
}

// SetExchangeCredentialsHandler stores the user's exchange API key and
// secret encrypted at rest.
func SetExchangeCredentialsHandler(credentials *repository.ExchangeCredentialRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload credentialsPayload
		if err := decodeStrict(r, &payload); err != nil {
			logger.WithError(err).Warn("invalid credentials payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if payload.APIKey == "" || payload.APISecret == "" {
			http.Error(w, "api_key and api_secret are required", http.StatusBadRequest)
			return
		}

		encryptedKey, err := security.EncryptString(payload.APIKey)
		if err != nil {
			logger.WithError(err).Error("failed to encrypt api key")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		encryptedSecret, err := security.EncryptString(payload.APISecret)
		if err != nil {
			logger.WithError(err).Error("failed to encrypt api secret")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		cred := &model.ExchangeCredential{
			UserID:        user.ID,
			APIKeyHash:    encryptedKey,
			APISecretHash: encryptedSecret,
		}
		if err := credentials.Upsert(r.Context(), cred); err != nil {
			logger.WithError(err).Error("failed to store credentials")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "credentials stored"})
	}
}
