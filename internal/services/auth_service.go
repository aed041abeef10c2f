package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/coopbank/backend/internal/models"
)

const maxFailedLogins = 5

// AuthService handles signup, login with failed-attempt lockout, and
// logout. It is boundary glue: the core services only ever see the
// resolved client id it puts on the request context.
type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *validator.Validate
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: validator.New(),
	}
}

// RegisterRequest is the signup payload.
type RegisterRequest struct {
	ClientID   string `json:"clientId" validate:"required,min=4,max=40"`
	Name       string `json:"name" validate:"required,min=2,max=40"`
	Password   string `json:"password" validate:"required,min=8"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"required,min=9,max=20"`
	NationalID string `json:"nationalId" validate:"required,min=6,max=30"`
	Address    string `json:"address" validate:"required,max=255"`
}

// LoginRequest is the login payload.
type LoginRequest struct {
	ClientID string `json:"clientId" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned on successful registration or login.
type AuthResponse struct {
	Token  string         `json:"token"`
	Client *models.Client `json:"client"`
}

// Register handles client signup.
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RegisterRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Registration failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.ClientID, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	client := &models.Client{
		ClientID:   req.ClientID,
		Name:       req.Name,
		Email:      strings.ToLower(req.Email),
		Phone:      req.Phone,
		NationalID: req.NationalID,
		Address:    req.Address,
		JoinedAt:   time.Now(),
	}
	err = s.db.QueryRowContext(r.Context(), `
		INSERT INTO clients (client_id, name, password_hash, email, phone, national_id, address, failed_logins, locked, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, false, $8)
		RETURNING id`,
		client.ClientID, client.Name, hashedPassword, client.Email, client.Phone, client.NationalID, client.Address, client.JoinedAt).Scan(&client.ID)
	if err != nil {
		if isUniqueViolation(err) {
			log.Printf("[AUTH] Registration conflict for %s", req.ClientID)
			SendErrorResponse(w, "Client id, phone or national id already registered", http.StatusConflict, nil)
			return
		}
		log.Printf("[AUTH] Client creation failed for %s: %v", req.ClientID, err)
		SendErrorResponse(w, "Failed to create client", http.StatusInternalServerError, nil)
		return
	}

	token, err := generateJWT(client.ID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for client %d: %v", client.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Registration successful for client %d", client.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, Client: client})
}

// Login handles client authentication. Five consecutive failures lock the
// client out for the configured window; a successful login resets the
// counter.
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var client models.Client
	var hashedPassword string
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, client_id, name, password_hash, email, phone, failed_logins, locked, locked_until, joined_at
		FROM clients
		WHERE client_id = $1`,
		req.ClientID).Scan(&client.ID, &client.ClientID, &client.Name, &hashedPassword,
		&client.Email, &client.Phone, &client.FailedLogins, &client.Locked, &client.LockedUntil, &client.JoinedAt)
	if err != nil {
		log.Printf("[AUTH] Client not found: %s", req.ClientID)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if client.Locked {
		if client.LockedUntil == nil || client.LockedUntil.After(time.Now()) {
			log.Printf("[AUTH] Login rejected, client %d is locked", client.ID)
			SendErrorResponse(w, "Account is locked, try again later", http.StatusForbidden, nil)
			return
		}
		// Lock window has passed; fall through and let this attempt decide.
	}

	if !verifyPassword(req.Password, hashedPassword) {
		s.recordFailedLogin(r.Context(), &client)
		if client.Locked {
			SendErrorResponse(w, "Account locked after too many failed attempts", http.StatusForbidden, nil)
			return
		}
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if _, err := s.db.ExecContext(r.Context(),
		"UPDATE clients SET failed_logins = 0, locked = false, locked_until = NULL WHERE id = $1", client.ID); err != nil {
		log.Printf("[AUTH] Failed to reset login counters for client %d: %v", client.ID, err)
	}

	token, err := generateJWT(client.ID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for client %d: %v", client.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for client %d", client.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, Client: &client})
}

// Logout blacklists the presented token until its natural expiry.
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

func (s *AuthService) recordFailedLogin(ctx context.Context, client *models.Client) {
	client.FailedLogins++
	client.Locked = client.FailedLogins >= maxFailedLogins

	var lockedUntil *time.Time
	if client.Locked {
		until := time.Now().Add(time.Duration(viper.GetInt("auth.lockout_minutes")) * time.Minute)
		lockedUntil = &until
		log.Printf("[AUTH] Client %d locked after %d failed attempts", client.ID, client.FailedLogins)
	}

	_, err := s.db.ExecContext(ctx,
		"UPDATE clients SET failed_logins = $1, locked = $2, locked_until = $3 WHERE id = $4",
		client.FailedLogins, client.Locked, lockedUntil, client.ID)
	if err != nil {
		log.Printf("[AUTH] Failed to record failed login for client %d: %v", client.ID, err)
	}
}

func generateJWT(clientID int) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"client_id": clientID,
		"exp":       time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
