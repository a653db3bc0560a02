package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/iosfx/autoservice/internal/core"
)

const tokenTTL = 7 * 24 * time.Hour

func (s *Server) issueToken(user core.User) (string, error) {
	claims := jwt.MapClaims{
		"sub":       user.ID,
		"garage_id": user.GarageID,
		"iat":       time.Now().Unix(),
		"exp":       time.Now().Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.JWTSecret)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GarageName string  `json:"garage_name"`
		Email      string  `json:"email"`
		Password   string  `json:"password"`
		Name       *string `json:"name"`
		Timezone   string  `json:"timezone"`
	}
	if err := decode(r, &in); err != nil || in.GarageName == "" || in.Email == "" || len(in.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "garage name, email and a password of at least 8 characters are required"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, err)
		return
	}

	garage, user, err := s.Store.CreateGarageWithUser(r.Context(), in.GarageName, in.Timezone, in.Email, string(hash), in.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := s.issueToken(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "garage": garage, "user": user})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &in); err != nil || in.Email == "" || in.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "email and password are required"})
		return
	}

	user, err := s.Store.GetUserByEmail(r.Context(), in.Email)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
			return
		}
		writeError(w, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	}

	token, err := s.issueToken(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}
