package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aegishub/aegishub-go/internal/auth"
	"github.com/aegishub/aegishub-go/internal/store"
	pkgauth "github.com/aegishub/aegishub-go/pkg/auth"
)

// AuthHandlers serves login and identity lookups.
type AuthHandlers struct {
	store  *store.Store
	issuer *auth.TokenIssuer
}

// NewAuthHandlers creates auth handlers.
func NewAuthHandlers(s *store.Store, issuer *auth.TokenIssuer) *AuthHandlers {
	return &AuthHandlers{store: s, issuer: issuer}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
	OrgID    string `json:"org_id,omitempty"`
}

// HandleLogin exchanges credentials for a bearer token.
func (h *AuthHandlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "username and password are required")
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil || !pkgauth.CheckPasswordHash(req.Password, user.PasswordHash) {
		// Same response for unknown user and bad password.
		writeErrorResponse(w, http.StatusUnauthorized, "auth", "Invalid credentials")
		return
	}

	token, err := h.issuer.Issue(user, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:    token,
		Username: user.Username,
		Role:     string(user.Role),
		OrgID:    user.OrgID,
	})
}

// HandleMe returns the authenticated principal.
func (h *AuthHandlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeErrorResponse(w, http.StatusUnauthorized, "auth", "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":  principal.UserID,
		"username": principal.Username,
		"role":     string(principal.Role),
		"org_id":   principal.OrgID,
	})
}
