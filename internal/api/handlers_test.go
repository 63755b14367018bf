package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/auth"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.MemoryRepository) {
	t.Helper()
	repo := store.NewMemoryRepository()
	tokens := auth.NewManager("test-secret", time.Hour)
	h := NewHandler(repo, tokens, logger.Default())
	router := Router(h, tokens, func(http.ResponseWriter, *http.Request) {}, logger.Default())
	return router, repo
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("bad response body %q: %v", w.Body.String(), err)
	}
	return m
}

func registerUser(t *testing.T, router *gin.Engine, username string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": username,
		"password": "secret-password",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register failed: %d %s", w.Code, w.Body.String())
	}
	return decode(t, w)["token"].(string)
}

func TestRegisterAndLogin(t *testing.T) {
	router, _ := newTestRouter(t)

	token := registerUser(t, router, "alice")
	if token == "" {
		t.Fatal("expected token from register")
	}

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"username": "alice",
		"password": "secret-password",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"username": "alice",
		"password": "wrong-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", w.Code)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	router, _ := newTestRouter(t)
	registerUser(t, router, "alice")

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "alice",
		"password": "another-password",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "al",
		"password": "short",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/projects", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/projects", "garbage-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", w.Code)
	}
}

func TestProjectCRUD(t *testing.T) {
	router, _ := newTestRouter(t)
	token := registerUser(t, router, "alice")

	w := doJSON(t, router, http.MethodPost, "/api/v1/projects", token, gin.H{
		"name":    "deck",
		"workDir": "/srv/deck",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create project failed: %d %s", w.Code, w.Body.String())
	}
	projectID := decode(t, w)["id"].(string)

	w = doJSON(t, router, http.MethodGet, "/api/v1/projects", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list projects failed: %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPut, "/api/v1/projects/"+projectID, token, gin.H{
		"name": "deck-renamed",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update project failed: %d %s", w.Code, w.Body.String())
	}
	if decode(t, w)["name"] != "deck-renamed" {
		t.Error("expected renamed project")
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/projects/"+projectID, token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete project failed: %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/projects/"+projectID, token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
}

func TestProjectOwnershipIsolation(t *testing.T) {
	router, _ := newTestRouter(t)
	aliceToken := registerUser(t, router, "alice")
	bobToken := registerUser(t, router, "bob")

	w := doJSON(t, router, http.MethodPost, "/api/v1/projects", aliceToken, gin.H{
		"name":    "private",
		"workDir": "/srv/private",
	})
	projectID := decode(t, w)["id"].(string)

	w = doJSON(t, router, http.MethodGet, "/api/v1/projects/"+projectID, bobToken, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for foreign project, got %d", w.Code)
	}
}

func TestAgentCRUD(t *testing.T) {
	router, _ := newTestRouter(t)
	token := registerUser(t, router, "alice")

	w := doJSON(t, router, http.MethodPost, "/api/v1/projects", token, gin.H{
		"name":    "deck",
		"workDir": "/srv/deck",
	})
	projectID := decode(t, w)["id"].(string)

	w = doJSON(t, router, http.MethodPost, "/api/v1/agents", token, gin.H{
		"projectId":    projectID,
		"name":         "builder",
		"systemPrompt": "be careful",
		"model":        "claude-sonnet",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create agent failed: %d %s", w.Code, w.Body.String())
	}
	agentID := decode(t, w)["id"].(string)

	w = doJSON(t, router, http.MethodGet, "/api/v1/projects/"+projectID+"/agents", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list agents failed: %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPut, "/api/v1/agents/"+agentID, token, gin.H{
		"model": "claude-opus",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update agent failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/agents/"+agentID, token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete agent failed: %d", w.Code)
	}
}

func TestCreateAgentForeignProject(t *testing.T) {
	router, _ := newTestRouter(t)
	aliceToken := registerUser(t, router, "alice")
	bobToken := registerUser(t, router, "bob")

	w := doJSON(t, router, http.MethodPost, "/api/v1/projects", aliceToken, gin.H{
		"name":    "private",
		"workDir": "/srv/private",
	})
	projectID := decode(t, w)["id"].(string)

	w = doJSON(t, router, http.MethodPost, "/api/v1/agents", bobToken, gin.H{
		"projectId": projectID,
		"name":      "intruder",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 creating agent in foreign project, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
