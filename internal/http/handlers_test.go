package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pollbox/pollbox/internal/auth"
	"github.com/pollbox/pollbox/internal/config"
	"github.com/pollbox/pollbox/internal/polls"
	"github.com/pollbox/pollbox/internal/testutil"
	"github.com/pollbox/pollbox/internal/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() config.Config {
	return config.Config{
		CORSOrigin:     "*",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		IPSalt:         "test-salt",
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()

	db := testutil.OpenDB(t)
	env := &Env{
		Auth:  auth.NewService(db, time.Hour),
		Polls: polls.NewService(db, testutil.NewFakeCache(), cfg.IPSalt),
	}
	hub := ws.NewHub()
	go hub.Run()

	router := gin.New()
	SetupRoutes(router, env, hub, cfg)
	return router, db
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func registerAndLogin(t *testing.T, router *gin.Engine, email string) string {
	t.Helper()

	w := doJSON(t, router, "POST", "/api/auth/register", "", gin.H{
		"email":    email,
		"name":     "Test User",
		"password": "a very long password",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Register returned %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/auth/login", "", gin.H{
		"email":    email,
		"password": "a very long password",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Login returned %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, w, &resp)
	return resp.Token
}

func createPoll(t *testing.T, router *gin.Engine, token string, options ...string) (pollID string, optionIDs []string) {
	t.Helper()

	w := doJSON(t, router, "POST", "/api/polls", token, gin.H{
		"title":   "Best beverage?",
		"options": options,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("CreatePoll returned %d: %s", w.Code, w.Body.String())
	}
	var poll struct {
		ID      string `json:"id"`
		Options []struct {
			ID string `json:"id"`
		} `json:"options"`
	}
	decode(t, w, &poll)
	for _, o := range poll.Options {
		optionIDs = append(optionIDs, o.ID)
	}
	return poll.ID, optionIDs
}

func TestAuthFlow(t *testing.T) {
	router, _ := newTestServer(t, testConfig())

	token := registerAndLogin(t, router, "ana@example.com")

	w := doJSON(t, router, "GET", "/api/auth/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Me returned %d: %s", w.Code, w.Body.String())
	}
	var me struct {
		Email string `json:"email"`
	}
	decode(t, w, &me)
	if me.Email != "ana@example.com" {
		t.Errorf("Expected ana@example.com, got %q", me.Email)
	}

	w = doJSON(t, router, "POST", "/api/auth/logout", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Logout returned %d", w.Code)
	}
	w = doJSON(t, router, "GET", "/api/auth/me", token, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 after logout, got %d", w.Code)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	router, _ := newTestServer(t, testConfig())

	registerAndLogin(t, router, "ana@example.com")
	w := doJSON(t, router, "POST", "/api/auth/register", "", gin.H{
		"email":    "ana@example.com",
		"name":     "Other Ana",
		"password": "another long password",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreatePollRequiresAuth(t *testing.T) {
	router, _ := newTestServer(t, testConfig())

	w := doJSON(t, router, "POST", "/api/polls", "", gin.H{
		"title":   "T",
		"options": []string{"A", "B"},
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestPollLifecycle(t *testing.T) {
	router, _ := newTestServer(t, testConfig())

	creatorToken := registerAndLogin(t, router, "creator@example.com")
	voterToken := registerAndLogin(t, router, "voter@example.com")

	pollID, optionIDs := createPoll(t, router, creatorToken, "Tea", "Coffee")

	w := doJSON(t, router, "GET", "/api/polls/"+pollID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GetPoll returned %d", w.Code)
	}

	// Ballot, then a second ballot from the same voter.
	w = doJSON(t, router, "POST", "/api/polls/"+pollID+"/responses", voterToken, gin.H{
		"content": optionIDs[0],
		"kind":    "ballot",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Vote returned %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, "POST", "/api/polls/"+pollID+"/responses", voterToken, gin.H{
		"content": optionIDs[1],
		"kind":    "ballot",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 on second ballot, got %d", w.Code)
	}

	// Emoji once, then the identical emoji again.
	w = doJSON(t, router, "POST", "/api/polls/"+pollID+"/responses", voterToken, gin.H{
		"content": "👍",
		"kind":    "emoji",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Reaction returned %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, "POST", "/api/polls/"+pollID+"/responses", voterToken, gin.H{
		"content": "👍",
		"kind":    "emoji",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 on repeated emoji, got %d", w.Code)
	}
	var dup struct {
		Error string `json:"error"`
	}
	decode(t, w, &dup)
	if dup.Error != "You have already responded with this emoji." {
		t.Errorf("Unexpected duplicate message: %q", dup.Error)
	}

	w = doJSON(t, router, "GET", "/api/polls/"+pollID+"/results", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Results returned %d", w.Code)
	}
	var results struct {
		TotalBallots int64            `json:"totalBallots"`
		EmojiCounts  map[string]int64 `json:"emojiCounts"`
	}
	decode(t, w, &results)
	if results.TotalBallots != 1 || results.EmojiCounts["👍"] != 1 {
		t.Errorf("Unexpected results: %+v", results)
	}

	// Only the creator can delete.
	w = doJSON(t, router, "DELETE", "/api/polls/"+pollID, voterToken, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-creator delete, got %d", w.Code)
	}
	w = doJSON(t, router, "DELETE", "/api/polls/"+pollID, creatorToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Delete returned %d", w.Code)
	}
	w = doJSON(t, router, "GET", "/api/polls/"+pollID, "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", w.Code)
	}
}

func TestSubmitResponseRequiresLogin(t *testing.T) {
	router, _ := newTestServer(t, testConfig())
	token := registerAndLogin(t, router, "creator@example.com")
	pollID, optionIDs := createPoll(t, router, token, "Tea", "Coffee")

	w := doJSON(t, router, "POST", "/api/polls/"+pollID+"/responses", "", gin.H{
		"content": optionIDs[0],
		"kind":    "ballot",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", w.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	decode(t, w, &resp)
	if resp.Error != "You must be logged in to respond." {
		t.Errorf("Unexpected message: %q", resp.Error)
	}
}

func TestMalformedPollID(t *testing.T) {
	router, _ := newTestServer(t, testConfig())
	token := registerAndLogin(t, router, "ana@example.com")

	w := doJSON(t, router, "POST", "/api/polls/not-a-uuid/responses", token, gin.H{
		"content": "👍",
		"kind":    "emoji",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDashboard(t *testing.T) {
	router, _ := newTestServer(t, testConfig())

	creatorToken := registerAndLogin(t, router, "creator@example.com")
	voterToken := registerAndLogin(t, router, "voter@example.com")
	pollID, optionIDs := createPoll(t, router, creatorToken, "Tea", "Coffee")

	w := doJSON(t, router, "POST", "/api/polls/"+pollID+"/responses", voterToken, gin.H{
		"content": optionIDs[0],
		"kind":    "ballot",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Vote returned %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/api/dashboard/polls", creatorToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Dashboard returned %d", w.Code)
	}
	var list []struct {
		ID          string `json:"id"`
		BallotCount int64  `json:"ballotCount"`
	}
	decode(t, w, &list)
	if len(list) != 1 || list[0].ID != pollID || list[0].BallotCount != 1 {
		t.Errorf("Unexpected dashboard: %+v", list)
	}

	// The voter owns no polls.
	w = doJSON(t, router, "GET", "/api/dashboard/polls", voterToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Dashboard returned %d", w.Code)
	}
	var empty []struct{}
	decode(t, w, &empty)
	if len(empty) != 0 {
		t.Errorf("Expected no polls for voter, got %d", len(empty))
	}
}

func TestWriteRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1.0 / 3.0
	cfg.RateLimitBurst = 1
	router, _ := newTestServer(t, cfg)

	first := doJSON(t, router, "POST", "/api/auth/register", "", gin.H{
		"email":    "one@example.com",
		"name":     "One",
		"password": "a very long password",
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("First register returned %d", first.Code)
	}

	second := doJSON(t, router, "POST", "/api/auth/register", "", gin.H{
		"email":    "two@example.com",
		"name":     "Two",
		"password": "a very long password",
	})
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", second.Code)
	}
}
