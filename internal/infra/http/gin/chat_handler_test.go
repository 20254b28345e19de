package ginserver_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusfound/internal/app/dto"
	domainchat "campusfound/internal/domain/chat"
	"campusfound/internal/infra/config"
	ginserver "campusfound/internal/infra/http/gin"
	"campusfound/internal/infra/obs"
	"campusfound/internal/infra/storage/memory"
)

type apiFixture struct {
	handler http.Handler
	store   *memory.Store
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.NewStore()
	profiles := memory.NewProfileRepository()
	profiles.Save(domainchat.Profile{ID: "u1", FirstName: "Ada", LastName: "Lovelace"})
	profiles.Save(domainchat.Profile{ID: "u2", FirstName: "Bob", LastName: "Smith"})
	listings := memory.NewListingRepository()
	listings.Save(domainchat.Listing{ID: "l1", Title: "Lost keys", PosterID: "u2"})

	identity := memory.NewIdentityResolver(profiles)
	identity.Grant("tok-u1", "u1")
	identity.Grant("tok-u2", "u2")

	chatHandler := ginserver.ChatHandler{
		Store:    store,
		Profiles: profiles,
		Listings: listings,
		Logger:   logger,
	}
	server := ginserver.NewServer(config.Config{Env: "test", HTTPAddr: ":0"},
		obs.Middleware{Logger: logger},
		obs.HealthHandlers{Checks: []obs.HealthCheck{{Name: "store", Probe: func() error { return nil }}}},
		ginserver.Handlers{
			Chat:           chatHandler,
			AuthMiddleware: ginserver.AuthMiddleware{Resolver: identity, Logger: logger}.Handle,
		})
	return apiFixture{handler: server.Handler, store: store}
}

func (f apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestAPIRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/livez", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "", nil).Code)
}

func TestAPIContactPosterFlow(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/listings/l1/contact", "tok-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv dto.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "l1", conv.ListingID)
	assert.Equal(t, "Lost keys", conv.ListingTitle)
	assert.Equal(t, "u2", conv.PeerID)
	assert.Equal(t, "Bob Smith", conv.PeerName)

	// Contacting again converges on the same conversation.
	rec = f.do(t, http.MethodPost, "/api/v1/listings/l1/contact", "tok-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var again dto.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, conv.ID, again.ID)

	// The poster cannot message themselves.
	rec = f.do(t, http.MethodPost, "/api/v1/listings/l1/contact", "tok-u2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/listings/unknown/contact", "tok-u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIMessagingFlow(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/listings/l1/contact", "tok-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv dto.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = f.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", "tok-u1", map[string]string{"content": "  is this yours?  "})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sent dto.ChatMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sent))
	assert.Equal(t, "is this yours?", sent.Content)
	assert.Equal(t, "u1", sent.SenderID)

	// Whitespace-only content never reaches the store.
	rec = f.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", "tok-u1", map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", "tok-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Items []dto.ChatMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Items, 1)
	assert.Equal(t, sent.ID, listing.Items[0].ID)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations", "tok-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var directory dto.ConversationList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &directory))
	require.Len(t, directory.Items, 1)
	assert.Equal(t, conv.ID, directory.Items[0].ID)
	assert.Equal(t, "Bob Smith", directory.Items[0].PeerName)
}

func TestAPICloseConversation(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/listings/l1/contact", "tok-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv dto.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = f.do(t, http.MethodDelete, "/api/v1/conversations/"+conv.ID, "tok-u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The conversation is gone and the close stays idempotent.
	rec = f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", "tok-u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/conversations/"+conv.ID, "tok-u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The closer's directory no longer lists it.
	rec = f.do(t, http.MethodGet, "/api/v1/conversations", "tok-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var directory dto.ConversationList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &directory))
	assert.Empty(t, directory.Items)
}
