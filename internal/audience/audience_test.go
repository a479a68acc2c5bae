package audience

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/school-notify/internal/model"
)

var roster = []Member{
	{ID: "p1", Name: "Reza", Email: "reza@example.com", Phone: "+989120000001", Role: "parent", StudentID: "s1", ClassID: "7-B"},
	{ID: "p2", Name: "Mina", Email: "mina@example.com", Role: "parent", StudentID: "s2", ClassID: "7-B", Groups: []string{"choir"}},
	{ID: "p3", Name: "Omid", Phone: "+989120000003", Role: "parent", StudentID: "s3", ClassID: "8-A"},
	{ID: "t1", Name: "Ms Karimi", Email: "karimi@example.com", Role: "teacher", ClassID: "7-B"},
}

func TestStatic_Resolve(t *testing.T) {
	s := NewStatic(map[string][]Member{"school-1": roster})
	ctx := context.Background()

	t.Run("parents of a class by email", func(t *testing.T) {
		got, err := s.Resolve(ctx, "school-1", model.ChannelEmail, &model.AudienceFilter{Role: "parent", ClassIDs: []string{"7-B"}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "reza@example.com", got[0].Address)
		assert.Equal(t, "s1", got[0].StudentID)
	})

	t.Run("members without a phone are skipped for sms", func(t *testing.T) {
		got, err := s.Resolve(ctx, "school-1", model.ChannelSMS, &model.AudienceFilter{Role: "parent"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "+989120000003", got[1].Address)
	})

	t.Run("group filter", func(t *testing.T) {
		got, err := s.Resolve(ctx, "school-1", model.ChannelEmail, &model.AudienceFilter{Group: "choir"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "p2", got[0].ID)
	})

	t.Run("other tenants see nothing", func(t *testing.T) {
		got, err := s.Resolve(ctx, "school-2", model.ChannelEmail, &model.AudienceFilter{Role: "parent"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestHTTPResolver_Resolve(t *testing.T) {
	var gotFilter model.AudienceFilter
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tenants/school-1/audience", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotFilter))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rosterResponse{Members: roster[:3]})
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, "tok", 2*time.Second)
	got, err := r.Resolve(context.Background(), "school-1", model.ChannelSMS, &model.AudienceFilter{Role: "parent", ClassIDs: []string{"7-B", "8-A"}})
	require.NoError(t, err)

	assert.Equal(t, "parent", gotFilter.Role)
	assert.Equal(t, []string{"7-B", "8-A"}, gotFilter.ClassIDs)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "p3", got[1].ID)
}

func TestHTTPResolver_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown tenant", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPResolver(srv.URL, "", time.Second).Resolve(context.Background(), "nope", model.ChannelEmail, &model.AudienceFilter{Role: "parent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
