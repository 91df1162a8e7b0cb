package klaviyo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andzen/prospect-audit/internal/ratelimit"
)

func TestClassifyListPriority(t *testing.T) {
	cases := []struct {
		name     string
		expected int
	}{
		{"Members (Subscribed)", 3},
		{"Members (Cleaned)", 2},
		{"All Members", 1},
		{"Newsletter", 0},
		{"Shopify Collection — Tops", -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ClassifyListPriority(tc.name))
		})
	}
}

// listsFixture serves a list index plus per-list profile counts.
func listsFixture(t *testing.T, counts map[string]int, names map[string]string, order []string) *ListsService {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/lists/", func(w http.ResponseWriter, r *http.Request) {
		trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/lists/"), "/")
		if trimmed == "" {
			var entries []string
			for _, id := range order {
				entries = append(entries, fmt.Sprintf(
					`{"type": "list", "id": %q, "attributes": {"name": %q}}`, id, names[id]))
			}
			fmt.Fprintf(w, `{"data": [%s], "links": {}}`, strings.Join(entries, ","))
			return
		}
		id := strings.TrimSuffix(trimmed, "/profiles")
		fmt.Fprintf(w, `{"data": {"type": "list", "id": %q, "attributes": {"profile_count": %d}}}`,
			id, counts[id])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, _ := newTestClient(srv, ratelimit.TierXL)
	return NewListsService(client, nil, nil)
}

func TestSelectPrimaryListPrefersSubscribedMembers(t *testing.T) {
	// The Shopify mirror is the biggest list but is excluded; the
	// subscribed-members list wins over the larger generic members list.
	service := listsFixture(t,
		map[string]int{"L1": 50000, "L2": 12000, "L3": 9000},
		map[string]string{
			"L1": "Shopify Collection — Tops",
			"L2": "All Members",
			"L3": "Members (Subscribed)",
		},
		[]string{"L1", "L2", "L3"})

	ctx := context.Background()
	lists, err := service.GetLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 3)

	best, ok := service.SelectPrimaryList(ctx, lists)
	require.True(t, ok)
	assert.Equal(t, "L3", best.ID)
	assert.Equal(t, 9000, best.ProfileCount)
}

func TestSelectPrimaryListTieBreaksOnCount(t *testing.T) {
	service := listsFixture(t,
		map[string]int{"L1": 100, "L2": 900},
		map[string]string{"L1": "Spring Newsletter", "L2": "Holiday Newsletter"},
		[]string{"L1", "L2"})

	ctx := context.Background()
	lists, err := service.GetLists(ctx)
	require.NoError(t, err)

	best, ok := service.SelectPrimaryList(ctx, lists)
	require.True(t, ok)
	assert.Equal(t, "L2", best.ID)
}

func TestSelectPrimaryListSkipsEmptyLists(t *testing.T) {
	service := listsFixture(t,
		map[string]int{"L1": 0, "L2": 40},
		map[string]string{"L1": "Members (Subscribed)", "L2": "Newsletter"},
		[]string{"L1", "L2"})

	ctx := context.Background()
	lists, err := service.GetLists(ctx)
	require.NoError(t, err)

	best, ok := service.SelectPrimaryList(ctx, lists)
	require.True(t, ok)
	assert.Equal(t, "L2", best.ID)
}

func TestSelectPrimaryListNothingUsable(t *testing.T) {
	service := listsFixture(t,
		map[string]int{"L1": 0},
		map[string]string{"L1": "Newsletter"},
		[]string{"L1"})

	ctx := context.Background()
	lists, err := service.GetLists(ctx)
	require.NoError(t, err)

	_, ok := service.SelectPrimaryList(ctx, lists)
	assert.False(t, ok)
}

func TestGetListProfileCountFallsBackToPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/lists/L1/", func(w http.ResponseWriter, r *http.Request) {
		// Account revision without additional-fields support.
		fmt.Fprint(w, `{"data": {"type": "list", "id": "L1", "attributes": {}}}`)
	})
	mux.HandleFunc("/lists/L1/profiles/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page[size]"))
		fmt.Fprint(w, `{"data": [], "meta": {"pagination": {"total": 4321}}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newTestClient(srv, ratelimit.TierXL)
	service := NewListsService(client, nil, nil)

	count, err := service.GetListProfileCount(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, 4321, count)
}
