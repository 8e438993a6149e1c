package knowledgebase

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/authorization/authtest"
	"municonsole_back/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// letterEmbedder maps text to letter frequencies so similar texts score high.
type letterEmbedder struct {
	calls atomic.Int32
}

func (e *letterEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	e.calls.Add(1)
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		vector := make([]float32, 26)
		for _, r := range strings.ToLower(input) {
			if r >= 'a' && r <= 'z' {
				vector[r-'a']++
			}
		}
		out[i] = vector
	}
	return out, nil
}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	h        *authtest.Harness
	service  *Service
	index    *vectorstore.MemoryIndex
	embedder *letterEmbedder
	queue    *ChannelQueue
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	h := authtest.New(t)
	index := vectorstore.NewMemory()
	embedder := &letterEmbedder{}
	queue := NewChannelQueue(64)
	service, err := NewService(h.DB, Options{
		Index:    index,
		Embedder: embedder,
		Queue:    queue,
		Splitter: NewSplitter(120, 40),
	})
	require.NoError(t, err)
	RegisterRoutes(h.Router, service, h.Auth.Guard())
	return fixture{h: h, service: service, index: index, embedder: embedder, queue: queue}
}

var (
	manager = &authorization.Identity{UserID: 1, ManagementRole: authorization.RoleModerator}
	member  = &authorization.Identity{UserID: 2, OrgRoles: map[uint64]string{7: authorization.OrgRoleMember}}
	admin   = &authorization.Identity{UserID: 3, OrgRoles: map[uint64]string{7: authorization.OrgRoleAdmin}}
)

func drain(t *testing.T, f fixture) {
	t.Helper()
	for f.queue.Len() > 0 {
		id, err := f.queue.Pop(context.Background())
		require.NoError(t, err)
		_ = f.service.Process(context.Background(), id)
	}
}

func TestTextItemIsIndexedAndSearchable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.service.Create(ctx, member, Input{
		MunicipalityID: 7,
		Title:          ptr("Waste"),
		Source:         ptr(SourceText),
		Content:        ptr("Green bins are emptied every Monday. Paper goes out on Thursday."),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, item.Status)
	assert.Equal(t, 1, f.queue.Len())

	drain(t, f)
	stored, err := f.service.Get(ctx, member, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.NotEmpty(t, stored.ContentHash)
	assert.Positive(t, stored.ChunkCount)
	require.NotNil(t, stored.LastRefreshedAt)
	assert.Equal(t, stored.ChunkCount, f.index.Count(vectorstore.CollectionName(7)))

	hits, err := f.service.Search(ctx, member, 7, 0, "green bins monday", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, item.ID, hits[0].ItemID)

	_, err = f.service.Search(ctx, &authorization.Identity{UserID: 9}, 7, 0, "bins", 3)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestUnchangedContentSkipsReindex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.service.Create(ctx, member, Input{MunicipalityID: 7, Title: ptr("Hours"), Source: ptr(SourceText), Content: ptr("Open from nine to five.")})
	require.NoError(t, err)
	drain(t, f)
	calls := f.embedder.calls.Load()

	_, err = f.service.Refresh(ctx, member, item.ID)
	require.NoError(t, err)
	drain(t, f)
	assert.Equal(t, calls, f.embedder.calls.Load())

	_, err = f.service.Update(ctx, member, item.ID, Input{Content: ptr("Open from eight to six.")})
	require.NoError(t, err)
	drain(t, f)
	assert.Greater(t, f.embedder.calls.Load(), calls)
}

func TestDeleteIsSoftAndRemovesVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.service.Create(ctx, member, Input{MunicipalityID: 7, Title: ptr("Parking"), Source: ptr(SourceText), Content: ptr("Permits cost forty euro.")})
	require.NoError(t, err)
	drain(t, f)
	require.Positive(t, f.index.Count(vectorstore.CollectionName(7)))

	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(f.service.Delete(ctx, member, item.ID)))
	require.NoError(t, f.service.Delete(ctx, admin, item.ID))

	stored, err := f.service.load(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, stored.Status)
	assert.Zero(t, f.index.Count(vectorstore.CollectionName(7)))

	page, err := f.service.List(ctx, member, ListFilter{MunicipalityID: 7}, nil, 20)
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	page, err = f.service.List(ctx, member, ListFilter{MunicipalityID: 7, Status: StatusDeleted}, nil, 20)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	// A queued job for a deleted item must not resurrect it.
	require.NoError(t, f.service.Process(ctx, item.ID))
	assert.Zero(t, f.index.Count(vectorstore.CollectionName(7)))
}

func TestLinkStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><title>Ok</title><body><p>Library opens at ten.</p></body></html>")
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cases := map[string]string{
		"/ok":   StatusCompleted,
		"/gone": StatusNotFound,
		"/boom": StatusFailed,
	}
	for path, expected := range cases {
		item, err := f.service.Create(ctx, manager, Input{MunicipalityID: 7, Source: ptr(SourceLink), URL: ptr(server.URL + path)})
		require.NoError(t, err, path)
		drain(t, f)
		stored, err := f.service.load(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, expected, stored.Status, path)
		if expected == StatusCompleted {
			assert.Contains(t, stored.Content, "Library opens at ten.")
			assert.Empty(t, stored.Error)
		} else {
			assert.NotEmpty(t, stored.Error)
		}
	}
}

func TestCreateRejectsInvalidURL(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Create(context.Background(), member, Input{MunicipalityID: 7, Title: ptr("x"), Source: ptr(SourceLink), URL: ptr("not-a-url")})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, MsgInvalidSingleURL, appErr.Fields["url"])
	assert.Zero(t, f.queue.Len())
}

func TestEnqueueDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	daily, err := f.service.Create(ctx, member, Input{MunicipalityID: 7, Title: ptr("Daily"), Source: ptr(SourceText), Content: ptr("daily text"), RefreshFrequency: ptr(RefreshDaily)})
	require.NoError(t, err)
	_, err = f.service.Create(ctx, member, Input{MunicipalityID: 7, Title: ptr("Never"), Source: ptr(SourceText), Content: ptr("static text")})
	require.NoError(t, err)
	drain(t, f)

	queued, err := f.service.EnqueueDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, queued)

	f.service.now = func() time.Time { return time.Now().UTC().Add(25 * time.Hour) }
	queued, err = f.service.EnqueueDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	id, err := f.queue.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, daily.ID, id)
}

func TestImportZipCreatesDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := buildZip(t, map[string]string{
		"faq/permits.md": "Permits are issued within two weeks.",
		"faq/index.html": "<html><body><p>Welcome to the FAQ.</p></body></html>",
	})

	items, err := f.service.Import(ctx, member, 7, nil, "faq.zip", data)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, SourceDocument, item.Source)
		assert.NotEmpty(t, item.Content)
	}
	drain(t, f)

	page, err := f.service.List(ctx, member, ListFilter{MunicipalityID: 7, Status: StatusCompleted}, nil, 20)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	_, err = f.service.Import(ctx, member, 7, nil, "notes.txt", []byte("plain"))
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestDeleteByMunicipalityDropsCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.Create(ctx, member, Input{MunicipalityID: 7, Title: ptr("x"), Source: ptr(SourceText), Content: ptr("some text")})
	require.NoError(t, err)
	drain(t, f)

	require.NoError(t, f.service.DeleteByMunicipality(ctx, 7))
	assert.Zero(t, f.index.Count(vectorstore.CollectionName(7)))
	page, err := f.service.List(ctx, manager, ListFilter{MunicipalityID: 7, IncludeDeleted: true}, nil, 20)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestListEndpointRequiresMembership(t *testing.T) {
	f := newFixture(t)
	outsider := f.h.CreateUser(t, "outsider@example.org", "", map[uint64]string{8: authorization.OrgRoleAdmin})

	req := httptest.NewRequest(http.MethodGet, "/api/knowledgebase?municipality_id=7", nil)
	req.Header.Set("Authorization", f.h.Token(t, outsider))
	w := httptest.NewRecorder()
	f.h.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	insider := f.h.CreateUser(t, "insider@example.org", "", map[uint64]string{7: authorization.OrgRoleMember})
	req = httptest.NewRequest(http.MethodGet, "/api/knowledgebase?municipality_id=7", nil)
	req.Header.Set("Authorization", f.h.Token(t, insider))
	w = httptest.NewRecorder()
	f.h.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)
}

func TestUploadURLWithoutStorage(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.UploadURL(context.Background(), member, 7, "guide.pdf")
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))
}

func TestRunRequeuesItemsLeftPendingAcrossRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.service.Create(ctx, member, Input{
		MunicipalityID: 7,
		Title:          ptr("Library"),
		Source:         ptr(SourceText),
		Content:        ptr("The library opens at nine and closes at six on weekdays."),
	})
	require.NoError(t, err)
	stuck, err := f.service.Create(ctx, member, Input{
		MunicipalityID: 7,
		Title:          ptr("Pool"),
		Source:         ptr(SourceText),
		Content:        ptr("The swimming pool is closed for repairs until spring."),
	})
	require.NoError(t, err)
	require.NoError(t, f.h.DB.Model(&Item{}).Where("id = ?", stuck.ID).Update("status", StatusProcessing).Error)

	// a fresh process: same database, empty in-memory queue
	restarted, err := NewService(f.h.DB, Options{
		Index:    f.index,
		Embedder: f.embedder,
		Queue:    NewChannelQueue(0),
		Splitter: NewSplitter(120, 40),
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- restarted.Run(runCtx, 1, 0) }()
	defer func() {
		cancel()
		<-done
	}()

	for _, id := range []uint64{item.ID, stuck.ID} {
		id := id
		assert.Eventually(t, func() bool {
			stored, err := restarted.Get(ctx, member, id)
			return err == nil && stored.Status == StatusCompleted
		}, 2*time.Second, 20*time.Millisecond)
	}
}

func TestRequeueStalledSkipsSettledItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.service.Create(ctx, member, Input{
		MunicipalityID: 7,
		Title:          ptr("Waste"),
		Source:         ptr(SourceText),
		Content:        ptr("Green bins are emptied every Monday."),
	})
	require.NoError(t, err)
	drain(t, f)

	n, err := f.service.RequeueStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.queue.Len())

	stored, err := f.service.Get(ctx, member, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}
