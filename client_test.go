package odata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nlstn/go-odataclient/internal/testfixtures"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	Close  bool
}

// fakeService is an OData service serving the Northwind metadata and
// whatever routes a test registers.
type fakeService struct {
	server   *httptest.Server
	metadata string

	mu           sync.Mutex
	routes       map[string]http.HandlerFunc
	requests     []recordedRequest
	metadataHits int
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	f := &fakeService{metadata: testfixtures.NorthwindV4, routes: map[string]http.HandlerFunc{}}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeService) URL() string { return f.server.URL + "/odata" }

func (f *fakeService) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeService) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, "/odata")

	f.mu.Lock()
	if path == "/$metadata" {
		f.metadataHits++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, f.metadata)
		return
	}
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
		Close:  r.Close,
	})
	h := f.routes[r.Method+" "+path]
	f.mu.Unlock()

	if h == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"code": "NotFound", "message": "no route for " + r.Method + " " + path},
		})
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	h(w, r)
}

func (f *fakeService) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json;odata.metadata=minimal")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, f *fakeService, configure func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		BaseURL: f.URL(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if configure != nil {
		configure(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "missing base URL", cfg: Config{}, wantErr: true},
		{name: "blank base URL", cfg: Config{BaseURL: "  "}, wantErr: true},
		{name: "unknown version", cfg: Config{BaseURL: "http://svc", Version: Version(7)}, wantErr: true},
		{name: "negative depth", cfg: Config{BaseURL: "http://svc", MaxDeepInsertDepth: -1}, wantErr: true},
		{name: "broken metadata document", cfg: Config{BaseURL: "http://svc", MetadataDocument: "<not-edmx"}, wantErr: true},
		{name: "minimal", cfg: Config{BaseURL: "http://svc/"}},
		{name: "explicit version", cfg: Config{BaseURL: "http://svc", Version: V3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "http://svc", c.BaseURL())
		})
	}
}

func TestSetLogger(t *testing.T) {
	c, err := NewClient(Config{BaseURL: "http://svc"})
	require.NoError(t, err)
	require.Error(t, c.SetLogger(nil))
	require.NoError(t, c.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestFindEntries(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodGet, "/Products", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"@odata.context": "$metadata#Products",
			"value": []map[string]any{
				{"ProductID": 1, "ProductName": "Chai"},
				{"ProductID": 2, "ProductName": "Chang"},
			},
		})
	})
	c := newTestClient(t, f, nil)
	ctx := context.Background()

	entries, err := c.FindEntries(ctx, For("Products").FilterText("UnitPrice gt 10").OrderBy("ProductName").Top(2))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Chai", entries[0]["ProductName"])
	require.EqualValues(t, 2, entries[1]["ProductID"])

	reqs := f.recorded()
	require.Len(t, reqs, 1)
	require.Equal(t, "UnitPrice gt 10", reqs[0].Query.Get("$filter"))
	require.Equal(t, "ProductName", reqs[0].Query.Get("$orderby"))
	require.Equal(t, "2", reqs[0].Query.Get("$top"))
	require.Equal(t, "4.0", reqs[0].Header.Get("OData-Version"))

	// Metadata is fetched once per client.
	_, err = c.FindEntries(ctx, For("Products"))
	require.NoError(t, err)
	require.Equal(t, 1, f.metadataHits)
}

func TestFindEntriesWithCount(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodGet, "/Categories", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"@odata.count": 7,
			"value":        []map[string]any{{"CategoryID": 1, "CategoryName": "Beverages"}},
		})
	})
	c := newTestClient(t, f, nil)

	entries, count, err := c.FindEntriesWithCount(context.Background(), For("Categories").Top(1))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 7, count)
	require.Equal(t, "true", f.recorded()[0].Query.Get("$count"))
}

func TestFindEntriesAllFollowsNextLinks(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodGet, "/Products", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("$skiptoken") {
		case "":
			writeJSON(w, http.StatusOK, map[string]any{
				"value":           []map[string]any{{"ProductID": 1}, {"ProductID": 2}},
				"@odata.nextLink": f.URL() + "/Products?$skiptoken=2",
			})
		case "2":
			writeJSON(w, http.StatusOK, map[string]any{
				"value":           []map[string]any{{"ProductID": 3}},
				"@odata.nextLink": "Products?$skiptoken=3",
			})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{{"ProductID": 4}}})
		}
	})
	c := newTestClient(t, f, nil)

	entries, err := c.FindEntriesAll(context.Background(), For("Products"))
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, e := range entries {
		require.EqualValues(t, i+1, e["ProductID"])
	}
	require.Len(t, f.recorded(), 3)
}

func TestGetEntryNotFound(t *testing.T) {
	tests := []struct {
		name   string
		ignore bool
	}{
		{name: "reported", ignore: false},
		{name: "ignored", ignore: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeService(t)
			c := newTestClient(t, f, func(cfg *Config) { cfg.IgnoreResourceNotFound = tt.ignore })

			entry, err := c.GetEntry(context.Background(), For("Products").Key(99))
			require.Nil(t, entry)
			if tt.ignore {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, IsNotFound(err), "Expected a not found error, got %v", err)
			require.Equal(t, http.StatusNotFound, StatusCode(err))

			var webErr *WebRequestError
			require.True(t, errors.As(err, &webErr))
			require.Equal(t, "/Products(99)", f.recorded()[0].Path)
		})
	}
}

func TestGetEntryRequiresKey(t *testing.T) {
	f := newFakeService(t)
	c := newTestClient(t, f, nil)

	_, err := c.GetEntry(context.Background(), For("Products"))
	require.ErrorIs(t, err, ErrInvalidOperation)
	require.Empty(t, f.recorded())
}

func TestGetCount(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodGet, "/Products/$count", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "42")
	})
	c := newTestClient(t, f, nil)

	n, err := c.GetCount(context.Background(), For("Products").FilterText("Discontinued eq false"))
	require.NoError(t, err)
	require.EqualValues(t, 42, n)
	require.Equal(t, "Discontinued eq false", f.recorded()[0].Query.Get("$filter"))
}

func TestInsertEntryReadsBackLocation(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodPost, "/Products", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("OData-EntityId", f.URL()+"/Products(1)")
		w.WriteHeader(http.StatusNoContent)
	})
	f.handle(http.MethodGet, "/Products(1)", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ProductID": 1, "ProductName": "Chai"})
	})
	c := newTestClient(t, f, nil)

	entry, err := c.InsertEntry(context.Background(), For("Products").Set(map[string]any{"ProductName": "Chai"}), true)
	require.NoError(t, err)
	require.EqualValues(t, 1, entry["ProductID"])

	reqs := f.recorded()
	require.Len(t, reqs, 2)
	require.Equal(t, http.MethodPost, reqs[0].Method)
	require.Equal(t, "return=representation", reqs[0].Header.Get("Prefer"))
	require.JSONEq(t, `{"ProductName":"Chai"}`, string(reqs[0].Body))
	require.Equal(t, http.MethodGet, reqs[1].Method)
	require.Equal(t, "/Products(1)", reqs[1].Path)
}

func TestInsertEntryWithoutResult(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodPost, "/Categories", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, f, nil)

	entry, err := c.InsertEntry(context.Background(), For("Categories").Set(map[string]any{"CategoryName": "Seafood"}), false)
	require.NoError(t, err)
	require.Nil(t, entry)
	require.Equal(t, "return=minimal", f.recorded()[0].Header.Get("Prefer"))
}

func TestUpdateEntriesPatchesEachMatch(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodGet, "/Products", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{
			{"ProductID": 1, "ProductName": "A", "Discontinued": true},
			{"ProductID": 2, "ProductName": "B", "Discontinued": true},
			{"ProductID": 3, "ProductName": "C", "Discontinued": true},
		}})
	})
	for id := 1; id <= 3; id++ {
		f.handle(http.MethodPatch, "/Products("+strconv.Itoa(id)+")", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ProductID": id, "Discontinued": false})
		})
	}
	c := newTestClient(t, f, nil)

	cmd := For("Products").FilterText("Discontinued eq true").Set(map[string]any{"Discontinued": false})
	entries, err := c.UpdateEntries(context.Background(), cmd, true)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	reqs := f.recorded()
	require.Len(t, reqs, 4)
	require.Equal(t, "Discontinued eq true", reqs[0].Query.Get("$filter"))
	for i, want := range []string{"/Products(1)", "/Products(2)", "/Products(3)"} {
		req := reqs[i+1]
		require.Equal(t, http.MethodPatch, req.Method)
		require.Equal(t, want, req.Path)
		require.Empty(t, req.Query.Get("$filter"))
		require.Equal(t, "*", req.Header.Get("If-Match"))
		require.JSONEq(t, `{"Discontinued":false}`, string(req.Body))
	}
}

func TestUpdateEntryTakesKeyFromEntry(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodPatch, "/Categories(4)", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, f, nil)

	_, err := c.UpdateEntry(context.Background(), For("Categories").Set(map[string]any{"CategoryID": 4, "CategoryName": "Dairy"}), false)
	require.NoError(t, err)
	require.Equal(t, "/Categories(4)", f.recorded()[0].Path)

	_, err = c.UpdateEntry(context.Background(), For("Categories").Set(map[string]any{"CategoryName": "Dairy"}), false)
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestUpdateEntryKeepsWriteWhenReadBackFails(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodPatch, "/Products(1)", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	f.handle(http.MethodGet, "/Products(1)", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{"code": "Internal", "message": "read failed"},
		})
	})
	var logs bytes.Buffer
	c := newTestClient(t, f, func(cfg *Config) {
		cfg.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	})

	entry, err := c.UpdateEntry(context.Background(), For("Products").Key(1).Set(map[string]any{"ProductName": "Chai"}), true)
	require.NoError(t, err)
	require.Nil(t, entry)

	reqs := f.recorded()
	require.Len(t, reqs, 2)
	require.Equal(t, http.MethodPatch, reqs[0].Method)
	require.Equal(t, http.MethodGet, reqs[1].Method)
	require.Contains(t, logs.String(), "level=WARN")
	require.Contains(t, logs.String(), "Failed to read entry after write")
}

func TestInsertEntryKeepsWriteWhenReadBackFails(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodPost, "/Products", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("OData-EntityId", f.URL()+"/Products(9)")
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, f, nil)

	entry, err := c.InsertEntry(context.Background(), For("Products").Set(map[string]any{"ProductName": "Chai"}), true)
	require.NoError(t, err)
	require.Nil(t, entry)
	require.Len(t, f.recorded(), 2)
}

func TestUpdateEntryUsesMergeBeforeV4(t *testing.T) {
	f := newFakeService(t)
	f.handle("MERGE", "/Products(1)", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, f, func(cfg *Config) { cfg.MetadataDocument = testfixtures.NorthwindV3 })

	_, err := c.UpdateEntry(context.Background(), For("Products").Key(1).Set(map[string]any{"ProductName": "Chai"}), false)
	require.NoError(t, err)
	require.Zero(t, f.metadataHits)

	reqs := f.recorded()
	require.Len(t, reqs, 1)
	require.Equal(t, "MERGE", reqs[0].Method)
	require.Equal(t, "3.0", reqs[0].Header.Get("DataServiceVersion"))
}

func TestDeleteEntries(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodGet, "/Categories", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{{"CategoryID": 5}, {"CategoryID": 6}}})
	})
	for _, id := range []string{"5", "6"} {
		f.handle(http.MethodDelete, "/Categories("+id+")", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
	c := newTestClient(t, f, nil)

	n, err := c.DeleteEntries(context.Background(), For("Categories").FilterText("startswith(CategoryName,'X')"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	reqs := f.recorded()
	require.Len(t, reqs, 3)
	require.Equal(t, http.MethodDelete, reqs[1].Method)
	require.Empty(t, reqs[1].Body)
}

func TestLinkAndUnlinkEntry(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodPut, "/Products(1)/Category/$ref", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	f.handle(http.MethodDelete, "/Products(1)/Category/$ref", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, f, nil)
	ctx := context.Background()

	require.NoError(t, c.LinkEntry(ctx, For("Products").Key(1), "Category", map[string]any{"CategoryID": 2}))
	require.NoError(t, c.UnlinkEntry(ctx, For("Products").Key(1), "Category", nil))

	reqs := f.recorded()
	require.Len(t, reqs, 2)
	require.JSONEq(t, `{"@odata.id":"`+f.URL()+`/Categories(2)"}`, string(reqs[0].Body))
	require.Equal(t, http.MethodDelete, reqs[1].Method)
}

func TestMediaStream(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodGet, "/Photos(1)/$value", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("ETag", `W/"3"`)
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	f.handle(http.MethodPut, "/Photos(1)/$value", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, f, nil)
	ctx := context.Background()

	stream, err := c.GetMediaStream(ctx, For("Photos").Key(1))
	require.NoError(t, err)
	require.Equal(t, "image/png", stream.ContentType)
	require.Equal(t, `W/"3"`, stream.ETag)
	require.Equal(t, []byte{0x89, 'P', 'N', 'G'}, stream.Content)

	require.NoError(t, c.SetMediaStream(ctx, For("Photos").Key(1), "image/jpeg", strings.NewReader("jpeg")))
	put := f.recorded()[1]
	require.Equal(t, "image/jpeg", put.Header.Get("Content-Type"))
	require.Equal(t, "jpeg", string(put.Body))
}

func TestExecuteFunctionAndAction(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodGet, "/ProductsByCategory(CategoryID=1)", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{{"ProductID": 1}, {"ProductID": 2}}})
	})
	f.handle(http.MethodPost, "/ResetData", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, f, nil)
	ctx := context.Background()

	entries, err := c.ExecuteFunction(ctx, Function("ProductsByCategory").Parameter("CategoryID", 1))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = c.ExecuteAction(ctx, Action("ResetData"), false)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, http.MethodPost, f.recorded()[1].Method)
}

func TestBatchReferencesEarlierInsert(t *testing.T) {
	f := newFakeService(t)
	var sent struct {
		Requests []struct {
			ID             string          `json:"id"`
			Method         string          `json:"method"`
			URL            string          `json:"url"`
			AtomicityGroup string          `json:"atomicityGroup"`
			Body           json.RawMessage `json:"body"`
		} `json:"requests"`
	}
	f.handle(http.MethodPost, "/$batch", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&sent); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"responses": []map[string]any{
			{
				"id":      sent.Requests[0].ID,
				"status":  201,
				"headers": map[string]string{"content-type": "application/json"},
				"body":    map[string]any{"CategoryID": 9, "CategoryName": "Beverages"},
			},
			{
				"id":      sent.Requests[1].ID,
				"status":  400,
				"headers": map[string]string{"content-type": "application/json"},
				"body":    map[string]any{"error": map[string]any{"code": "BadRequest", "message": "ProductName is required"}},
			},
		}})
	})
	c := newTestClient(t, f, func(cfg *Config) { cfg.BatchFormat = BatchJSON })

	category := map[string]any{"CategoryName": "Beverages"}
	product := map[string]any{"ProductName": "Chai", "Category": category}
	results, err := c.NewBatch().
		Insert(For("Categories").Set(category).WithContentID("C1"), true).
		Insert(For("Products").Set(product), false).
		Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Len(t, sent.Requests, 2)
	require.Equal(t, "C1", sent.Requests[0].ID)
	require.Equal(t, "Categories", sent.Requests[0].URL)
	require.Equal(t, sent.Requests[0].AtomicityGroup, sent.Requests[1].AtomicityGroup)
	require.JSONEq(t, `{"ProductName":"Chai","Category@odata.bind":"$C1"}`, string(sent.Requests[1].Body))

	require.Equal(t, "C1", results[0].ContentID)
	require.Equal(t, http.StatusCreated, results[0].StatusCode)
	require.NoError(t, results[0].Err)
	require.EqualValues(t, 9, results[0].Entry()["CategoryID"])

	require.Equal(t, http.StatusBadRequest, results[1].StatusCode)
	require.Error(t, results[1].Err)
	require.Equal(t, http.StatusBadRequest, StatusCode(results[1].Err))
}

func TestRequestHeadersAndHooks(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodGet, "/Categories", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server-Timing", `db;dur=53.2, app;dur=12`)
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{}})
	})
	var before, after int
	c := newTestClient(t, f, func(cfg *Config) {
		cfg.Headers = http.Header{"Authorization": {"Bearer static"}}
		cfg.BeforeRequest = func(*http.Request) { before++ }
		cfg.AfterResponse = func(*http.Response) { after++ }
		cfg.RenewHTTPConnection = true
	})

	ctx := WithRequestHeaders(context.Background(), http.Header{"X-Request-Id": {"abc"}})
	entries, err := c.FindEntries(ctx, For("Categories"))
	require.NoError(t, err)
	require.Empty(t, entries)

	req := f.recorded()[0]
	require.Equal(t, "Bearer static", req.Header.Get("Authorization"))
	require.Equal(t, "abc", req.Header.Get("X-Request-Id"))
	require.True(t, req.Close, "Expected a connection that is not reused")

	// The metadata request runs through the hooks too.
	require.Equal(t, 2, before)
	require.Equal(t, 2, after)

	timing := c.LastServerTiming()
	require.NotNil(t, timing)
	require.Len(t, timing.Metrics, 2)
	require.Equal(t, "db", timing.Metrics[0].Name)
}

func TestCancelledContext(t *testing.T) {
	f := newFakeService(t)
	c := newTestClient(t, f, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FindEntries(ctx, For("Products"))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, f.recorded())
}

func TestInvalidateMetadata(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodGet, "/Categories", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{}})
	})
	c := newTestClient(t, f, nil)
	ctx := context.Background()

	_, err := c.FindEntries(ctx, For("Categories"))
	require.NoError(t, err)
	require.NoError(t, c.InvalidateMetadata(ctx))
	_, err = c.FindEntries(ctx, For("Categories"))
	require.NoError(t, err)
	require.Equal(t, 2, f.metadataHits)
}

func TestUnknownCollection(t *testing.T) {
	f := newFakeService(t)
	c := newTestClient(t, f, nil)

	_, err := c.FindEntries(context.Background(), For("Suppliers"))
	var unresolved *UnresolvableObjectError
	require.True(t, errors.As(err, &unresolved), "Expected an unresolvable object error, got %v", err)
	require.Empty(t, f.recorded())
}
