package metacache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nlstn/go-odataclient/internal/testfixtures"
)

const serviceRoot = "http://services.example/northwind"

func countingLoader(calls *atomic.Int32, doc string) Loader {
	return func(ctx context.Context, uri string) ([]byte, error) {
		calls.Add(1)
		return []byte(doc), nil
	}
}

func TestGetLoadsOnce(t *testing.T) {
	var calls atomic.Int32
	c := New()
	load := countingLoader(&calls, testfixtures.NorthwindV4)

	for i := 0; i < 3; i++ {
		e, err := c.Get(context.Background(), serviceRoot, load)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if e.Model == nil {
			t.Fatal("Expected a parsed model")
		}
		if e.Fingerprint != xxhash.Sum64String(testfixtures.NorthwindV4) {
			t.Errorf("Expected fingerprint of the document, got %x", e.Fingerprint)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 load, got %d", calls.Load())
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Len())
	}
}

func TestConcurrentGetSharesFetch(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	load := func(ctx context.Context, uri string) ([]byte, error) {
		calls.Add(1)
		<-gate
		return []byte(testfixtures.NorthwindV4), nil
	}
	c := New()

	var wg sync.WaitGroup
	results := make([]*Entry, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := c.Get(context.Background(), serviceRoot, load)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results[i] = e
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Expected 1 load, got %d", calls.Load())
	}
	for i, e := range results {
		if e != results[0] {
			t.Errorf("Expected caller %d to share the entry", i)
		}
	}
}

func TestCancelledCallerDoesNotFailFetch(t *testing.T) {
	gate := make(chan struct{})
	load := func(ctx context.Context, uri string) ([]byte, error) {
		<-gate
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []byte(testfixtures.NorthwindV4), nil
	}
	c := New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, serviceRoot, load)
		done <- err
	}()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	waiter := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), serviceRoot, load)
		waiter <- err
	}()
	close(gate)
	if err := <-waiter; err != nil {
		t.Fatalf("Expected the shared fetch to succeed, got %v", err)
	}
}

func TestLoadErrorIsNotCached(t *testing.T) {
	fail := true
	load := func(ctx context.Context, uri string) ([]byte, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return []byte(testfixtures.NorthwindV4), nil
	}
	c := New()
	if _, err := c.Get(context.Background(), serviceRoot, load); err == nil {
		t.Fatal("Expected an error")
	}
	fail = false
	if _, err := c.Get(context.Background(), serviceRoot, load); err != nil {
		t.Fatalf("Expected the retry to succeed, got %v", err)
	}
}

func TestUnparsableDocument(t *testing.T) {
	c := New()
	_, err := c.Get(context.Background(), serviceRoot, func(context.Context, string) ([]byte, error) {
		return []byte("<html>not metadata"), nil
	})
	if err == nil {
		t.Fatal("Expected a parse error")
	}
	if c.Len() != 0 {
		t.Errorf("Expected no entries, got %d", c.Len())
	}
}

func TestInvalidate(t *testing.T) {
	var calls atomic.Int32
	c := New()
	load := countingLoader(&calls, testfixtures.NorthwindV4)

	if _, err := c.Get(context.Background(), serviceRoot, load); err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate(context.Background(), serviceRoot); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), serviceRoot, load); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 loads, got %d", calls.Load())
	}
}

func TestPut(t *testing.T) {
	c := New()
	if _, err := c.Put(serviceRoot, []byte(testfixtures.NorthwindV3)); err != nil {
		t.Fatal(err)
	}
	e, err := c.Get(context.Background(), serviceRoot, func(context.Context, string) ([]byte, error) {
		t.Fatal("Expected no load after Put")
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(e.Document) != testfixtures.NorthwindV3 {
		t.Error("Expected the document given to Put")
	}
}

func openMemoryStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := OpenStore("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreBackedCache(t *testing.T) {
	store := openMemoryStore(t)
	var calls atomic.Int32
	load := countingLoader(&calls, testfixtures.NorthwindV4)

	first := New(WithStore(store))
	if _, err := first.Get(context.Background(), serviceRoot, load); err != nil {
		t.Fatal(err)
	}

	// A fresh cache, as in a new process, reads the stored document.
	second := New(WithStore(store))
	e, err := second.Get(context.Background(), serviceRoot, load)
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 load, got %d", calls.Load())
	}
	if e.Model == nil {
		t.Error("Expected a parsed model from the store")
	}

	if err := second.Invalidate(context.Background(), serviceRoot); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Load(context.Background(), serviceRoot); ok {
		t.Error("Expected Invalidate to remove the stored document")
	}
}

func TestStoreSkipsUnchangedDocument(t *testing.T) {
	store := openMemoryStore(t)
	ctx := context.Background()
	doc := []byte(testfixtures.NorthwindV4)
	fp := xxhash.Sum64(doc)

	if err := store.Save(ctx, serviceRoot, doc, fp); err != nil {
		t.Fatal(err)
	}
	var before Document
	if err := store.db.First(&before, "uri = ?", serviceRoot).Error; err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := store.Save(ctx, serviceRoot, doc, fp); err != nil {
		t.Fatal(err)
	}
	var after Document
	if err := store.db.First(&after, "uri = ?", serviceRoot).Error; err != nil {
		t.Fatal(err)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("Expected unchanged document not to be rewritten, got %v then %v", before.UpdatedAt, after.UpdatedAt)
	}

	changed := []byte(testfixtures.NorthwindV3)
	if err := store.Save(ctx, serviceRoot, changed, xxhash.Sum64(changed)); err != nil {
		t.Fatal(err)
	}
	got, err := store.Fingerprint(ctx, serviceRoot)
	if err != nil {
		t.Fatal(err)
	}
	if want := strconv.FormatUint(xxhash.Sum64(changed), 16); got != want {
		t.Errorf("Expected fingerprint %s, got %s", want, got)
	}
}

func TestOpenStoreUnknownDialect(t *testing.T) {
	if _, err := OpenStore("oracle", "x"); err == nil {
		t.Error("Expected an error for an unknown dialect")
	}
}
