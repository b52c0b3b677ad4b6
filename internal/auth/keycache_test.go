package auth

import (
	"errors"
	"testing"
	"time"
)

func TestKeyCacheFetchesOnce(t *testing.T) {
	calls := 0
	c := NewKeyCache(func(kid string) ([]byte, error) {
		calls++
		return []byte("key-" + kid), nil
	}, time.Minute)

	for i := 0; i < 3; i++ {
		k, err := c.GetOrRefresh("a")
		if err != nil {
			t.Fatalf("GetOrRefresh: %v", err)
		}
		if string(k) != "key-a" {
			t.Fatalf("key = %q", k)
		}
	}
	if calls != 1 {
		t.Fatalf("fetch ran %d times within TTL, want 1", calls)
	}
}

func TestKeyCacheRefreshesAfterTTL(t *testing.T) {
	calls := 0
	c := NewKeyCache(func(string) ([]byte, error) {
		calls++
		return []byte("key"), nil
	}, time.Minute)

	now := time.Now()
	c.now = func() time.Time { return now }

	if _, err := c.GetOrRefresh("a"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := c.GetOrRefresh("a"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("fetch ran %d times across TTL expiry, want 2", calls)
	}
}

func TestKeyCacheServesStaleOnFetchFailure(t *testing.T) {
	healthy := true
	c := NewKeyCache(func(string) ([]byte, error) {
		if !healthy {
			return nil, errors.New("key service down")
		}
		return []byte("key"), nil
	}, time.Minute)

	now := time.Now()
	c.now = func() time.Time { return now }

	if _, err := c.GetOrRefresh("a"); err != nil {
		t.Fatal(err)
	}

	healthy = false
	now = now.Add(2 * time.Minute)
	k, err := c.GetOrRefresh("a")
	if err != nil {
		t.Fatalf("stale key should be served when refresh fails: %v", err)
	}
	if string(k) != "key" {
		t.Fatalf("key = %q", k)
	}
}

func TestKeyCacheErrorWhenNeverFetched(t *testing.T) {
	c := NewKeyCache(func(string) ([]byte, error) {
		return nil, errors.New("down")
	}, time.Minute)
	if _, err := c.GetOrRefresh("a"); err == nil {
		t.Fatalf("no cached key and failing fetch must error")
	}
}

func TestKeyCacheInvalidate(t *testing.T) {
	calls := 0
	c := NewKeyCache(func(string) ([]byte, error) {
		calls++
		return []byte("key"), nil
	}, time.Minute)

	if _, err := c.GetOrRefresh("a"); err != nil {
		t.Fatal(err)
	}
	c.Invalidate("a")
	if _, err := c.GetOrRefresh("a"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("invalidate should force a refetch, calls = %d", calls)
	}
}

func TestKeyCacheRejectsEmptyKey(t *testing.T) {
	c := NewKeyCache(func(string) ([]byte, error) { return nil, nil }, time.Minute)
	if _, err := c.GetOrRefresh("a"); err == nil {
		t.Fatalf("empty key from fetch must error")
	}
}
