package settings

import (
	"testing"

	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
)

type countingLoader struct {
	calls int
	value domain.Settings
}

func (l *countingLoader) GetSettings() (domain.Settings, error) {
	l.calls++
	return l.value, nil
}

func TestCacheLoadsOnce(t *testing.T) {
	loader := &countingLoader{value: domain.Settings{Language: "de"}}
	cache := NewCache(loader)

	for i := 0; i < 3; i++ {
		got, err := cache.Get()
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Language != "de" {
			t.Fatalf("unexpected language %q", got.Language)
		}
	}
	if loader.calls != 1 {
		t.Fatalf("expected one load, got %d", loader.calls)
	}
}

func TestCacheInvalidateReloads(t *testing.T) {
	loader := &countingLoader{value: domain.Settings{Language: "en"}}
	cache := NewCache(loader)

	if _, err := cache.Get(); err != nil {
		t.Fatalf("get: %v", err)
	}
	loader.value.Language = "fr"
	cache.Invalidate()

	got, err := cache.Get()
	if err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if got.Language != "fr" {
		t.Fatalf("expected reloaded value, got %q", got.Language)
	}
	if loader.calls != 2 {
		t.Fatalf("expected two loads, got %d", loader.calls)
	}
}
