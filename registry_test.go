package wfs

import (
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func pointBound(x, y float64) orb.Bound {
	return orb.Point{x, y}.Bound()
}

func TestRegistryAddContains(t *testing.T) {
	r := NewRegistry(DefaultRegistryOptions())
	if r.Contains("a") {
		t.Fatal("expected empty registry")
	}

	r.Add("a", pointBound(0, 0))
	r.Add("b", pointBound(1, 1))
	if !r.Contains("a") || !r.Contains("b") {
		t.Error("expected a and b to be registered")
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", r.Len())
	}

	// re-adding does not duplicate
	r.Add("a", pointBound(5, 5))
	if r.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", r.Len())
	}

	if !r.Remove("a") || r.Remove("a") {
		t.Error("expected a single successful remove")
	}
	r.Clear()
	if r.Len() != 0 || r.Contains("b") {
		t.Error("expected cleared registry")
	}
}

func TestRegistryMaxEntries(t *testing.T) {
	r := NewRegistry(RegistryOptions{MaxEntries: 2})

	if evicted := r.Add("a", pointBound(0, 0)); len(evicted) != 0 {
		t.Errorf("expected no eviction, got %v", evicted)
	}
	r.Add("b", pointBound(1, 1))
	evicted := r.Add("c", pointBound(2, 2))
	if !reflect.DeepEqual(evicted, []string{"a"}) {
		t.Errorf("expected [a] evicted, got %v", evicted)
	}
	if r.Contains("a") || !r.Contains("c") {
		t.Error("expected oldest entry to be dropped")
	}
}

func TestRegistryExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(RegistryOptions{
		TTL: time.Minute,
		Now: func() time.Time { return now },
	})

	r.Add("old", pointBound(0, 0))
	now = now.Add(45 * time.Second)
	r.Add("new", pointBound(1, 1))

	if expired := r.Expire(); len(expired) != 0 {
		t.Errorf("expected nothing expired, got %v", expired)
	}

	now = now.Add(30 * time.Second)
	expired := r.Expire()
	if !reflect.DeepEqual(expired, []string{"old"}) {
		t.Errorf("expected [old] expired, got %v", expired)
	}
	if !r.Contains("new") {
		t.Error("expected new entry to survive")
	}

	// without a TTL nothing expires
	r = NewRegistry(RegistryOptions{})
	r.Add("a", pointBound(0, 0))
	if expired := r.Expire(); expired != nil {
		t.Errorf("expected nil, got %v", expired)
	}
}

func TestRegistryEvictOutside(t *testing.T) {
	r := NewRegistry(DefaultRegistryOptions())
	r.Add("inside", pointBound(5, 5))
	r.Add("edge", orb.Bound{Min: orb.Point{9, 9}, Max: orb.Point{12, 12}})
	r.Add("outside", pointBound(50, 50))
	r.Add("line", orb.Bound{Min: orb.Point{-20, 2}, Max: orb.Point{-15, 2}})

	evicted := r.EvictOutside(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}})
	sort.Strings(evicted)
	if !reflect.DeepEqual(evicted, []string{"line", "outside"}) {
		t.Errorf("expected [line outside] evicted, got %v", evicted)
	}
	if r.Len() != 2 || !r.Contains("inside") || !r.Contains("edge") {
		t.Error("expected inside and edge to remain")
	}

	// evicted ids are no longer indexed
	if evicted := r.EvictOutside(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}); len(evicted) != 0 {
		t.Errorf("expected nothing evicted, got %v", evicted)
	}
}

func TestRegistryEvictOutsideAntimeridian(t *testing.T) {
	r := NewRegistry(DefaultRegistryOptions())
	r.Add("east", pointBound(175, 10))
	r.Add("west", pointBound(-175, 10))
	r.Add("greenwich", pointBound(0, 10))

	evicted := r.EvictOutside(orb.Bound{Min: orb.Point{170, 0}, Max: orb.Point{-170, 20}})
	if !reflect.DeepEqual(evicted, []string{"greenwich"}) {
		t.Errorf("expected [greenwich] evicted, got %v", evicted)
	}
	if r.Len() != 2 || !r.Contains("east") || !r.Contains("west") {
		t.Error("expected east and west to remain")
	}
}
