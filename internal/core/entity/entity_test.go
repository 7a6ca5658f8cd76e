package entity

import (
	"errors"
	"sync"
	"testing"
)

type thing struct {
	Ref
	name string
}

func newThing(name string, destroyed *int) *thing {
	t := &thing{name: name}
	t.Init(func() { *destroyed++ })
	return t
}

func TestRetainReleaseBalance(t *testing.T) {
	destroyed := 0
	obj := newThing("a", &destroyed)

	if got := obj.RefCount(); got != 1 {
		t.Fatalf("RefCount() = %d, want 1", got)
	}
	if err := obj.Retain(); err != nil {
		t.Fatalf("Retain() error: %v", err)
	}
	if got := obj.RefCount(); got != 2 {
		t.Fatalf("RefCount() = %d, want 2", got)
	}

	gone, err := obj.Release()
	if err != nil || gone {
		t.Fatalf("Release() = (%v, %v), want (false, nil)", gone, err)
	}
	if destroyed != 0 {
		t.Fatal("destroyed before last release")
	}

	gone, err = obj.Release()
	if err != nil || !gone {
		t.Fatalf("final Release() = (%v, %v), want (true, nil)", gone, err)
	}
	if destroyed != 1 {
		t.Fatalf("destroy ran %d times, want 1", destroyed)
	}
}

func TestRetainAfterDestroy(t *testing.T) {
	destroyed := 0
	obj := newThing("a", &destroyed)
	if _, err := obj.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if err := obj.Retain(); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("Retain() after destroy = %v, want ErrDestroyed", err)
	}
}

func TestOverRelease(t *testing.T) {
	destroyed := 0
	obj := newThing("a", &destroyed)
	obj.Release()
	if _, err := obj.Release(); !errors.Is(err, ErrOverReleased) {
		t.Fatalf("second Release() = %v, want ErrOverReleased", err)
	}
	if destroyed != 1 {
		t.Fatalf("destroy ran %d times, want 1", destroyed)
	}
}

func TestConcurrentRetainRelease(t *testing.T) {
	destroyed := 0
	obj := newThing("a", &destroyed)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if err := obj.Retain(); err != nil {
					t.Error(err)
					return
				}
				if _, err := obj.Release(); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := obj.RefCount(); got != 1 {
		t.Fatalf("RefCount() = %d, want 1", got)
	}
	if destroyed != 0 {
		t.Fatal("destroyed while base reference held")
	}
}

func TestRegistryFindRetains(t *testing.T) {
	destroyed := 0
	reg := NewRegistry[string, *thing]()
	obj := newThing("a", &destroyed)
	reg.Put("a", obj)

	found, ok := reg.Find("a")
	if !ok {
		t.Fatal("Find() miss for present key")
	}
	if got := found.RefCount(); got != 2 {
		t.Fatalf("RefCount() after Find = %d, want 2", got)
	}
	found.Release()

	// Drop the collection reference; the entry is now a stale pointer and
	// Find must refuse to hand it out.
	obj.Release()
	if _, ok := reg.Find("a"); ok {
		t.Fatal("Find() returned a destroyed entity")
	}
}

func TestRegistryRemove(t *testing.T) {
	destroyed := 0
	reg := NewRegistry[string, *thing]()
	obj := newThing("a", &destroyed)
	reg.Put("a", obj)
	reg.Remove("a")

	if _, ok := reg.Find("a"); ok {
		t.Fatal("Find() hit after Remove")
	}
	if got := reg.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}
