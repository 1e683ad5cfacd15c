package registry

import (
	"fmt"
	"reflect"
	"testing"
)

type fixture struct {
	Name        string
	Description string
}

func TestRegister(t *testing.T) {
	reg := New[fixture]()

	tests := []struct {
		name    string
		itemKey string
		wantErr bool
	}{
		{"valid item", "airline", false},
		{"empty name", "", true},
		{"duplicate name", "airline", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.itemKey, fixture{Name: tt.itemKey})
			if (err != nil) != tt.wantErr {
				t.Errorf("Register(%q) error = %v, wantErr %v", tt.itemKey, err, tt.wantErr)
			}
		})
	}
}

func TestGet(t *testing.T) {
	reg := New[fixture]()

	want := fixture{Name: "retail", Description: "Retail e-commerce"}
	if err := reg.Register("retail", want); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	got, ok := reg.Get("retail")
	if !ok {
		t.Fatal("expected item to be found")
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	if _, ok := reg.Get("missing"); ok {
		t.Error("expected missing item to report false")
	}
}

func TestNamesSorted(t *testing.T) {
	reg := New[fixture]()

	for _, name := range []string{"telecom", "airline", "retail", "mock"} {
		if err := reg.Register(name, fixture{Name: name}); err != nil {
			t.Fatalf("failed to register %s: %v", name, err)
		}
	}

	want := []string{"airline", "mock", "retail", "telecom"}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRemove(t *testing.T) {
	reg := New[fixture]()

	if err := reg.Register("mock", fixture{Name: "mock"}); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	if err := reg.Remove("mock"); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
	if _, ok := reg.Get("mock"); ok {
		t.Error("item still present after removal")
	}
	if err := reg.Remove("mock"); err == nil {
		t.Error("expected error removing a missing item")
	}
}

func TestCountAndClear(t *testing.T) {
	reg := New[fixture]()

	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("item-%d", i)
		if err := reg.Register(name, fixture{Name: name}); err != nil {
			t.Fatalf("failed to register %s: %v", name, err)
		}
	}
	if got := reg.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}

	reg.Clear()

	if got := reg.Count(); got != 0 {
		t.Errorf("Count() after Clear = %d, want 0", got)
	}
	if got := reg.List(); len(got) != 0 {
		t.Errorf("List() after Clear has %d items", len(got))
	}
}

func TestConcurrentAccess(t *testing.T) {
	reg := New[fixture]()

	done := make(chan bool, 2)

	go func() {
		defer func() { done <- true }()
		for i := 0; i < 100; i++ {
			name := fmt.Sprintf("concurrent-%d", i)
			_ = reg.Register(name, fixture{Name: name})
		}
	}()

	go func() {
		defer func() { done <- true }()
		for i := 0; i < 100; i++ {
			reg.Get(fmt.Sprintf("concurrent-%d", i))
			reg.Count()
			reg.Names()
		}
	}()

	<-done
	<-done

	if got := reg.Count(); got != 100 {
		t.Errorf("Count() after concurrent writes = %d, want 100", got)
	}
}
