package permissions

import "testing"

func TestRegistryIsComplete(t *testing.T) {
	if len(All()) != 16 {
		t.Fatalf("expected 16 registered keys, got %d", len(All()))
	}
	seen := make(map[Key]bool)
	for _, m := range Registry() {
		if m.Key == "" || m.Label == "" || m.Description == "" || m.Category == "" {
			t.Errorf("incomplete metadata for %q: %+v", m.Key, m)
		}
		if seen[m.Key] {
			t.Errorf("duplicate key %q in registry", m.Key)
		}
		seen[m.Key] = true
	}
}

func TestValid(t *testing.T) {
	for _, k := range All() {
		if !Valid(k) {
			t.Errorf("expected %q valid", k)
		}
	}
	for _, k := range []Key{"", "ticket", "ticket:drop", "TICKET:READ"} {
		if Valid(k) {
			t.Errorf("expected %q invalid", k)
		}
	}
}

func TestLookup(t *testing.T) {
	m, ok := Lookup(TicketDelete)
	if !ok {
		t.Fatal("expected ticket:delete registered")
	}
	if m.Category != CategoryTicket {
		t.Errorf("expected ticket category, got %q", m.Category)
	}
	if _, ok := Lookup(Key("no:such")); ok {
		t.Error("expected unknown key to miss")
	}
}

func TestByCategory(t *testing.T) {
	counts := map[Category]int{
		CategoryTicket:       5,
		CategoryComment:      4,
		CategoryOrganization: 3,
		CategoryMember:       4,
	}
	for c, want := range counts {
		if got := len(ByCategory(c)); got != want {
			t.Errorf("category %s: expected %d keys, got %d", c, want, got)
		}
	}
	if keys := ByCategory(Category("billing")); keys != nil {
		t.Errorf("expected nil for unknown category, got %v", keys)
	}
}

func TestMinimumRequiredKeysAreRegistered(t *testing.T) {
	for _, k := range MinimumRequired() {
		if !Valid(k) {
			t.Errorf("minimum required key %q not registered", k)
		}
	}
}

func TestRegistryReturnsCopy(t *testing.T) {
	r := Registry()
	r[0].Label = "mutated"
	if Registry()[0].Label == "mutated" {
		t.Error("expected Registry to return a copy")
	}
}
