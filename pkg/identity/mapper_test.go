package identity

import "testing"

func TestLocalpart(t *testing.T) {
	tests := []struct {
		name     string
		identity *Verified
		want     string
	}{
		{"double name", &Verified{DoubleName: "Jo.Doe"}, "jo_doe"},
		{"legacy username", &Verified{Username: "Alice.3bot"}, "alice_3bot"},
		{"at sign folded", &Verified{DoubleName: "jo@doe"}, "jo_doe"},
		{"already clean", &Verified{DoubleName: "jo_doe"}, "jo_doe"},
		{"mixed punctuation", &Verified{DoubleName: "Jo.Doe@x"}, "jo_doe_x"},
		{"no name at all", &Verified{}, "unknown"},
		{"double name wins", &Verified{DoubleName: "primary", Username: "secondary"}, "primary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Localpart(tt.identity); got != tt.want {
				t.Errorf("Localpart() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocalpartDeterministic(t *testing.T) {
	// Case and punctuation variants of the same name converge.
	a := Localpart(&Verified{DoubleName: "Jo.Doe@x"})
	b := Localpart(&Verified{DoubleName: "jo_doe_x"})
	if a != b {
		t.Errorf("variants diverged: %q vs %q", a, b)
	}

	// Repeated calls on the same identity never change.
	id := &Verified{DoubleName: "Jo.Doe"}
	first := AccountID(id, "example.org")
	for i := 0; i < 10; i++ {
		if got := AccountID(id, "example.org"); got != first {
			t.Fatalf("AccountID changed between calls: %q vs %q", got, first)
		}
	}
}

func TestAccountID(t *testing.T) {
	id := &Verified{DoubleName: "Jo.Doe"}
	want := "@jo_doe:example.org"
	if got := AccountID(id, "example.org"); got != want {
		t.Errorf("AccountID() = %q, want %q", got, want)
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		name    string
		id      *Verified
		domains []string
		want    bool
	}{
		{"no restriction", &Verified{}, nil, true},
		{"no restriction with email", &Verified{Email: "jo@x.com"}, nil, true},
		{"allowed domain", &Verified{Email: "jo@allowed.com"}, []string{"allowed.com"}, true},
		{"domain case folded", &Verified{Email: "jo@Allowed.COM"}, []string{"allowed.com"}, true},
		{"other domain", &Verified{Email: "jo@allowed.com"}, []string{"other.com"}, false},
		{"missing email", &Verified{}, []string{"allowed.com"}, false},
		{"malformed email", &Verified{Email: "not-an-email"}, []string{"allowed.com"}, false},
		{"last at wins", &Verified{Email: "jo@weird@allowed.com"}, []string{"allowed.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allowed(tt.id, tt.domains); got != tt.want {
				t.Errorf("Allowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDisplayNameFallbacks(t *testing.T) {
	tests := []struct {
		id   *Verified
		want string
	}{
		{&Verified{Name: "Jo Doe", DoubleName: "jo.doe"}, "Jo Doe"},
		{&Verified{DoubleName: "jo.doe"}, "jo.doe"},
		{&Verified{Username: "jo"}, "jo"},
		{&Verified{}, "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.id.DisplayName(); got != tt.want {
			t.Errorf("DisplayName() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseClaims(t *testing.T) {
	body := []byte(`{"doubleName":"Jo.Doe","email":"jo@allowed.com","extra":42}`)

	v, err := ParseClaims(body)
	if err != nil {
		t.Fatalf("ParseClaims() error: %v", err)
	}
	if v.DoubleName != "Jo.Doe" {
		t.Errorf("DoubleName = %q, want %q", v.DoubleName, "Jo.Doe")
	}
	if v.Email != "jo@allowed.com" {
		t.Errorf("Email = %q, want %q", v.Email, "jo@allowed.com")
	}
	if _, ok := v.Claims["extra"]; !ok {
		t.Error("raw claim 'extra' not preserved")
	}

	if _, err := ParseClaims([]byte("not json")); err == nil {
		t.Error("expected error for malformed body")
	}
}
