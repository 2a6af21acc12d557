package flow

import "testing"

func TestValidName(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"empty", "", false},
		{"single character", "A", false},
		{"whitespace padded single character", "  A  ", false},
		{"two characters", "Al", true},
		{"full name", "Alice Murphy", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validName(tt.value); got != tt.want {
				t.Errorf("validName(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestValidPhone(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"empty", "", false},
		{"too few digits", "123456789", false},
		{"ten digits", "0899678596", true},
		{"international with plus", "+353899678596", true},
		{"separators tolerated", "089 967-8596", true},
		{"too many digits", "1234567890123456", false},
		{"letters only", "call me", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validPhone(tt.value); got != tt.want {
				t.Errorf("validPhone(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"empty", "", false},
		{"missing at", "alice.example.com", false},
		{"missing domain", "alice@", false},
		{"valid", "alice@example.com", true},
		{"whitespace padded", "  alice@example.com  ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validEmail(tt.value); got != tt.want {
				t.Errorf("validEmail(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestCheckShape(t *testing.T) {
	tests := []struct {
		name    string
		kind    InputKind
		field   string
		value   string
		wantOK  bool
		wantErr string
	}{
		{"phone invalid", InputPhone, FieldPhone, "12345", false, phoneShapeError},
		{"phone valid", InputPhone, FieldPhone, "0899678596", true, ""},
		{"email blank accepted", InputEmail, FieldEmail, "", true, ""},
		{"email invalid", InputEmail, FieldEmail, "not-an-email", false, emailShapeError},
		{"email valid", InputEmail, FieldEmail, "alice@example.com", true, ""},
		{"name too short", InputText, FieldName, "A", false, nameShapeError},
		{"name valid", InputText, FieldName, "Alice", true, ""},
		{"text not name unconstrained", InputText, "other", "", true, ""},
		{"options unconstrained", InputOptions, "", "anything", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, errText := checkShape(tt.kind, tt.field, tt.value)
			if ok != tt.wantOK {
				t.Errorf("checkShape(%v, %q, %q) ok = %v, want %v", tt.kind, tt.field, tt.value, ok, tt.wantOK)
			}
			if errText != tt.wantErr {
				t.Errorf("checkShape(%v, %q, %q) errText = %q, want %q", tt.kind, tt.field, tt.value, errText, tt.wantErr)
			}
		})
	}
}
