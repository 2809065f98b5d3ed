package resume

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr error
		invalid bool
	}{
		{name: "empty", raw: "", wantErr: ErrMissing},
		{name: "null", raw: "null", wantErr: ErrMissing},
		{name: "not an object", raw: `"hello"`, invalid: true},
		{name: "missing personal info", raw: `{"experience":[]}`, invalid: true},
		{name: "empty full name", raw: `{"personalInfo":{"fullName":""}}`, invalid: true},
		{name: "skills wrong type", raw: `{"personalInfo":{"fullName":"Ada"},"skills":"go"}`, invalid: true},
		{name: "minimal", raw: `{"personalInfo":{"fullName":"Ada"}}`},
		{name: "null lists", raw: `{"personalInfo":{"fullName":"Ada"},"experience":null,"skills":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode(json.RawMessage(tt.raw))
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.invalid:
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if len(verr.Problems) == 0 {
					t.Fatalf("expected at least one problem")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestDecodeNormalizesLists(t *testing.T) {
	t.Parallel()

	r, err := Decode(json.RawMessage(`{"personalInfo":{"fullName":"Ada"},"experience":[{"company":"Analytical Engines"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Education == nil || r.Skills == nil {
		t.Fatalf("expected empty lists, got %#v", r)
	}
	if r.Experience[0].Description == nil {
		t.Fatalf("expected empty description list")
	}

	encoded, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	again, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode re-encoded resume: %v", err)
	}
	if again.Experience[0].Company != "Analytical Engines" {
		t.Fatalf("unexpected company %q", again.Experience[0].Company)
	}
}
