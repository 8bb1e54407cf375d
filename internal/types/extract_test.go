package types

import (
	"encoding/json"
	"testing"
)

func TestGetString(t *testing.T) {
	m := map[string]interface{}{"name": "Mira", "count": 3}

	if got, ok := GetString(m, "name"); !ok || got != "Mira" {
		t.Errorf("GetString(name) = (%q, %v), want (Mira, true)", got, ok)
	}
	if _, ok := GetString(m, "count"); ok {
		t.Error("GetString(count) should fail on non-string")
	}
	if _, ok := GetString(m, "missing"); ok {
		t.Error("GetString(missing) should fail")
	}
	if got := StringOr(m, "missing", "fallback"); got != "fallback" {
		t.Errorf("StringOr(missing) = %q, want fallback", got)
	}
}

func TestGetBool(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		want   bool
		wantOK bool
	}{
		{"bool true", true, true, true},
		{"bool false", false, false, true},
		{"string true", "true", true, true},
		{"string false", "false", false, true},
		{"string other", "yes", false, false},
		{"int fails", 1, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := GetBool(map[string]interface{}{"k": tt.value}, "k")
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("GetBool(%v) = (%v, %v), want (%v, %v)", tt.value, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestGetIntHandlesJSONNumbers(t *testing.T) {
	// Values arriving through json.Unmarshal are float64.
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(`{"index": 4, "ratio": 2.7}`), &m); err != nil {
		t.Fatal(err)
	}

	if got, ok := GetInt(m, "index"); !ok || got != 4 {
		t.Errorf("GetInt(index) = (%d, %v), want (4, true)", got, ok)
	}
	if got, ok := GetFloat(m, "ratio"); !ok || got != 2.7 {
		t.Errorf("GetFloat(ratio) = (%f, %v), want (2.7, true)", got, ok)
	}
	if got, ok := GetInt(map[string]interface{}{"k": 9}, "k"); !ok || got != 9 {
		t.Errorf("GetInt(go int) = (%d, %v), want (9, true)", got, ok)
	}
}

func TestGetStringSlice(t *testing.T) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(`{"tags": ["winter", "harbor"], "mixed": ["a", 1]}`), &m); err != nil {
		t.Fatal(err)
	}

	got, ok := GetStringSlice(m, "tags")
	if !ok || len(got) != 2 || got[0] != "winter" || got[1] != "harbor" {
		t.Errorf("GetStringSlice(tags) = (%v, %v), want ([winter harbor], true)", got, ok)
	}
	if _, ok := GetStringSlice(m, "mixed"); ok {
		t.Error("GetStringSlice(mixed) should fail on non-string element")
	}
	typed, ok := GetStringSlice(map[string]interface{}{"k": []string{"x"}}, "k")
	if !ok || len(typed) != 1 || typed[0] != "x" {
		t.Errorf("GetStringSlice(go slice) = (%v, %v), want ([x], true)", typed, ok)
	}
}

func TestGetMap(t *testing.T) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(`{"patch": {"name": "New"}}`), &m); err != nil {
		t.Fatal(err)
	}

	sub, ok := GetMap(m, "patch")
	if !ok {
		t.Fatal("GetMap(patch) should succeed")
	}
	if got, _ := GetString(sub, "name"); got != "New" {
		t.Errorf("nested name = %q, want New", got)
	}
	if _, ok := GetMap(m, "missing"); ok {
		t.Error("GetMap(missing) should fail")
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"plain", "plain"},
		{nil, ""},
		{42, "42"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := Stringify(tt.input); got != tt.want {
			t.Errorf("Stringify(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
