package config

import (
	"encoding/json"
	"fmt"
	"testing"

	yaml "gopkg.in/yaml.v3"
)

func TestSecretString(t *testing.T) {
	type holder struct {
		Auth SecretString `json:"auth" yaml:"auth"`
	}

	tests := []struct {
		name     string
		value    SecretString
		wantJSON string
		wantYAML string
	}{
		{"empty", "", `{"auth":null}`, "auth: null\n"},
		{"set", "token", `{"auth":"` + SecretStringValue + `"}`, "auth: " + SecretStringValue + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := json.Marshal(holder{Auth: tt.value})
			if err != nil {
				t.Fatalf("json.Marshal() error = %v", err)
			}
			if string(j) != tt.wantJSON {
				t.Errorf("json = %s, want %s", j, tt.wantJSON)
			}
			y, err := yaml.Marshal(holder{Auth: tt.value})
			if err != nil {
				t.Fatalf("yaml.Marshal() error = %v", err)
			}
			if string(y) != tt.wantYAML {
				t.Errorf("yaml = %q, want %q", y, tt.wantYAML)
			}
		})
	}
}

func TestSecretString_Printing(t *testing.T) {
	s := SecretString("Bearer token")
	if got := fmt.Sprintf("%v", s); got != SecretStringValue {
		t.Errorf("Sprintf() = %q", got)
	}
	if s.Value() != "Bearer token" {
		t.Errorf("Value() = %q", s.Value())
	}
	if got := SecretString("").String(); got != "" {
		t.Errorf("empty String() = %q", got)
	}
}
