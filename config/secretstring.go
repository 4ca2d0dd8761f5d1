package config

// SecretStringValue replaces non-empty secrets wherever configuration is
// printed.
const SecretStringValue = "<secret>"

// SecretString holds credentials, such as upstream authorization header, which
// must not end up in configuration dumps, logs or debug reports.
type SecretString string

// Value returns the secret itself, use it only to talk to the upstream.
func (s SecretString) Value() string {
	return string(s)
}

func (s SecretString) masked() string {
	if len(s) == 0 {
		return ""
	}
	return SecretStringValue
}

// String keeps secret out of fmt and zap.Stringer output.
func (s SecretString) String() string {
	return s.masked()
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return []byte(`"` + s.masked() + `"`), nil
}

func (s SecretString) MarshalYAML() (any, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return s.masked(), nil
}
