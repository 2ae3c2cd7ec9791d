package security

import "testing"

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public https", "https://8.8.8.8/reverse", false},
		{"public http", "http://93.184.216.34/v1/score", false},
		{"bad scheme", "ftp://example.com/path", true},
		{"no host", "https://", true},
		{"garbage", "://not-a-url", true},
		{"localhost", "http://localhost:8080/score", true},
		{"loopback literal", "http://127.0.0.1/score", true},
		{"private literal", "http://10.0.0.5/score", true},
		{"link-local literal", "http://169.254.169.254/latest/meta-data", true},
		{"unspecified", "http://0.0.0.0/", true},
		{"cloud metadata hostname", "http://metadata.google.internal/computeMetadata", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEndpointURL(tc.url)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateEndpointURL(%q) error = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
		})
	}
}
