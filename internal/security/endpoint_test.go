package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEndpointURL(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://hooks.example.com/guard", true},
		{"http://203.0.113.10:8080/alerts", true},
		{"ftp://example.com", false},
		{"https://", false},
		{"https://localhost/hook", false},
		{"http://127.0.0.1/hook", false},
		{"http://10.1.2.3/hook", false},
		{"http://169.254.169.254/latest/meta-data", false},
		{"http://[::1]/hook", false},
		{"http://0.0.0.0/hook", false},
		{"://nope", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := ParseEndpointURL(tt.url)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnsafeEndpoint)
			}
		})
	}
}

func TestValidateEndpointURL_IPLiteralSkipsDNS(t *testing.T) {
	assert.NoError(t, ValidateEndpointURL("https://203.0.113.10/hook"))
	assert.ErrorIs(t, ValidateEndpointURL("https://192.168.1.1/hook"), ErrUnsafeEndpoint)
}
