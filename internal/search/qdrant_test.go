package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		host    string
		port    int
		useTLS  bool
		wantErr bool
	}{
		{name: "https with rest port", url: "https://xyz.cloud.qdrant.io:6333", host: "xyz.cloud.qdrant.io", port: 6334, useTLS: true},
		{name: "http local", url: "http://localhost:6333", host: "localhost", port: 6334},
		{name: "explicit grpc port", url: "http://localhost:6334", host: "localhost", port: 6334},
		{name: "custom port kept", url: "http://localhost:7001", host: "localhost", port: 7001},
		{name: "no port defaults to grpc", url: "http://qdrant.internal", host: "qdrant.internal", port: 6334},
		{name: "garbage", url: "not a url", wantErr: true},
		{name: "empty", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := parseURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.useTLS, useTLS)
		})
	}
}

func TestPointIDDeterministic(t *testing.T) {
	a := pointID("proj", "trace-1")
	b := pointID("proj", "trace-1")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, pointID("proj", "trace-2"))
	assert.NotEqual(t, a, pointID("other", "trace-1"))
}
