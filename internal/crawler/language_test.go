package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLanguageFilter(t *testing.T) {
	t.Parallel()

	f := NewLanguageFilter(nil, map[string][]string{"fastapi.tiangolo.com": {"/pt-br/"}})
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://docs.example.com/zh/guide", true},
		{"https://docs.example.com/ZH-CN/", true},
		{"https://docs.example.com/guide/zh/", false},
		{"https://docs.example.com/", false},
		{"https://docs.example.com/english", false},
		{"https://fastapi.tiangolo.com/pt-br/tutorial", true},
		{"https://docs.example.com/pt-br/tutorial", false},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		require.NoError(t, err)
		require.Equal(t, tt.want, f.Excluded(u), tt.raw)
	}
}

func TestLanguageFilterCustomDenylist(t *testing.T) {
	t.Parallel()

	f := NewLanguageFilter([]string{"legacy"}, nil)
	u, err := url.Parse("https://docs.example.com/zh/guide")
	require.NoError(t, err)
	require.False(t, f.Excluded(u))
	u, err = url.Parse("https://docs.example.com/legacy/guide")
	require.NoError(t, err)
	require.True(t, f.Excluded(u))

	var nilFilter *LanguageFilter
	require.False(t, nilFilter.Excluded(u))
}
