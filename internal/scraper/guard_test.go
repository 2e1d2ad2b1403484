package scraper

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPublicAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{addr: "93.184.216.34", want: true},
		{addr: "2606:4700::6810:85e5", want: true},
		{addr: "127.0.0.1", want: false},
		{addr: "::1", want: false},
		{addr: "10.1.2.3", want: false},
		{addr: "172.16.0.9", want: false},
		{addr: "192.168.1.1", want: false},
		{addr: "169.254.169.254", want: false},
		{addr: "fe80::1", want: false},
		{addr: "fd00::1", want: false},
		{addr: "100.64.0.1", want: false},
		{addr: "0.0.0.0", want: false},
		{addr: "::ffff:127.0.0.1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, isPublicAddr(netip.MustParseAddr(tt.addr)))
		})
	}
}

func TestPublicOnlyClient_RefusesLoopback(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(permitPage))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	s := New(PublicOnlyClient(), limiter, nil)

	res := s.ScrapeURL(t.Context(), srv.URL+"/admin", testOptions())

	require.False(t, res.Success)
	assert.Contains(t, res.Error, ErrBlockedAddress.Error())
	assert.Zero(t, hits.Load())
	assert.Equal(t, int32(1), limiter.calls.Load(), "blocked addresses are not retried")
}
