package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bramburn/hudlink/host/gps"
)

func TestFetchTrackImageReturnsBody(t *testing.T) {
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		gotUser, gotPass, ok = r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50, 0x4E, 0x47})
	}))
	defer srv.Close()

	p := New(Config{URL: srv.URL, Username: "op", Password: "secret"})
	png, err := p.FetchTrackImage(context.Background(), []gps.Point{{Lat: 1, Lon: 2}, {Lat: 3, Lon: 4}})

	require.NoError(t, err)
	require.Equal(t, []byte{0x89, 0x50, 0x4E, 0x47}, png)
	require.Equal(t, "op", gotUser)
	require.Equal(t, "secret", gotPass)
}

func TestFetchTrackImageRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(Config{URL: srv.URL})
	_, err := p.FetchTrackImage(context.Background(), []gps.Point{{Lat: 1, Lon: 2}, {Lat: 3, Lon: 4}})
	require.Error(t, err)
}

func TestFetchTrackImageRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 32))
	}))
	defer srv.Close()

	p := New(Config{URL: srv.URL, MaxPngBytes: 8})
	_, err := p.FetchTrackImage(context.Background(), []gps.Point{{Lat: 1, Lon: 2}, {Lat: 3, Lon: 4}})
	require.Error(t, err)
}
