package geoprov

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLookup_Success(t *testing.T) {
	var gotPath, gotFields string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFields = r.URL.Query().Get("fields")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"country": "Iceland",
			"countryCode": "IS",
			"regionName": "Capital Region",
			"city": "Reykjavik",
			"lat": 64.1355,
			"lon": -21.8954,
			"isp": "Advania",
			"as": "AS50613 Advania Island ehf",
			"hosting": true
		}`))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := c.Lookup(context.Background(), "51.15.120.4")
	require.NoError(t, err)
	require.Equal(t, "/51.15.120.4", gotPath)
	require.Equal(t, defaultFields, gotFields)
	require.Equal(t, "Iceland", res.Country)
	require.Equal(t, "IS", res.CountryCode)
	require.Equal(t, "Capital Region", res.Region)
	require.Equal(t, "Reykjavik", res.City)
	require.InDelta(t, 64.1355, res.Lat, 0.0001)
	require.Equal(t, "AS50613 Advania Island ehf", res.ASInfo)
	require.True(t, res.Hosting)
}

func TestLookup_FailStatusIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "10.0.0.1")
	require.ErrorIs(t, err, ErrProvider)
}

func TestLookup_StatusCode429IsThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "51.15.120.4")
	require.ErrorIs(t, err, ErrThrottled)
}

func TestLookup_ExhaustedQuotaHeaderIsThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Rl", "0")
		w.Header().Set("X-Ttl", "42")
		_, _ = w.Write([]byte(`{"status":"success","country":"Iceland"}`))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "51.15.120.4")
	require.ErrorIs(t, err, ErrThrottled)
}

func TestLookup_RetryAfterHeaderIsThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		_, _ = w.Write([]byte(`{"status":"success","country":"Iceland"}`))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "51.15.120.4")
	require.ErrorIs(t, err, ErrThrottled)
}

func TestLookup_ThrottleMessageInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"too many requests, slow down"}`))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "51.15.120.4")
	require.ErrorIs(t, err, ErrThrottled)
}

func TestLookup_MalformedBodyIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "succ`))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "51.15.120.4")
	require.ErrorIs(t, err, ErrProvider)
}

func TestLookup_ServerErrorIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "51.15.120.4")
	require.ErrorIs(t, err, ErrProvider)
}

func TestLookup_DeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "51.15.120.4")
	require.ErrorIs(t, err, ErrTimeout)
}
