package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestGetRemoteFileInfo(t *testing.T) {
	is := is.New(t)
	const lastModified = "Mon, 05 Jan 2026 10:00:00 GMT"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.Method, http.MethodHead)
		w.Header().Set("Last-Modified", lastModified)
		w.Header().Set("ETag", `"abc"`)
	}))
	defer server.Close()

	client := NewClient(Config{Timeout: time.Second})
	info, err := GetRemoteFileInfo(context.Background(), client, server.URL)
	is.NoErr(err)
	is.Equal(info.LastModified, lastModified)
	is.Equal(info.ETag, `"abc"`)
	is.Equal(info.LastModifiedTimestamp, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC).Unix())
}

func TestDownloadBytes(t *testing.T) {
	is := is.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		is.Equal(r.Header.Get("User-Agent"), "busstate-test")
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	client := NewClient(Config{Timeout: time.Second, UserAgent: "busstate-test", LegacyTLS: true})
	file, err := DownloadBytes(context.Background(), client, server.URL)
	is.NoErr(err)
	is.Equal(string(file.Content), "payload")
	is.Equal(file.Size(), 7)

	_, err = DownloadBytes(context.Background(), client, server.URL+"/missing")
	var statusErr *StatusError
	is.True(errors.As(err, &statusErr))
	is.Equal(statusErr.StatusCode, http.StatusNotFound)
}
