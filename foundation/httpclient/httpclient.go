// Package httpclient provides basic http functions
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config describes how to build an http.Client for upstream feeds
type Config struct {
	Timeout time.Duration
	// LegacyTLS accepts TLS 1.0+ and the RSA key exchange / CBC cipher suites Go no longer offers by default.
	// Some agency servers still require them.
	LegacyTLS bool
	UserAgent string
}

// NewClient creates http.Client with timeout and tls profile from cfg
func NewClient(cfg Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.LegacyTLS {
		transport.TLSClientConfig = legacyTLSConfig()
	}
	var roundTripper http.RoundTripper = transport
	if len(cfg.UserAgent) > 0 {
		roundTripper = &userAgentTransport{userAgent: cfg.UserAgent, next: transport}
	}
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: roundTripper,
	}
}

// legacyTLSConfig lists every cipher suite crypto/tls implements, secure ones first
func legacyTLSConfig() *tls.Config {
	var suites []uint16
	for _, suite := range tls.CipherSuites() {
		suites = append(suites, suite.ID)
	}
	for _, suite := range tls.InsecureCipherSuites() {
		suites = append(suites, suite.ID)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS10,
		CipherSuites: suites,
	}
}

type userAgentTransport struct {
	userAgent string
	next      http.RoundTripper
}

func (u *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", u.userAgent)
	return u.next.RoundTrip(req)
}

// StatusError is returned when the remote server responds with anything other than 200
type StatusError struct {
	URL        string
	StatusCode int
}

func (s *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", s.StatusCode, s.URL)
}

// RemoteFileInfo contains information
type RemoteFileInfo struct {
	ETag string
	// LastModified is the raw Last-Modified header, used as the feed fingerprint
	LastModified          string
	LastModifiedTimestamp int64
	Path                  string
}

// GetRemoteFileInfo retrieves ETag and last modified values from url using a HEAD request
func GetRemoteFileInfo(ctx context.Context, client *http.Client, url string) (RemoteFileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return RemoteFileInfo{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return RemoteFileInfo{}, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RemoteFileInfo{}, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return getRemoteFileInfo(url, resp), nil
}

func getRemoteFileInfo(url string, resp *http.Response) RemoteFileInfo {
	result := RemoteFileInfo{
		Path: url,
	}
	result.ETag = resp.Header.Get("ETag")

	result.LastModified = resp.Header.Get("Last-Modified")

	if len(result.LastModified) > 0 {
		parsedTime, err := time.Parse(time.RFC1123, result.LastModified)
		if err == nil {
			result.LastModifiedTimestamp = parsedTime.Unix()
		}
	}
	return result

}

// DownloadedFile contains a file that has been downloaded into memory
type DownloadedFile struct {
	RemoteFileInfo RemoteFileInfo
	Content        []byte
	DownloadedAt   time.Time
}

// Size returns the number of bytes downloaded
func (df *DownloadedFile) Size() int {
	return len(df.Content)
}

// DownloadBytes retrieves the body at url. Responses other than 200 are returned as *StatusError
func DownloadBytes(ctx context.Context, client *http.Client, url string) (*DownloadedFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	buf := new(bytes.Buffer)
	_, err = io.Copy(buf, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body from %s: %w", url, err)
	}
	return &DownloadedFile{
		RemoteFileInfo: getRemoteFileInfo(url, resp),
		Content:        buf.Bytes(),
		DownloadedAt:   time.Now(),
	}, nil
}
