package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/podcast-service/internal/core"
)

const (
	apiUploadURL      = "/api/storage/upload-url"
	headerContentType = "Content-Type"
	defaultTimeout    = 60 * time.Second
)

const errFmtNonOKStatus = "storage service returned non-OK status: %s, body: %s"

var (
	// ErrMissingUploadURL is returned when the issuer answers without a URL.
	ErrMissingUploadURL = errors.New("upload url missing from response")
	// ErrMissingStorageID is returned when an upload answers without a storage id.
	ErrMissingStorageID = errors.New("storage id missing from upload response")

	errNotFoundStatus = errors.New("not found")
)

// HTTPClient speaks the upload protocol against a remote storage service.
// It implements core.Uploader and core.URLResolver.
type HTTPClient struct {
	httpClient  *http.Client
	baseURL     string
	bearerToken string
}

// NewHTTPClient creates a client for the storage service at baseURL. A
// non-empty bearerToken is sent with every request.
func NewHTTPClient(baseURL, bearerToken string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		bearerToken: bearerToken,
	}
}

// GenerateUploadURL asks the service for a one-time upload URL.
func (c *HTTPClient) GenerateUploadURL(ctx context.Context) (string, error) {
	var response UploadURLResponse

	err := c.doJSON(ctx, http.MethodPost, c.baseURL+apiUploadURL, "", nil, &response)
	if err != nil {
		return "", fmt.Errorf("failed to generate upload url: %w", err)
	}

	if response.UploadURL == "" {
		return "", ErrMissingUploadURL
	}

	return response.UploadURL, nil
}

// Upload obtains an upload URL, POSTs the file to it and returns the storage id.
func (c *HTTPClient) Upload(ctx context.Context, file core.AudioFile) (string, error) {
	uploadURL, err := c.GenerateUploadURL(ctx)
	if err != nil {
		return "", err
	}

	var response UploadResponse

	err = c.doJSON(ctx, http.MethodPost, uploadURL, file.ContentType, file.Data, &response)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", file.Name, err)
	}

	if response.StorageID == "" {
		return "", ErrMissingStorageID
	}

	return response.StorageID, nil
}

// ResolveURL returns the playback URL for storageID, or "" when it is unknown.
func (c *HTTPClient) ResolveURL(ctx context.Context, storageID string) (string, error) {
	endpoint := c.baseURL + objectPathPrefix + url.PathEscape(storageID) + "/url"

	var response URLResponse

	err := c.doJSON(ctx, http.MethodGet, endpoint, "", nil, &response)
	if err != nil {
		if errors.Is(err, errNotFoundStatus) {
			return "", nil
		}

		return "", fmt.Errorf("failed to resolve storage id %s: %w", storageID, err)
	}

	return response.URL, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint, contentType string, body []byte, target any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set(headerContentType, contentType)
	}

	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: "+errFmtNonOKStatus, errNotFoundStatus, resp.Status, strings.TrimSpace(string(respBody)))
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf(errFmtNonOKStatus, resp.Status, strings.TrimSpace(string(respBody)))
	}

	err = json.Unmarshal(respBody, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}
