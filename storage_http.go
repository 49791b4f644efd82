package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// HTTPBlobStore talks to an object-store REST API. Objects live at
// /object/{bucket}/{key} and bucket listings at /list/{bucket}.
type HTTPBlobStore struct {
	client *resty.Client
}

// NewHTTPBlobStore builds a client for the given endpoint. The API key
// is sent as a bearer token when set.
func NewHTTPBlobStore(baseURL, apiKey string, timeout time.Duration) *HTTPBlobStore {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPBlobStore{client: client}
}

func objectURL(bucket, key string) string {
	return fmt.Sprintf("/object/%s/%s", bucket, key)
}

func (s *HTTPBlobStore) Put(bucket, key string, data []byte) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		Put(objectURL(bucket, key))
	if err != nil {
		return errors.Wrap(err, "failed to upload object")
	}
	if resp.IsError() {
		return errors.Errorf("object store returned %s", resp.Status())
	}
	return nil
}

func (s *HTTPBlobStore) Get(bucket, key string) ([]byte, error) {
	resp, err := s.client.R().Get(objectURL(bucket, key))
	if err != nil {
		return nil, errors.Wrap(err, "failed to download object")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrBlobNotFound
	}
	if resp.IsError() {
		return nil, errors.Errorf("object store returned %s", resp.Status())
	}
	return resp.Body(), nil
}

func (s *HTTPBlobStore) Delete(bucket, key string) error {
	resp, err := s.client.R().Delete(objectURL(bucket, key))
	if err != nil {
		return errors.Wrap(err, "failed to delete object")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrBlobNotFound
	}
	if resp.IsError() {
		return errors.Errorf("object store returned %s", resp.Status())
	}
	return nil
}

func (s *HTTPBlobStore) List(bucket string) ([]BlobInfo, error) {
	var listing struct {
		Objects []BlobInfo `json:"objects"`
	}
	resp, err := s.client.R().
		SetResult(&listing).
		Get("/list/" + bucket)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list bucket")
	}
	if resp.IsError() {
		return nil, errors.Errorf("object store returned %s", resp.Status())
	}
	return listing.Objects, nil
}
