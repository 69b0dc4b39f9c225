package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3MockForTests returns an *S3Store backed by an in-process fake HTTP
// transport. Only the operations the Store interface needs are handled.
func NewS3MockForTests() *S3Store {
	transport := &s3FakeTransport{objects: make(map[string]s3FakeObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("TEST", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: transport}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://s3.fake.local")
	})
	return &S3Store{client: client, presign: s3.NewPresignClient(client), bucket: "fake-bucket"}
}

type s3FakeObject struct {
	body        []byte
	contentType string
}

type s3FakeTransport struct {
	mu      sync.Mutex
	objects map[string]s3FakeObject
}

func (t *s3FakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	var key string
	if len(parts) == 2 {
		key = parts[1]
	}

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return t.listResponse(req.URL.Query().Get("prefix")), nil
	}

	switch req.Method {
	case http.MethodHead:
		obj, ok := t.objects[key]
		if !ok {
			return fakeResponse(http.StatusNotFound, nil, nil), nil
		}
		return fakeResponse(http.StatusOK, nil, objectHeaders(obj)), nil
	case http.MethodGet:
		obj, ok := t.objects[key]
		if !ok {
			return fakeResponse(http.StatusNotFound, nil, nil), nil
		}
		return fakeResponse(http.StatusOK, obj.body, objectHeaders(obj)), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if decoded, ok := decodeAWSChunked(body); ok {
			body = decoded
		}
		if _, exists := t.objects[key]; !exists {
			t.objects[key] = s3FakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		}
		return fakeResponse(http.StatusOK, nil, http.Header{"ETag": {`"fake"`}}), nil
	case http.MethodDelete:
		delete(t.objects, key)
		return fakeResponse(http.StatusNoContent, nil, nil), nil
	}
	return fakeResponse(http.StatusNotImplemented, nil, nil), nil
}

func (t *s3FakeTransport) listResponse(prefix string) *http.Response {
	keys := make([]string, 0, len(t.objects))
	for k := range t.objects {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(t.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return fakeResponse(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func objectHeaders(obj s3FakeObject) http.Header {
	return http.Header{
		"Content-Length": {strconv.Itoa(len(obj.body))},
		"Content-Type":   {obj.contentType},
		"ETag":           {`"fake"`},
		"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
	}
}

func fakeResponse(status int, body []byte, headers http.Header) *http.Response {
	if headers == nil {
		headers = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: headers}
}

// decodeAWSChunked unwraps a single-chunk aws-chunked payload:
// <hex-size>\r\n<body>\r\n0\r\n...
func decodeAWSChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	sizeField, _, _ := strings.Cut(parts[0], ";")
	size, err := strconv.ParseInt(sizeField, 16, 64)
	if err != nil || int64(len(parts[1])) != size || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}
