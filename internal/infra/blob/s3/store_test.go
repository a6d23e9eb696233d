package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limscore/internal/blob/core"
)

type fakeObject struct {
	body        []byte
	contentType string
	meta        map[string]string
}

// fakeS3 answers the path-style object requests the store issues.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func respond(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: header}
}

// headers builds a canonicalised header set from name/value pairs.
func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;etag&quot;</ETag><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, b.String(), headers("Content-Type", "application/xml")), nil
	}
	obj, found := f.objects[key]
	switch req.Method {
	case http.MethodHead:
		if !found {
			return respond(http.StatusNotFound, "", nil), nil
		}
		return respond(http.StatusOK, "", headers("Content-Length", fmt.Sprint(len(obj.body)), "ETag", `"etag"`)), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if decoded, ok := decodeChunked(body); ok {
			body = decoded
		}
		meta := map[string]string{}
		for name, values := range req.Header {
			if lower := strings.ToLower(name); strings.HasPrefix(lower, "x-amz-meta-") {
				meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), meta: meta}
		return respond(http.StatusOK, "", headers("ETag", `"etag"`)), nil
	case http.MethodGet:
		if !found {
			return respond(http.StatusNotFound, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`,
				headers("Content-Type", "application/xml")), nil
		}
		h := headers(
			"Content-Length", fmt.Sprint(len(obj.body)),
			"Content-Type", obj.contentType,
			"ETag", `"etag"`,
		)
		for k, v := range obj.meta {
			h.Set("X-Amz-Meta-"+k, v)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(obj.body)), Header: h}, nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, "", nil), nil
	}
	return respond(http.StatusNotImplemented, "", nil), nil
}

// decodeChunked unwraps a single-chunk aws-chunked payload.
func decodeChunked(b []byte) ([]byte, bool) {
	lines := strings.Split(string(b), "\r\n")
	if len(lines) < 3 || lines[2] != "0" {
		return nil, false
	}
	var size int
	if _, err := fmt.Sscanf(lines[0], "%x", &size); err != nil || size != len(lines[1]) {
		return nil, false
	}
	return []byte(lines[1]), true
}

func newFakeStore(t *testing.T) *Store {
	t.Helper()
	fake := &fakeS3{objects: make(map[string]fakeObject)}
	store, err := New(context.Background(), Config{
		Bucket:          "lims-backups",
		Endpoint:        "https://s3.test.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	require.NoError(t, err)
	return store
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	store := newFakeStore(t)
	ctx := context.Background()
	assert.Equal(t, core.DriverS3, store.Driver())
	assert.Equal(t, "lims-backups", store.Bucket())

	info, err := store.Put(ctx, "upgrades/bika.lims/1.2.9/a.json", strings.NewReader(`{"objects":{}}`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"product": "bika.lims"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(14), info.Size)
	assert.Equal(t, "etag", info.ETag)

	_, err = store.Put(ctx, "upgrades/bika.lims/1.2.9/a.json", strings.NewReader("x"), core.PutOptions{})
	assert.True(t, errors.Is(err, core.ErrExists))

	got, rc, err := store.Get(ctx, "upgrades/bika.lims/1.2.9/a.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	assert.Equal(t, `{"objects":{}}`, string(body))
	assert.Equal(t, "application/json", got.ContentType)
	assert.Equal(t, "etag", got.ETag)
	assert.Equal(t, "bika.lims", got.Metadata["product"])

	_, err = store.Put(ctx, "other/b.json", strings.NewReader("{}"), core.PutOptions{})
	require.NoError(t, err)
	list, err := store.List(ctx, "upgrades/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "upgrades/bika.lims/1.2.9/a.json", list[0].Key)

	existed, err := store.Delete(ctx, "other/b.json")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = store.Delete(ctx, "other/b.json")
	require.NoError(t, err)
	assert.False(t, existed)

	_, _, err = store.Get(ctx, "other/b.json")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}
