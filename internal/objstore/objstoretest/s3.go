// Package objstoretest provides an in-memory S3 for tests.
package objstoretest

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3 implements objstore.S3API over a map. PageSize bounds list pages.
type S3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	PageSize int
	Puts     int
}

func New() *S3 {
	return &S3{objects: make(map[string][]byte), PageSize: 1000}
}

func key(bucket, k string) string { return bucket + "/" + k }

// Set stores an object directly.
func (m *S3) Set(bucket, k string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key(bucket, k)] = data
}

// Object returns a stored object.
func (m *S3) Object(bucket, k string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key(bucket, k)]
	return b, ok
}

func (m *S3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key(aws.StringValue(in.Bucket), aws.StringValue(in.Key))]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (m *S3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key(aws.StringValue(in.Bucket), aws.StringValue(in.Key))] = data
	m.Puts++
	return &s3.PutObjectOutput{}, nil
}

func (m *S3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	m.mu.Lock()
	prefix := key(aws.StringValue(in.Bucket), aws.StringValue(in.Prefix))
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, aws.StringValue(in.Bucket)+"/"))
		}
	}
	m.mu.Unlock()
	sort.Strings(keys)

	size := max(1, m.PageSize)
	for start := 0; ; start += size {
		end := min(start+size, len(keys))
		page := &s3.ListObjectsV2Output{KeyCount: aws.Int64(int64(end - start))}
		for _, k := range keys[start:end] {
			page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
		}
		last := end >= len(keys)
		if !fn(page, last) || last {
			return nil
		}
	}
}
