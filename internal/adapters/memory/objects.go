package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

type object struct {
	data        []byte
	contentType string
}

// Objects is an in-memory ports.ObjectStore and ports.AuditSink.
type Objects struct {
	mu      sync.RWMutex
	objects map[string]object
}

var (
	_ ports.ObjectStore = (*Objects)(nil)
	_ ports.AuditSink   = (*Objects)(nil)
)

func NewObjects() *Objects {
	return &Objects{objects: make(map[string]object)}
}

func objectKey(bucket, key string) string { return bucket + "/" + key }

func (o *Objects) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read object body: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[objectKey(bucket, key)] = object{data: data, contentType: contentType}
	return nil
}

func (o *Objects) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, ports.ObjectInfo, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	obj, ok := o.objects[objectKey(bucket, key)]
	if !ok {
		return nil, ports.ObjectInfo{}, fmt.Errorf("%w: %s/%s", domain.ErrArtifactNotFound, bucket, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), ports.ObjectInfo{
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
	}, nil
}

func (o *Objects) ArchiveEnvelope(ctx context.Context, resp domain.WorkerResponse, raw []byte) error {
	key := fmt.Sprintf("%s/%s/%s.json", resp.JobID, resp.TaskID, resp.ID)
	return o.PutObject(ctx, "audit", key, bytes.NewReader(raw), int64(len(raw)), "application/json")
}

// Len is the number of stored objects in bucket.
func (o *Objects) Len(bucket string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for k := range o.objects {
		if strings.HasPrefix(k, bucket+"/") {
			n++
		}
	}
	return n
}
