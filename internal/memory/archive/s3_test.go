package archive

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/clawrt/agentd/internal/memory/store"
)

type capturePutter struct {
	inputs []*s3.PutObjectInput
	err    error
}

func (c *capturePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.inputs = append(c.inputs, params)
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveWritesEpisodeJSON(t *testing.T) {
	putter := &capturePutter{}
	a := NewS3Archiver(putter, "agent-cold-storage", "episodes", nil)

	ep := &store.Episode{
		ID:        "ep-1",
		SessionID: "s-1",
		Summary:   "deployed the service",
		Tags:      []string{"deploy"},
		CreatedAt: time.Date(2026, 7, 14, 12, 0, 0, 0, time.UTC),
	}
	if err := a.Archive(context.Background(), ep); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(putter.inputs) != 1 {
		t.Fatalf("got %d PutObject calls, want 1", len(putter.inputs))
	}
	in := putter.inputs[0]
	if *in.Bucket != "agent-cold-storage" {
		t.Fatalf("bucket = %q", *in.Bucket)
	}
	if *in.Key != "episodes/2026/07/ep-1.json" {
		t.Fatalf("key = %q", *in.Key)
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded store.Episode
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("body is not episode JSON: %v", err)
	}
	if decoded.Summary != ep.Summary {
		t.Fatalf("summary = %q, want %q", decoded.Summary, ep.Summary)
	}
}
