package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURI(t *testing.T) {
	store := &ObjectStore{bucket: "transcripts"}
	assert.Equal(t, "s3://transcripts/audio/tsk_1.ogg", store.URI("audio/tsk_1.ogg"))
}

func TestContentTypeForKey(t *testing.T) {
	assert.Equal(t, "audio/ogg", contentTypeForKey("audio/tsk_1.ogg"))
	assert.Equal(t, "text/plain; charset=utf-8", contentTypeForKey("results/tsk_1.txt"))
	assert.Equal(t, "application/json", contentTypeForKey("results/tsk_1.json"))
	assert.Equal(t, "application/octet-stream", contentTypeForKey("blob"))
}
