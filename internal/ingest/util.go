package ingest

import (
	"bytes"
	"io"
	"strings"
	"time"

	"graphmemory/internal/extractor"
	"graphmemory/internal/model"
)

func mergeKey(name, typ string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(typ))
}

func nameFromKey(key string) string {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i]
	}
	return key
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func graphstoreRelation(memoryID, fromID, toID string, r extractor.Relation, documentID string) model.Relation {
	return model.Relation{
		MemoryID:    memoryID,
		From:        fromID,
		To:          toID,
		Type:        r.Type,
		Description: r.Description,
		SourceDoc:   documentID,
	}
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func documentRecord(memoryID, documentID string, opt Options, contentHash, objectKey string, textLength int) model.Document {
	return model.Document{
		DocumentID:       documentID,
		MemoryID:         memoryID,
		Filename:         opt.Filename,
		ContentHash:      contentHash,
		SizeBytes:        int64(len(opt.Raw)),
		ContentType:      opt.ContentType,
		ObjectURI:        objectKey,
		SourcePath:       opt.SourcePath,
		SourceModifiedAt: opt.SourceModifiedAt,
		IngestedAt:       time.Now(),
		TextLength:       textLength,
	}
}
