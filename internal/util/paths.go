// Package util holds the object storage key layout shared by the document
// repository, the conversion pipeline and the audio cache.
package util

import (
	"fmt"
	"path"
)

// DocumentPrefix is the key prefix holding everything for one document.
func DocumentPrefix(docID string) string {
	return path.Join("documents", docID) + "/"
}

func DocumentMetadataKey(docID string) string {
	return path.Join("documents", docID, "metadata.json")
}

// DocumentRawKey is where the uploaded file is kept, e.g. documents/doc-1/raw.epub.
func DocumentRawKey(docID, format string) string {
	return path.Join("documents", docID, "raw."+format)
}

func ChapterKey(docID, chapterID string) string {
	return path.Join("documents", docID, "chapters", chapterID+".json")
}

// ConversionPrefix is the key prefix holding all audio for one job.
func ConversionPrefix(jobID string) string {
	return path.Join("conversions", jobID) + "/"
}

// ConversionManifestKey holds the chunk and chapter layout of a job.
func ConversionManifestKey(jobID string) string {
	return path.Join("conversions", jobID, "manifest.json")
}

func FullAudioKey(jobID string) string {
	return path.Join("conversions", jobID, "full.mp3")
}

func ChapterAudioKey(jobID, chapterID string) string {
	return path.Join("conversions", jobID, "chapters", chapterID+".mp3")
}

// ChunkAudioKey zero-pads the index so List returns chunks in order.
func ChunkAudioKey(jobID string, index int) string {
	return path.Join("conversions", jobID, "chunks", fmt.Sprintf("%05d.mp3", index))
}

// CacheBlobPrefix is the storage prefix holding every cache blob.
const CacheBlobPrefix = "cache/"

// CacheBlobKey shards blobs by the first two hex characters of the hash.
func CacheBlobKey(hash string) string {
	shard := "xx"
	if len(hash) >= 2 {
		shard = hash[:2]
	}
	return path.Join("cache", shard, hash+".mp3")
}
