package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/server/models"
)

func TestUpload_CreatesDocumentWithVersionOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "lease.pdf", []byte("pdf bytes"))

	assert.Equal(t, "lease.pdf", doc.Filename)
	assert.Equal(t, "lease.pdf", doc.OriginalFilename)
	assert.Equal(t, int64(9), doc.SizeBytes)
	assert.Equal(t, "application/pdf", doc.MimeType)
	assert.NotEmpty(t, doc.IntegrityTag)

	versions, err := f.svc.ListVersions(ctx, 1, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].VersionNumber)
	assert.Equal(t, "Initial upload", versions[0].Note)
	assert.Equal(t, doc.StoragePath, versions[0].StoragePath)

	// enrichment hook fired after commit
	assert.Equal(t, []int64{doc.ID}, f.enriched)

	// at-rest bytes must be ciphertext
	stored := f.store.blobs[doc.StoragePath]
	assert.False(t, bytes.Contains(stored, []byte("pdf bytes")))
}

func TestUpload_ValidationRejectsBeforeSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   *UploadInput
		want error
	}{
		{"bad filename", &UploadInput{Filename: "a/b.pdf", Data: []byte("x")}, common.ErrorValidation},
		{"empty file", &UploadInput{Filename: "a.pdf", Data: nil}, common.ErrEmptyFile},
		{"too large", &UploadInput{Filename: "a.pdf", Data: make([]byte, 51<<20)}, common.ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Upload(ctx, 1, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.store.blobs, "no blob may be written before validation passes")
	assert.Empty(t, f.enriched)
}

func TestUpload_MimeAllowList(t *testing.T) {
	f := newFixture(t)
	f.cfg.AllowedMime = "application/pdf, image/png"
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, 1, &UploadInput{Filename: "notes.txt", Data: []byte("x"), Bypass: true})
	assert.ErrorIs(t, err, common.ErrUnsupportedMedia)

	f.expectTx()
	out, err := f.svc.Upload(ctx, 1, &UploadInput{Filename: "scan.png", Data: []byte("png"), Bypass: true})
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.Document.MimeType)
}

func TestUpload_DuplicateByHashIsStaged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := []byte("identical bytes")
	first := f.upload(t, 1, "original.pdf", content)

	out, err := f.svc.Upload(ctx, 1, &UploadInput{Filename: "renamed-copy.pdf", Data: content})
	require.NoError(t, err)

	require.NotNil(t, out.Duplicate)
	assert.Equal(t, models.DuplicateBySHA256, out.Duplicate.Reason)
	assert.Equal(t, first.ID, out.Duplicate.Document.ID)
	assert.Nil(t, out.Document)
	assert.NotEmpty(t, out.PendingToken)

	p, err := f.mgr.pend.GetByToken(ctx, 1, out.PendingToken, models.PurposeDocumentUpload)
	require.NoError(t, err)
	assert.Equal(t, "renamed-copy.pdf", p.OriginalFilename)

	// staged content is encrypted on disk too
	stored := f.store.blobs[p.StoragePath]
	assert.False(t, bytes.Contains(stored, content))
}

func TestUpload_BypassCommitsDespiteDuplicate(t *testing.T) {
	f := newFixture(t)

	content := []byte("identical bytes")
	first := f.upload(t, 1, "original.pdf", content)
	second := f.upload(t, 1, "copy.pdf", content)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.IntegrityTag, second.IntegrityTag)
}

func TestFindDuplicate_TagTakesPrecedenceOverNameSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := []byte("content A")
	tagDoc := f.upload(t, 1, "a.pdf", content)
	// same name and size as the probe, different content
	nameDoc := f.upload(t, 1, "probe.pdf", []byte("content B"))

	match, err := f.svc.FindDuplicate(ctx, 1, f.env.IntegrityTag(content), "probe.pdf", int64(len("content B")))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, models.DuplicateBySHA256, match.Reason)
	assert.Equal(t, tagDoc.ID, match.Document.ID)
	assert.NotEqual(t, nameDoc.ID, match.Document.ID)
}

func TestFindDuplicate_NameSizeFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "Invoice.PDF", []byte("12345"))

	match, err := f.svc.FindDuplicate(ctx, 1, "no-such-tag", "invoice.pdf", 5)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, models.DuplicateByNameSize, match.Reason)
	assert.Equal(t, doc.ID, match.Document.ID)

	// other users never match
	match, err = f.svc.FindDuplicate(ctx, 2, "no-such-tag", "invoice.pdf", 5)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestRename_AppendsVersionWithSameStoragePath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "invoice.pdf", []byte("content"))

	f.expectTx()
	ok, err := f.svc.Rename(ctx, 1, doc.ID, "invoice-2024.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := f.svc.Get(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "invoice-2024.pdf", got.Filename)
	assert.Equal(t, "invoice.pdf", got.OriginalFilename)

	versions, err := f.svc.ListVersions(ctx, 1, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].VersionNumber)
	assert.Contains(t, versions[0].Note, "Renamed")
	assert.Equal(t, doc.StoragePath, versions[0].StoragePath, "rename must not copy the blob")
}

func TestRename_InvalidNameReturnsFalse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "a.pdf", []byte("x"))

	ok, err := f.svc.Rename(ctx, 1, doc.ID, "../evil.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	ok, err = f.svc.Rename(ctx, 1, 999, "fine.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddVersion_MonotonicAndMirrored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "report.pdf", []byte("v1 content"))

	f.expectTx()
	out, err := f.svc.AddVersion(ctx, 1, doc.ID, &UploadInput{
		Filename: "report.pdf", Data: []byte("v2 content longer"), Bypass: true,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Version)
	assert.Equal(t, 2, out.Version.VersionNumber)

	got, err := f.svc.Get(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Version.StoragePath, got.StoragePath)
	assert.Equal(t, out.Version.SizeBytes, got.SizeBytes)
	assert.Equal(t, out.Version.IntegrityTag, got.IntegrityTag)

	f.expectTx()
	out, err = f.svc.AddVersion(ctx, 1, doc.ID, &UploadInput{
		Filename: "report.pdf", Data: []byte("v3"), Bypass: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Version.VersionNumber)

	versions, err := f.svc.ListVersions(ctx, 1, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, 3-i, v.VersionNumber, "no gaps, newest first")
	}
}

func TestRestoreVersion_CopiesBlobAndKeepsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "doc.pdf", []byte("content Y"))
	v1Path := doc.StoragePath

	f.expectTx()
	_, err := f.svc.AddVersion(ctx, 1, doc.ID, &UploadInput{
		Filename: "doc.pdf", Data: []byte("content X replacing Y"), Bypass: true,
	})
	require.NoError(t, err)

	f.expectTx()
	restored, err := f.svc.RestoreVersion(ctx, 1, doc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.VersionNumber)
	assert.Contains(t, restored.Note, "Restored from v1")
	assert.NotEqual(t, v1Path, restored.StoragePath, "restore must copy, never back-reference")

	// v1 row and blob untouched
	v1, err := f.mgr.docs.GetVersion(ctx, 1, doc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, v1Path, v1.StoragePath)
	assert.NotNil(t, f.store.blobs[v1Path])

	// mirror shows Y's metadata again and content decrypts back to Y
	got, err := f.svc.Get(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.IntegrityTag, got.IntegrityTag)

	_, _, data, err := f.svc.Download(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("content Y"), data)
}

func TestRestoreVersion_TrashedDocumentRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "doc.pdf", []byte("content"))

	changed, err := f.svc.SoftDelete(ctx, 1, doc.ID)
	require.NoError(t, err)
	require.True(t, changed)

	_, err = f.svc.RestoreVersion(ctx, 1, doc.ID, 1)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	// chain frozen: still only v1, no copied blob
	assert.Len(t, f.mgr.docs.versions[doc.ID], 1)
	assert.Len(t, f.store.blobs, 1)
	assert.Empty(t, f.enriched[1:], "no enrichment beyond the original upload")
}

func TestDownload_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "note.txt", []byte("hello world"))

	name, mimeType, data, err := f.svc.Download(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "note.txt", name)
	assert.Equal(t, "text/plain", mimeType)
	assert.Equal(t, []byte("hello world"), data)

	// cross-tenant access is uniformly not found
	_, _, _, err = f.svc.Download(ctx, 2, doc.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSoftDelete_IdempotentTrueThenFalse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "old.pdf", []byte("x"))

	changed, err := f.svc.SoftDelete(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.svc.SoftDelete(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	trash, err := f.svc.ListTrash(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trash, 1)

	require.NoError(t, f.svc.RestoreFromTrash(ctx, 1, doc.ID))
	got, err := f.svc.Get(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted)
}

func TestPurgeExpired_RemovesRowsVersionsAndBlobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "stale.pdf", []byte("bytes"))
	f.expectTx()
	_, err := f.svc.AddVersion(ctx, 1, doc.ID, &UploadInput{Filename: "stale.pdf", Data: []byte("more bytes"), Bypass: true})
	require.NoError(t, err)

	keep := f.upload(t, 1, "fresh.pdf", []byte("keep me"))

	_, err = f.svc.SoftDelete(ctx, 1, doc.ID)
	require.NoError(t, err)
	// age the deletion past the retention window
	old := time.Now().UTC().AddDate(0, 0, -(f.cfg.TrashRetentionDays + 1))
	f.mgr.docs.docs[doc.ID].DeletedAt = &old

	purged, err := f.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = f.svc.Get(ctx, 1, doc.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, f.mgr.docs.versions[doc.ID], "versions cascade with the purge")

	// both version blobs gone, the fresh document's blob kept
	assert.Len(t, f.store.blobs, 1)
	assert.NotNil(t, f.store.blobs[keep.StoragePath])
}

func TestPurgeExpired_RetentionWindowHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "recent.pdf", []byte("x"))
	_, err := f.svc.SoftDelete(ctx, 1, doc.ID)
	require.NoError(t, err)

	purged, err := f.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)

	trash, err := f.svc.ListTrash(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, trash, 1)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.upload(t, 1, "a.pdf", []byte("aaaa"))
	f.upload(t, 1, "b.pdf", []byte("bb"))
	trashed := f.upload(t, 1, "c.pdf", []byte("c"))
	_, err := f.svc.SoftDelete(ctx, 1, trashed.ID)
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalDocuments)
	assert.Equal(t, int64(6), stats.StorageUsedBytes)
	assert.Equal(t, int64(2), stats.UploadedLastWeek)
	assert.Len(t, stats.RecentUploads, 2)
}

func TestSetFavorite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, 1, "fav.pdf", []byte("x"))
	require.NoError(t, f.svc.SetFavorite(ctx, 1, doc.ID, true))

	got, err := f.svc.Get(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.IsFavorite)

	err = f.svc.SetFavorite(ctx, 2, doc.ID, true)
	assert.True(t, errors.Is(err, common.ErrorNotFound))
}
