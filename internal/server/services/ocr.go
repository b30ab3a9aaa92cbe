package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/filex"
	"github.com/dmitrijs2005/docvault/internal/logging"
	sc "github.com/dmitrijs2005/docvault/internal/server/config"
	"github.com/dmitrijs2005/docvault/internal/server/ocr"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docvault/internal/server/storage"
	"github.com/dmitrijs2005/docvault/internal/textx"
)

// TextExtractor derives raw text from a staged plaintext file. Implemented
// by *ocr.Extractor; faked in tests.
type TextExtractor interface {
	ExtractFile(path, originalName string) (string, error)
}

// OCRService runs the per-document enrichment pipeline:
// load ciphertext, decrypt, stage plaintext in a temp file, extract,
// delete temp (always), store encrypted text, auto-categorize.
type OCRService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	store       storage.BlobStore
	env         *cryptox.Envelope
	extractor   TextExtractor
	categorizer *CategorizeService
	log         logging.Logger
}

func NewOCRService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config,
	store storage.BlobStore, env *cryptox.Envelope, extractor TextExtractor,
	categorizer *CategorizeService, log logging.Logger) *OCRService {
	return &OCRService{
		db:          db,
		repomanager: repomanager,
		config:      config,
		store:       store,
		env:         env,
		extractor:   extractor,
		categorizer: categorizer,
		log:         log,
	}
}

// ProcessDocument extracts searchable text from the document's current
// version and caches it encrypted. Empty extraction output short-circuits:
// no DB write, no categorization. The temp plaintext file is removed on
// every path out of the extraction stage.
//
// Callers treat a returned error as "no OCR for this document" and log it;
// it must never fail the upload that triggered it.
func (s *OCRService) ProcessDocument(ctx context.Context, userID, docID int64) error {
	repo := s.repomanager.Documents(s.db)

	doc, err := repo.GetForUser(ctx, userID, docID)
	if err != nil {
		return err
	}

	blob, err := s.store.Load(ctx, userID, storage.Locator{StoragePath: doc.StoragePath, StoredName: doc.StoredName})
	if err != nil {
		return err
	}
	plaintext, err := s.env.DecryptBytes(blob)
	if err != nil {
		return err
	}
	// Plaintext lives only in this buffer and the temp file; zero it once
	// extraction is done.
	defer common.WipeByteArray(plaintext)

	text, err := s.extractText(doc.OriginalFilename, plaintext)
	if err != nil {
		return err
	}
	if text == "" {
		s.log.Debug(ctx, "no text extracted", "document_id", docID)
		return nil
	}

	enc, err := s.env.EncryptText(text)
	if err != nil {
		return err
	}
	if err := repo.SetOCRText(ctx, docID, enc); err != nil {
		return err
	}
	s.log.Info(ctx, "ocr text stored", "document_id", docID, "chars", len(text))

	if s.categorizer != nil {
		if err := s.categorizer.Apply(ctx, userID, docID); err != nil {
			// Categorization is itself best-effort within the pipeline.
			s.log.Warn(ctx, "auto-categorization failed", "document_id", docID, "error", err)
		}
	}
	return nil
}

// extractText stages plaintext in a temp file for the extraction libraries
// and guarantees its removal regardless of extraction outcome.
func (s *OCRService) extractText(originalName string, plaintext []byte) (string, error) {
	tmp, err := ocr.WriteTempPlaintext(s.config.TempDir, filex.LowerExt(originalName), plaintext)
	if err != nil {
		return "", err
	}
	defer tmp.Remove()

	raw, err := s.extractor.ExtractFile(tmp.Path(), originalName)
	if err != nil {
		return "", err
	}
	return textx.NormalizeWhitespace(raw), nil
}
