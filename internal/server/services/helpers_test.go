package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/logging"
	sc "github.com/dmitrijs2005/docvault/internal/server/config"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/categories"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/documents"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/pendinguploads"
	"github.com/dmitrijs2005/docvault/internal/server/storage"
)

// ---- in-memory blob store ----

type memStore struct {
	mu    sync.Mutex
	next  int
	blobs map[string][]byte // location -> ciphertext
}

func newMemStore() *memStore {
	return &memStore{blobs: map[string][]byte{}}
}

func (m *memStore) Save(ctx context.Context, userID int64, data []byte) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	token := fmt.Sprintf("tok%04d", m.next)
	location := fmt.Sprintf("/mem/%d/%s", userID, token)
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[location] = cp
	return token, location, nil
}

func (m *memStore) Load(ctx context.Context, userID int64, loc storage.Locator) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.blobs[loc.StoragePath]; ok {
		return b, nil
	}
	if loc.StoredName != "" {
		key := fmt.Sprintf("/mem/%d/%s", userID, loc.StoredName)
		if b, ok := m.blobs[key]; ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: blob %s", common.ErrorNotFound, loc.StoragePath)
}

func (m *memStore) Copy(ctx context.Context, userID int64, src storage.Locator) (string, string, error) {
	data, err := m.Load(ctx, userID, src)
	if err != nil {
		return "", "", err
	}
	return m.Save(ctx, userID, data)
}

func (m *memStore) Remove(ctx context.Context, userID int64, loc storage.Locator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[loc.StoragePath]; !ok {
		return fmt.Errorf("%w: blob %s", common.ErrorNotFound, loc.StoragePath)
	}
	delete(m.blobs, loc.StoragePath)
	return nil
}

// ---- in-memory documents repository ----

type memDocRepo struct {
	mu       sync.Mutex
	nextID   int64
	docs     map[int64]*models.Document
	versions map[int64][]*models.DocumentVersion
	links    map[int64][]int64 // docID -> categoryIDs
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{
		docs:     map[int64]*models.Document{},
		versions: map[int64][]*models.DocumentVersion{},
		links:    map[int64][]int64{},
	}
}

func (r *memDocRepo) CreateWithVersion(ctx context.Context, doc *models.Document, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	doc.ID = r.nextID
	doc.CreatedAt = time.Now().UTC()
	cp := *doc
	r.docs[doc.ID] = &cp
	r.versions[doc.ID] = []*models.DocumentVersion{{
		ID: r.nextID*100 + 1, DocumentID: doc.ID, VersionNumber: 1,
		StoragePath: doc.StoragePath, SizeBytes: doc.SizeBytes,
		IntegrityTag: doc.IntegrityTag, MimeType: doc.MimeType,
		Note: note, CreatedAt: doc.CreatedAt,
	}}
	return nil
}

func (r *memDocRepo) get(userID, docID int64) (*models.Document, bool) {
	d, ok := r.docs[docID]
	if !ok || d.OwnerUserID != userID {
		return nil, false
	}
	return d, true
}

func (r *memDocRepo) GetForUser(ctx context.Context, userID, docID int64) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.get(userID, docID)
	if !ok {
		return nil, fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	cp := *d
	for _, catID := range r.links[docID] {
		cp.Categories = append(cp.Categories, &models.Category{ID: catID, UserID: userID})
	}
	return &cp, nil
}

func (r *memDocRepo) ListActive(ctx context.Context, userID int64) ([]*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Document
	for _, d := range r.docs {
		if d.OwnerUserID == userID && !d.IsDeleted {
			cp := *d
			for _, catID := range r.links[d.ID] {
				cp.Categories = append(cp.Categories, &models.Category{ID: catID, UserID: userID})
			}
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memDocRepo) ListSearchCandidates(ctx context.Context, userID int64) ([]*documents.Candidate, error) {
	docs, err := r.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*documents.Candidate
	for _, d := range docs {
		last := d.CreatedAt
		for _, v := range r.versions[d.ID] {
			if v.CreatedAt.After(last) {
				last = v.CreatedAt
			}
		}
		out = append(out, &documents.Candidate{Document: d, LastUpdated: last})
	}
	return out, nil
}

func (r *memDocRepo) UpdateFilename(ctx context.Context, userID, docID int64, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.get(userID, docID)
	if !ok || d.IsDeleted {
		return fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	d.Filename = filename
	return nil
}

func (r *memDocRepo) SetFavorite(ctx context.Context, userID, docID int64, favorite bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.get(userID, docID)
	if !ok || d.IsDeleted {
		return fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	d.IsFavorite = favorite
	return nil
}

func (r *memDocRepo) SetOCRText(ctx context.Context, docID int64, encryptedText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[docID]
	if !ok {
		return fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	d.OCRText = encryptedText
	return nil
}

func (r *memDocRepo) SoftDelete(ctx context.Context, userID, docID int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.get(userID, docID)
	if !ok {
		return false, fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	if d.IsDeleted {
		return false, nil
	}
	d.IsDeleted = true
	d.DeletedAt = &at
	return true, nil
}

func (r *memDocRepo) RestoreDeleted(ctx context.Context, userID, docID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.get(userID, docID)
	if !ok || !d.IsDeleted {
		return fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	d.IsDeleted = false
	d.DeletedAt = nil
	return nil
}

func (r *memDocRepo) ListTrash(ctx context.Context, userID int64) ([]*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Document
	for _, d := range r.docs {
		if d.OwnerUserID == userID && d.IsDeleted {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memDocRepo) ExpiredForPurge(ctx context.Context, cutoff time.Time, limit int) ([]*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Document
	for _, d := range r.docs {
		if d.IsDeleted && d.DeletedAt != nil && !d.DeletedAt.After(cutoff) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memDocRepo) VersionLocations(ctx context.Context, docID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, v := range r.versions[docID] {
		if _, ok := seen[v.StoragePath]; !ok {
			seen[v.StoragePath] = struct{}{}
			out = append(out, v.StoragePath)
		}
	}
	return out, nil
}

func (r *memDocRepo) DeleteHard(ctx context.Context, docID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[docID]; !ok {
		return fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	delete(r.docs, docID)
	delete(r.versions, docID)
	delete(r.links, docID)
	return nil
}

func (r *memDocRepo) FindByTag(ctx context.Context, userID int64, tag string) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Document
	for _, d := range r.docs {
		if d.OwnerUserID == userID && !d.IsDeleted && d.IntegrityTag == tag {
			if best == nil || d.ID < best.ID {
				best = d
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *memDocRepo) FindByNameSize(ctx context.Context, userID int64, filename string, size int64) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Document
	for _, d := range r.docs {
		if d.OwnerUserID == userID && !d.IsDeleted &&
			strings.EqualFold(d.Filename, filename) && d.SizeBytes == size {
			if best == nil || d.ID < best.ID {
				best = d
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *memDocRepo) AddVersion(ctx context.Context, v *models.DocumentVersion) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[v.DocumentID]
	if !ok {
		return 0, fmt.Errorf("%w: document %d", common.ErrorNotFound, v.DocumentID)
	}
	max := 0
	for _, existing := range r.versions[v.DocumentID] {
		if existing.VersionNumber > max {
			max = existing.VersionNumber
		}
	}
	v.VersionNumber = max + 1
	v.CreatedAt = time.Now().UTC()
	cp := *v
	r.versions[v.DocumentID] = append(r.versions[v.DocumentID], &cp)

	d.StoragePath = v.StoragePath
	d.SizeBytes = v.SizeBytes
	d.IntegrityTag = v.IntegrityTag
	d.MimeType = v.MimeType
	return v.VersionNumber, nil
}

func (r *memDocRepo) ListVersions(ctx context.Context, userID, docID int64) ([]*models.DocumentVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.get(userID, docID); !ok {
		return nil, fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	vs := append([]*models.DocumentVersion(nil), r.versions[docID]...)
	sort.Slice(vs, func(i, j int) bool { return vs[i].VersionNumber > vs[j].VersionNumber })
	return vs, nil
}

func (r *memDocRepo) GetVersion(ctx context.Context, userID, docID int64, versionNumber int) (*models.DocumentVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.get(userID, docID); !ok {
		return nil, fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	for _, v := range r.versions[docID] {
		if v.VersionNumber == versionNumber {
			cp := *v
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: version %d of document %d", common.ErrorNotFound, versionNumber, docID)
}

func (r *memDocRepo) AssignCategories(ctx context.Context, docID int64, categoryIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[docID] = append([]int64(nil), categoryIDs...)
	return nil
}

func (r *memDocRepo) CountActive(ctx context.Context, userID int64) (int64, error) {
	docs, _ := r.ListActive(ctx, userID)
	return int64(len(docs)), nil
}

func (r *memDocRepo) StorageUsed(ctx context.Context, userID int64) (int64, error) {
	docs, _ := r.ListActive(ctx, userID)
	var sum int64
	for _, d := range docs {
		sum += d.SizeBytes
	}
	return sum, nil
}

func (r *memDocRepo) CountCreatedSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	docs, _ := r.ListActive(ctx, userID)
	var n int64
	for _, d := range docs {
		if !d.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memDocRepo) RecentUploads(ctx context.Context, userID int64, limit int) ([]*models.Document, error) {
	docs, _ := r.ListActive(ctx, userID)
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// ---- in-memory categories repository ----

type memCatRepo struct {
	mu     sync.Mutex
	nextID int64
	cats   map[int64]*models.Category
}

func newMemCatRepo() *memCatRepo {
	return &memCatRepo{cats: map[int64]*models.Category{}}
}

func (r *memCatRepo) Create(ctx context.Context, c *models.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	cp := *c
	r.cats[c.ID] = &cp
	return nil
}

func (r *memCatRepo) ListForUser(ctx context.Context, userID int64) ([]*models.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Category
	for _, c := range r.cats {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memCatRepo) GetForUser(ctx context.Context, userID, catID int64) (*models.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cats[catID]
	if !ok || c.UserID != userID {
		return nil, fmt.Errorf("%w: category %d", common.ErrorNotFound, catID)
	}
	cp := *c
	return &cp, nil
}

func (r *memCatRepo) UpdateKeywords(ctx context.Context, userID, catID int64, keywords string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cats[catID]
	if !ok || c.UserID != userID {
		return fmt.Errorf("%w: category %d", common.ErrorNotFound, catID)
	}
	c.Keywords = keywords
	return nil
}

func (r *memCatRepo) Rename(ctx context.Context, userID, catID int64, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cats[catID]
	if !ok || c.UserID != userID {
		return fmt.Errorf("%w: category %d", common.ErrorNotFound, catID)
	}
	c.Name = name
	return nil
}

func (r *memCatRepo) Delete(ctx context.Context, userID, catID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cats[catID]
	if !ok || c.UserID != userID {
		return fmt.Errorf("%w: category %d", common.ErrorNotFound, catID)
	}
	delete(r.cats, catID)
	return nil
}

// ---- in-memory pending uploads repository ----

type memPendingRepo struct {
	mu      sync.Mutex
	nextID  int64
	pending map[string]*models.PendingUpload
}

func newMemPendingRepo() *memPendingRepo {
	return &memPendingRepo{pending: map[string]*models.PendingUpload{}}
}

func (r *memPendingRepo) Create(ctx context.Context, p *models.PendingUpload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	p.CreatedAt = time.Now().UTC()
	cp := *p
	r.pending[p.Token] = &cp
	return nil
}

func (r *memPendingRepo) GetByToken(ctx context.Context, userID int64, token string, purpose models.UploadPurpose) (*models.PendingUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[token]
	if !ok || p.OwnerUserID != userID || (purpose != "" && p.Purpose != purpose) {
		return nil, fmt.Errorf("%w: pending upload %s", common.ErrorNotFound, token)
	}
	cp := *p
	return &cp, nil
}

func (r *memPendingRepo) Delete(ctx context.Context, userID int64, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[token]
	if !ok || p.OwnerUserID != userID {
		return fmt.Errorf("%w: pending upload %s", common.ErrorNotFound, token)
	}
	delete(r.pending, token)
	return nil
}

// ---- repository manager over the fakes ----

type memManager struct {
	docs *memDocRepo
	cats *memCatRepo
	pend *memPendingRepo
}

func newMemManager() *memManager {
	return &memManager{docs: newMemDocRepo(), cats: newMemCatRepo(), pend: newMemPendingRepo()}
}

func (m *memManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *memManager) Documents(db dbx.DBTX) documents.Repository          { return m.docs }
func (m *memManager) Categories(db dbx.DBTX) categories.Repository       { return m.cats }
func (m *memManager) PendingUploads(db dbx.DBTX) pendinguploads.Repository {
	return m.pend
}

// ---- fixture ----

type fixture struct {
	svc   *DocumentService
	mgr   *memManager
	store *memStore
	env   *cryptox.Envelope
	mock  sqlmock.Sqlmock
	db    *sql.DB
	cfg   *sc.Config

	enriched []int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env, err := cryptox.New("unit-test-master-secret")
	if err != nil {
		t.Fatalf("cryptox.New error: %v", err)
	}

	cfg := &sc.Config{}
	cfg.LoadDefaults()

	f := &fixture{
		mgr:   newMemManager(),
		store: newMemStore(),
		env:   env,
		mock:  mock,
		db:    db,
		cfg:   cfg,
	}
	f.svc = NewDocumentService(db, f.mgr, cfg, f.store, env, testLogger()).
		WithEnricher(func(userID, docID int64) { f.enriched = append(f.enriched, docID) })
	return f
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// expectTx queues one begin/commit pair on the mock connection.
func (f *fixture) expectTx() {
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
}

// upload is a shorthand committing a document without duplicate staging.
func (f *fixture) upload(t *testing.T, userID int64, name string, data []byte) *models.Document {
	t.Helper()
	f.expectTx()
	out, err := f.svc.Upload(context.Background(), userID, &UploadInput{
		Filename: name,
		Data:     data,
		Bypass:   true,
	})
	if err != nil {
		t.Fatalf("upload error: %v", err)
	}
	if out.Document == nil {
		t.Fatal("expected committed document")
	}
	return out.Document
}
