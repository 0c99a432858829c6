package sign

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "image/png"

	"github.com/Mapl92/paperless-alternative-sub001/internal/pdfops"
	"github.com/Mapl92/paperless-alternative-sub001/internal/util"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/storage"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/store"
)

// DefaultTokenTTL bounds how long a signing link stays redeemable.
const DefaultTokenTTL = 24 * time.Hour

// Stamper composites an image onto a PDF page.
type Stamper interface {
	StampImage(pdfPath, outPath, imagePath string, page int, rect pdfops.Rect, imagePixelWidth int) error
}

// PageCounter reports how many pages a PDF has.
type PageCounter interface {
	PageCount(pdfPath string) (int, error)
}

// Service manages signature images, one-time signing tokens and the PDF
// signing operation itself. Signing never touches the original object; it
// derives a new archive version from the current archive (or the original
// when none exists yet).
type Service struct {
	store   store.Store
	objects storage.ObjectStore
	stamper Stamper
	pages   PageCounter
	now     func() time.Time
}

// NewService builds the signing service. pages may be nil; Sign then relies
// on the stamper's own page bounds check.
func NewService(st store.Store, objects storage.ObjectStore, stamper Stamper, pages PageCounter) *Service {
	return &Service{store: st, objects: objects, stamper: stamper, pages: pages, now: time.Now}
}

// CreateSignature stores a PNG signature image and records its natural pixel
// dimensions for later scaling.
func (s *Service) CreateSignature(ctx context.Context, name string, imagePNG []byte) (domain.Signature, error) {
	if name == "" {
		return domain.Signature{}, domain.Validationf("signature name is required")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(imagePNG))
	if err != nil {
		return domain.Signature{}, domain.Validationf("signature image is not decodable: %v", err)
	}
	if format != "png" {
		return domain.Signature{}, domain.Validationf("signature image must be png, got %s", format)
	}
	sig := domain.Signature{
		ID:          util.NewID(),
		Name:        name,
		PixelWidth:  cfg.Width,
		PixelHeight: cfg.Height,
		CreatedAt:   s.now().UTC(),
	}
	sig.ImageKey = "signatures/" + sig.ID + ".png"
	if err := s.objects.Put(ctx, sig.ImageKey, imagePNG, "image/png"); err != nil {
		return domain.Signature{}, fmt.Errorf("store signature image: %w", err)
	}
	if err := s.store.SaveSignature(sig); err != nil {
		return domain.Signature{}, fmt.Errorf("save signature: %w", err)
	}
	return sig, nil
}

// DeleteSignature removes a signature and its stored image.
func (s *Service) DeleteSignature(ctx context.Context, id string) error {
	sig, ok, err := s.store.GetSignature(id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	if err := s.store.DeleteSignature(id); err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, sig.ImageKey); err != nil {
		slog.Warn("signature image cleanup failed", "signatureId", id, "err", err)
	}
	return nil
}

// CreateToken issues a one-time signing token.
func (s *Service) CreateToken(ttl time.Duration) (domain.SigningToken, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := s.now().UTC()
	token := domain.SigningToken{
		Token:     util.NewToken(),
		Expiry:    now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.store.CreateSigningToken(token); err != nil {
		return domain.SigningToken{}, fmt.Errorf("create signing token: %w", err)
	}
	return token, nil
}

// RedeemToken consumes a signing token by submitting a signature image. The
// token is burned exactly once; replay and expired tokens conflict.
func (s *Service) RedeemToken(ctx context.Context, token, name string, imagePNG []byte) (domain.Signature, error) {
	existing, ok, err := s.store.GetSigningToken(token)
	if err != nil {
		return domain.Signature{}, err
	}
	if !ok {
		return domain.Signature{}, domain.ErrNotFound
	}
	if existing.UsedAt != nil || s.now().UTC().After(existing.Expiry) {
		return domain.Signature{}, domain.ErrConflict
	}
	sig, err := s.CreateSignature(ctx, name, imagePNG)
	if err != nil {
		return domain.Signature{}, err
	}
	if _, err := s.store.ConsumeSigningToken(token, sig.ID, s.now().UTC()); err != nil {
		// lost the race; drop the orphaned signature
		if derr := s.store.DeleteSignature(sig.ID); derr != nil && !errors.Is(derr, domain.ErrNotFound) {
			slog.Warn("orphaned signature cleanup failed", "signatureId", sig.ID, "err", derr)
		}
		return domain.Signature{}, err
	}
	return sig, nil
}

// Sign stamps a stored signature onto one page of a document and publishes
// the result as the document's new archive version. The original object is
// never modified.
func (s *Service) Sign(ctx context.Context, documentID, signatureID string, page int, rect pdfops.Rect) (domain.Document, error) {
	if page < 1 {
		return domain.Document{}, domain.Validationf("page must be >= 1, got %d", page)
	}
	if !rect.Valid() {
		return domain.Document{}, domain.Validationf("placement rectangle out of page bounds")
	}
	doc, ok, err := s.store.GetDocument(documentID)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, domain.ErrNotFound
	}
	sig, ok, err := s.store.GetSignature(signatureID)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, domain.ErrNotFound
	}

	sourceKey := doc.ArchiveKey
	if sourceKey == "" {
		sourceKey = doc.OriginalKey
	}
	pdfData, err := s.objects.Get(ctx, sourceKey)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document pdf: %w", err)
	}
	imageData, err := s.objects.Get(ctx, sig.ImageKey)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load signature image: %w", err)
	}

	dir, err := os.MkdirTemp("", "sign-*")
	if err != nil {
		return domain.Document{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in.pdf")
	outPath := filepath.Join(dir, "out.pdf")
	imagePath := filepath.Join(dir, "signature.png")
	if err := os.WriteFile(inPath, pdfData, 0o600); err != nil {
		return domain.Document{}, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := os.WriteFile(imagePath, imageData, 0o600); err != nil {
		return domain.Document{}, fmt.Errorf("write temp image: %w", err)
	}
	if s.pages != nil {
		if count, err := s.pages.PageCount(inPath); err == nil && page > count {
			return domain.Document{}, domain.Validationf("page %d out of range, document has %d pages", page, count)
		}
	}
	if err := s.stamper.StampImage(inPath, outPath, imagePath, page, rect, sig.PixelWidth); err != nil {
		return domain.Document{}, fmt.Errorf("stamp signature: %w", err)
	}
	signed, err := os.ReadFile(outPath)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read signed pdf: %w", err)
	}

	newKey := "archives/" + documentID + "-" + util.NewID() + ".pdf"
	if err := s.objects.Put(ctx, newKey, signed, "application/pdf"); err != nil {
		return domain.Document{}, fmt.Errorf("store signed pdf: %w", err)
	}
	if err := s.store.UpdateDocument(documentID, domain.DocumentPatch{ArchiveKey: domain.Set(newKey)}); err != nil {
		return domain.Document{}, fmt.Errorf("publish archive version: %w", err)
	}
	if doc.ArchiveKey != "" {
		if err := s.objects.Delete(ctx, doc.ArchiveKey); err != nil {
			slog.Warn("stale archive cleanup failed", "documentId", documentID, "key", doc.ArchiveKey, "err", err)
		}
	}
	doc.ArchiveKey = newKey
	slog.Info("document signed", "documentId", documentID, "signatureId", signatureID, "page", page)
	return doc, nil
}
