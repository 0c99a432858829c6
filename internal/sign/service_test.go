package sign

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"
	"time"

	"github.com/Mapl92/paperless-alternative-sub001/internal/pdfops"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/storage"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/store"
)

type fakeStamper struct {
	calls int
	page  int
	rect  pdfops.Rect
	width int
}

func (f *fakeStamper) StampImage(_, outPath, _ string, page int, rect pdfops.Rect, imagePixelWidth int) error {
	f.calls++
	f.page = page
	f.rect = rect
	f.width = imagePixelWidth
	return os.WriteFile(outPath, []byte("signed-pdf"), 0o600)
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestCreateSignatureRecordsPixelDimensions(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	svc := NewService(st, objects, &fakeStamper{}, nil)

	sig, err := svc.CreateSignature(context.Background(), "john", testPNG(t, 40, 20))
	if err != nil {
		t.Fatalf("create signature: %v", err)
	}
	if sig.PixelWidth != 40 || sig.PixelHeight != 20 {
		t.Fatalf("dimensions: got %dx%d, want 40x20", sig.PixelWidth, sig.PixelHeight)
	}
	if !objects.Has(sig.ImageKey) {
		t.Fatal("signature image not stored")
	}

	if _, err := svc.CreateSignature(context.Background(), "bad", []byte("not an image")); !domain.IsValidation(err) {
		t.Fatalf("invalid image: got %v, want validation error", err)
	}
	if _, err := svc.CreateSignature(context.Background(), "", testPNG(t, 1, 1)); !domain.IsValidation(err) {
		t.Fatalf("empty name: got %v, want validation error", err)
	}
}

func TestTokenIsSingleUse(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, storage.NewMemoryStore(), &fakeStamper{}, nil)

	token, err := svc.CreateToken(time.Hour)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	sig, err := svc.RedeemToken(context.Background(), token.Token, "jane", testPNG(t, 10, 10))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if _, err := svc.RedeemToken(context.Background(), token.Token, "jane", testPNG(t, 10, 10)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("replay: got %v, want ErrConflict", err)
	}

	stored, ok, _ := st.GetSigningToken(token.Token)
	if !ok || stored.UsedAt == nil || stored.SignatureID == nil || *stored.SignatureID != sig.ID {
		t.Fatalf("token not bound to signature: %+v", stored)
	}
}

func TestExpiredTokenConflicts(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, storage.NewMemoryStore(), &fakeStamper{}, nil)

	token, err := svc.CreateToken(time.Minute)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, err := svc.RedeemToken(context.Background(), token.Token, "late", testPNG(t, 10, 10)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expired token: got %v, want ErrConflict", err)
	}
}

func TestUnknownTokenNotFound(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), storage.NewMemoryStore(), &fakeStamper{}, nil)
	if _, err := svc.RedeemToken(context.Background(), "nope", "x", testPNG(t, 1, 1)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSignPublishesNewArchiveVersion(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	stamper := &fakeStamper{}
	svc := NewService(st, objects, stamper, nil)

	if err := objects.Put(context.Background(), "originals/doc-1.pdf", []byte("%PDF-orig"), "application/pdf"); err != nil {
		t.Fatalf("seed original: %v", err)
	}
	if err := st.CreateDocument(domain.Document{ID: "doc-1", Title: "contract", OriginalKey: "originals/doc-1.pdf"}); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	sig, err := svc.CreateSignature(context.Background(), "john", testPNG(t, 40, 20))
	if err != nil {
		t.Fatalf("create signature: %v", err)
	}

	rect := pdfops.Rect{X: 0.1, Y: 0.8, Width: 0.3, Height: 0.1}
	doc, err := svc.Sign(context.Background(), "doc-1", sig.ID, 2, rect)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if doc.ArchiveKey == "" || !objects.Has(doc.ArchiveKey) {
		t.Fatalf("signed archive not stored: %q", doc.ArchiveKey)
	}
	if !objects.Has("originals/doc-1.pdf") {
		t.Fatal("original must survive signing")
	}
	if stamper.page != 2 || stamper.rect != rect || stamper.width != 40 {
		t.Fatalf("stamper input: page=%d rect=%+v width=%d", stamper.page, stamper.rect, stamper.width)
	}

	// second signature replaces the archive version and drops the old one
	firstArchive := doc.ArchiveKey
	doc2, err := svc.Sign(context.Background(), "doc-1", sig.ID, 1, rect)
	if err != nil {
		t.Fatalf("second sign: %v", err)
	}
	if doc2.ArchiveKey == firstArchive {
		t.Fatal("second signing must produce a new archive key")
	}
	if objects.Has(firstArchive) {
		t.Fatal("stale archive version not cleaned up")
	}
}

type fakePages struct{ count int }

func (f fakePages) PageCount(string) (int, error) { return f.count, nil }

func TestSignRejectsPageBeyondDocument(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	svc := NewService(st, objects, &fakeStamper{}, fakePages{count: 1})

	if err := objects.Put(context.Background(), "originals/doc-1.pdf", []byte("%PDF-orig"), "application/pdf"); err != nil {
		t.Fatalf("seed original: %v", err)
	}
	if err := st.CreateDocument(domain.Document{ID: "doc-1", Title: "contract", OriginalKey: "originals/doc-1.pdf"}); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	sig, err := svc.CreateSignature(context.Background(), "john", testPNG(t, 10, 10))
	if err != nil {
		t.Fatalf("create signature: %v", err)
	}

	rect := pdfops.Rect{X: 0.1, Y: 0.8, Width: 0.3, Height: 0.1}
	if _, err := svc.Sign(context.Background(), "doc-1", sig.ID, 3, rect); !domain.IsValidation(err) {
		t.Fatalf("page beyond document: got %v, want validation error", err)
	}
	if _, err := svc.Sign(context.Background(), "doc-1", sig.ID, 1, rect); err != nil {
		t.Fatalf("page within document must sign: %v", err)
	}
}

func TestSignValidation(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), storage.NewMemoryStore(), &fakeStamper{}, nil)

	if _, err := svc.Sign(context.Background(), "d", "s", 0, pdfops.Rect{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.1}); !domain.IsValidation(err) {
		t.Fatalf("page 0: got %v, want validation error", err)
	}
	if _, err := svc.Sign(context.Background(), "d", "s", 1, pdfops.Rect{X: 0.9, Y: 0.9, Width: 0.5, Height: 0.5}); !domain.IsValidation(err) {
		t.Fatalf("overflowing rect: got %v, want validation error", err)
	}
	if _, err := svc.Sign(context.Background(), "d", "s", 1, pdfops.Rect{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.1}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing document: got %v, want ErrNotFound", err)
	}
}
