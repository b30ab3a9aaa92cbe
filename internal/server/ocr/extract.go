package ocr

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"strings"

	"code.sajari.com/docconv"
	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"

	"github.com/dmitrijs2005/docvault/internal/filex"
)

var imageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".bmp": {}, ".tif": {}, ".tiff": {},
}

var plainExts = map[string]struct{}{
	".txt": {}, ".md": {}, ".csv": {}, ".log": {},
}

// Extractor dispatches a staged plaintext file to a format-specific text
// extractor based on the extension of the original filename (never the
// storage token). Unknown formats yield an empty string, not an error:
// extraction is best-effort and never upload-blocking.
type Extractor struct {
	// Languages is the OCR language hint, e.g. ["deu", "eng"].
	Languages []string
	// DPI is the render resolution for scanned PDF pages.
	DPI float64
	// MaxPages caps how many PDF pages are read; beyond it, extraction
	// returns what it has gathered so far. 0 means no cap.
	MaxPages int
}

// NewExtractor parses a "deu+eng" style language hint.
func NewExtractor(langHint string, dpi, maxPages int) *Extractor {
	langs := strings.Split(langHint, "+")
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		out = []string{"eng"}
	}
	return &Extractor{Languages: out, DPI: float64(dpi), MaxPages: maxPages}
}

// ExtractFile derives raw text from the staged file at path. originalName
// selects the strategy; callers normalize the result.
func (e *Extractor) ExtractFile(path, originalName string) (string, error) {
	ext := filex.LowerExt(originalName)

	switch {
	case ext == ".pdf":
		return e.extractPDF(path)
	case ext == ".docx":
		return extractDocx(path)
	default:
		if _, ok := imageExts[ext]; ok {
			return e.ocrImageFile(path)
		}
		if _, ok := plainExts[ext]; ok {
			return readPlain(path)
		}
		return "", nil
	}
}

// extractPDF prefers the native text layer; when the document has none
// (scanned pages), it renders each page and runs optical recognition.
func (e *Extractor) extractPDF(path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if e.MaxPages > 0 && pages > e.MaxPages {
		pages = e.MaxPages
	}

	var parts []string
	for i := 0; i < pages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			continue
		}
		if t := strings.TrimSpace(text); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n"), nil
	}

	return e.ocrPDFPages(doc, pages)
}

func (e *Extractor) ocrPDFPages(doc *fitz.Document, pages int) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(e.Languages...); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}

	var parts []string
	for i := 0; i < pages; i++ {
		img, err := doc.ImageDPI(i, e.DPI)
		if err != nil {
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			continue
		}
		if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
			continue
		}
		text, err := client.Text()
		if err != nil {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n"), nil
}

func (e *Extractor) ocrImageFile(path string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(e.Languages...); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetImage(path); err != nil {
		return "", fmt.Errorf("set ocr image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr image: %w", err)
	}
	return text, nil
}

// extractDocx reads paragraphs and table cells in document order.
func extractDocx(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer f.Close()

	text, _, err := docconv.ConvertDocx(f)
	if err != nil {
		return "", fmt.Errorf("convert docx: %w", err)
	}
	return text, nil
}

// readPlain reads text formats directly with lossy decoding: invalid bytes
// are dropped rather than failing the extraction.
func readPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read plain text: %w", err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
