package upload

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDetectType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		declared string
		filename string
		data     []byte
		want     string
	}{
		{name: "declared pdf", declared: "application/pdf", filename: "cv.bin", want: TypePDF},
		{name: "declared text with charset", declared: "text/plain; charset=utf-8", want: TypeText},
		{name: "extension", declared: "application/octet-stream", filename: "CV.PDF", want: TypePDF},
		{name: "sniffed pdf", data: []byte("%PDF-1.7\n"), want: TypePDF},
		{name: "declared docx", declared: TypeDOCX, filename: "cv.bin", data: []byte("PK\x03\x04"), want: TypeDOCX},
		{name: "docx extension", declared: "application/octet-stream", filename: "CV.docx", data: []byte("PK\x03\x04"), want: TypeDOCX},
		{name: "bare zip stays unknown", data: []byte("PK\x03\x04"), want: "application/zip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectType(tt.declared, tt.filename, tt.data); got != tt.want {
				t.Fatalf("DetectType = %q, want %q", got, tt.want)
			}
		})
	}
}

func buildDOCX(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

const sampleDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Ada Lovelace</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Analyst </w:t></w:r><w:r><w:t>&amp; Programmer</w:t></w:r><w:r><w:tab/><w:t>London</w:t></w:r></w:p>
</w:body></w:document>`

func TestExtractText(t *testing.T) {
	t.Parallel()

	t.Run("plain text", func(t *testing.T) {
		t.Parallel()
		text, err := ExtractText(TypeText, []byte("Ada Lovelace\nProgrammer"))
		if err != nil || !strings.Contains(text, "Programmer") {
			t.Fatalf("ExtractText = %q, %v", text, err)
		}
	})

	t.Run("blank text", func(t *testing.T) {
		t.Parallel()
		if _, err := ExtractText(TypeText, []byte(" \n\t")); !errors.Is(err, ErrNoText) {
			t.Fatalf("expected ErrNoText, got %v", err)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		t.Parallel()
		if _, err := ExtractText("application/zip", []byte("PK")); !errors.Is(err, ErrUnsupportedType) {
			t.Fatalf("expected ErrUnsupportedType, got %v", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		if _, err := ExtractText(TypeText, make([]byte, MaxSize+1)); !errors.Is(err, ErrTooLarge) {
			t.Fatalf("expected ErrTooLarge, got %v", err)
		}
	})

	t.Run("docx", func(t *testing.T) {
		t.Parallel()
		data := buildDOCX(t, map[string]string{docxBody: sampleDocumentXML, "[Content_Types].xml": "<Types/>"})
		text, err := ExtractText(TypeDOCX, data)
		if err != nil {
			t.Fatalf("ExtractText: %v", err)
		}
		if want := "Ada Lovelace\nAnalyst & Programmer\tLondon"; text != want {
			t.Fatalf("ExtractText = %q, want %q", text, want)
		}
	})

	t.Run("docx without body", func(t *testing.T) {
		t.Parallel()
		data := buildDOCX(t, map[string]string{"word/styles.xml": "<w:styles/>"})
		if _, err := ExtractText(TypeDOCX, data); err == nil || !strings.Contains(err.Error(), docxBody) {
			t.Fatalf("expected missing body error, got %v", err)
		}
	})

	t.Run("docx with no text", func(t *testing.T) {
		t.Parallel()
		data := buildDOCX(t, map[string]string{docxBody: `<w:document xmlns:w="x"><w:body><w:p/></w:body></w:document>`})
		if _, err := ExtractText(TypeDOCX, data); !errors.Is(err, ErrNoText) {
			t.Fatalf("expected ErrNoText, got %v", err)
		}
	})

	t.Run("corrupt pdf", func(t *testing.T) {
		t.Parallel()
		if _, err := ExtractText(TypePDF, []byte("%PDF-1.4 not really")); err == nil {
			t.Fatalf("expected an error for a corrupt pdf")
		}
	})
}
