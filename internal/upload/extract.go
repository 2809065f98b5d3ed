package upload

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MaxSize bounds an uploaded résumé.
const MaxSize = 10 << 20

// Supported content types.
const (
	TypePDF  = "application/pdf"
	TypeText = "text/plain"
	TypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// docxBody is the part of a DOCX package holding the document text.
const docxBody = "word/document.xml"

var (
	// ErrUnsupportedType is returned for anything other than PDF, DOCX or plain text.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrTooLarge is returned when the upload exceeds MaxSize.
	ErrTooLarge = errors.New("file too large")
	// ErrNoText is returned when a readable file holds no text.
	ErrNoText = errors.New("could not extract text from file")
)

// DetectType picks the content type from the declared header, then the filename, then the bytes.
func DetectType(declared, filename string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		switch mt {
		case TypePDF, TypeText, TypeDOCX:
			return mt
		}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return TypePDF
	case ".docx":
		return TypeDOCX
	case ".txt", ".md":
		return TypeText
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

// ExtractText returns the plain text of a PDF, DOCX or text document.
func ExtractText(contentType string, data []byte) (string, error) {
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}

	var (
		text string
		err  error
	)
	switch contentType {
	case TypePDF:
		text, err = pdfText(data)
	case TypeDOCX:
		text, err = docxText(data)
	case TypeText:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: text is not valid utf-8", ErrUnsupportedType)
		}
		text = string(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract plain text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", fmt.Errorf("read text buffer: %w", err)
	}
	return buf.String(), nil
}

// docxText reads word/document.xml and keeps the run text, one line per paragraph.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("open docx: %s not found", docxBody)
	}
	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", docxBody, err)
	}
	defer rc.Close()

	var (
		buf    strings.Builder
		inText bool
	)
	dec := xml.NewDecoder(io.LimitReader(rc, MaxSize*4))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", docxBody, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				buf.WriteByte('\t')
			case "br", "cr":
				buf.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				buf.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}
	return strings.TrimSpace(buf.String()), nil
}
