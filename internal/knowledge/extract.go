package knowledge

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Extractor turns the raw bytes of an uploaded file into plain text.
type Extractor interface {
	Extract(data []byte) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(data []byte) (string, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(data []byte) (string, error) { return f(data) }

// Extractors maps a lower-case file extension to its extractor.
var Extractors = map[string]Extractor{
	".txt":  ExtractorFunc(PlainText),
	".md":   ExtractorFunc(PlainText),
	".html": ExtractorFunc(HTMLText),
	".htm":  ExtractorFunc(HTMLText),
	".docx": ExtractorFunc(DOCXText),
	".pdf":  ExtractorFunc(PDFText),
}

// Allowed reports whether ext has a registered extractor.
func Allowed(ext string) bool {
	_, ok := Extractors[strings.ToLower(ext)]
	return ok
}

// Extract runs the extractor registered for ext.
func Extract(ext string, data []byte) (string, error) {
	e, ok := Extractors[strings.ToLower(ext)]
	if !ok {
		return "", fmt.Errorf("knowledge: no extractor for %q", ext)
	}
	return e.Extract(data)
}

// PlainText decodes UTF-8 text, dropping a leading byte-order mark.
func PlainText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	return string(data), nil
}

var htmlBlocks = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "header": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true, "table": true, "tr": true, "blockquote": true, "pre": true,
}

// HTMLText returns the visible body text of an HTML document. Block
// elements become paragraphs; script and style content is dropped.
func HTMLText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	var b strings.Builder
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, node *goquery.Selection) {
			switch name := goquery.NodeName(node); {
			case name == "#text":
				writeInline(&b, node.Text())
			case name == "br":
				b.WriteString("\n")
			case htmlBlocks[name]:
				b.WriteString("\n\n")
				walk(node)
				b.WriteString("\n\n")
			default:
				walk(node)
			}
		})
	}
	walk(doc.Find("body"))

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n"), nil
}

// writeInline collapses whitespace inside a text node while keeping a single
// separating space at either edge.
func writeInline(b *strings.Builder, text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		if text != "" {
			b.WriteString(" ")
		}
		return
	}
	if strings.TrimLeft(text, " \t\r\n") != text {
		b.WriteString(" ")
	}
	b.WriteString(strings.Join(fields, " "))
	if strings.TrimRight(text, " \t\r\n") != text {
		b.WriteString(" ")
	}
}

// DOCXText reads the paragraphs of word/document.xml, one line per w:p.
func DOCXText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("docx: word/document.xml not found")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("docx: open document: %w", err)
	}
	defer rc.Close()

	var paragraphs []string
	var para strings.Builder
	inText := false
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx: decode: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				paragraphs = append(paragraphs, para.String())
				para.Reset()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	if para.Len() > 0 {
		paragraphs = append(paragraphs, para.String())
	}
	return strings.Join(paragraphs, "\n"), nil
}

var (
	manyNewlines = regexp.MustCompile(`\n{3,}`)
	manyBlanks   = regexp.MustCompile(`[\t ]{2,}`)
)

// Normalize canonicalizes line endings, squeezes blank lines to one and
// runs of spaces or tabs to a single space, and trims the result.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	text = manyBlanks.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
