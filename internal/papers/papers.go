// Package papers fetches white papers referenced in research results and
// extracts their plain text. A paper URL may point directly at a PDF or
// at an HTML landing page that links to one.
package papers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// maxDownload caps how much of a remote document is read.
const maxDownload = 10 << 20 // 10 MiB

// ErrNoPDF means the landing page held no link to a PDF document.
var ErrNoPDF = errors.New("no pdf link found")

// Fetch downloads the document at rawURL and returns its plain text. HTML
// responses are scanned for the first PDF link, which is then fetched and
// extracted instead.
func Fetch(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	body, contentType, err := download(ctx, client, rawURL)
	if err != nil {
		return "", err
	}

	if isPDF(contentType, body) {
		return extractText(body)
	}

	pdfURL, err := findPDFLink(bytes.NewReader(body), rawURL)
	if err != nil {
		return "", err
	}

	body, contentType, err = download(ctx, client, pdfURL)
	if err != nil {
		return "", err
	}
	if !isPDF(contentType, body) {
		return "", fmt.Errorf("linked document %s is not a pdf", pdfURL)
	}
	return extractText(body)
}

func download(ctx context.Context, client *http.Client, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", rawURL, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func isPDF(contentType string, body []byte) bool {
	if strings.Contains(contentType, "application/pdf") {
		return true
	}
	return bytes.HasPrefix(body, []byte("%PDF-"))
}

// findPDFLink parses the page and returns the first anchor pointing at a
// .pdf document, resolved against the page URL.
func findPDFLink(r io.Reader, pageURL string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parsing page url: %w", err)
	}

	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing page: %w", err)
	}

	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(attr.Val)
				if err != nil {
					continue
				}
				resolved := base.ResolveReference(ref)
				if strings.HasSuffix(strings.ToLower(resolved.Path), ".pdf") {
					found = resolved.String()
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if found == "" {
		return "", ErrNoPDF
	}
	return found, nil
}

func extractText(body []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return sb.String(), nil
}
