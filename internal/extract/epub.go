package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// EPUB is a zip container: META-INF/container.xml names the OPF package
// document, whose spine orders the content documents.

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

// extractEPUB walks the spine in order and emits each content document's
// visible text, with paragraph breaks between items.
func (e *Extractor) extractEPUB(filePath string) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", fmt.Errorf("open EPUB container: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	opfPath, err := findOPF(files)
	if err != nil {
		return "", err
	}

	var pkg epubPackage
	if err := readXML(files, opfPath, &pkg); err != nil {
		return "", fmt.Errorf("read package document: %w", err)
	}

	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, item := range pkg.Manifest {
		if strings.Contains(item.MediaType, "html") || strings.Contains(item.MediaType, "xml") {
			hrefs[item.ID] = item.Href
		}
	}

	opfDir := path.Dir(opfPath)
	var parts []string
	for _, ref := range pkg.Spine {
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		name := path.Clean(path.Join(opfDir, href))
		f, ok := files[name]
		if !ok {
			continue
		}

		text, err := contentDocumentText(f)
		if err != nil {
			return "", fmt.Errorf("read content document %s: %w", name, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("EPUB contains no readable content documents")
	}
	return strings.Join(parts, "\n\n"), nil
}

func findOPF(files map[string]*zip.File) (string, error) {
	var container epubContainer
	if err := readXML(files, "META-INF/container.xml", &container); err != nil {
		return "", fmt.Errorf("read container.xml: %w", err)
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return "", fmt.Errorf("container.xml names no rootfile")
	}
	return container.Rootfiles[0].FullPath, nil
}

func readXML(files map[string]*zip.File, name string, out any) error {
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("missing %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(out)
}

// contentDocumentText extracts visible text from an XHTML document,
// dropping style and script subtrees and breaking paragraphs on block
// elements.
func contentDocumentText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	doc, err := html.Parse(rc)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	walkHTML(doc, &b)
	return collapseBlankLines(b.String()), nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "li": true, "blockquote": true,
	"section": true, "article": true, "tr": true,
}

func walkHTML(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && (n.Data == "style" || n.Data == "script" || n.Data == "head") {
		return
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, b)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		b.WriteString("\n\n")
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.Join(out, "\n")
}
