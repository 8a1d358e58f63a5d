package extract

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/layout"
)

func testExtractor(t *testing.T) (*Extractor, layout.Paths) {
	t.Helper()
	root := t.TempDir()
	paths := layout.Paths{
		TextData: filepath.Join(root, "text"),
		WavData:  filepath.Join(root, "wav"),
		OggData:  filepath.Join(root, "ogg"),
	}
	if err := paths.EnsureRoots(); err != nil {
		t.Fatal(err)
	}
	return New(paths, nil), paths
}

func writeUpload(t *testing.T, paths layout.Paths, name string, data []byte) string {
	t.Helper()
	dir := paths.UploadDir("book-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractTXTPlainUTF8(t *testing.T) {
	e, paths := testExtractor(t)
	src := writeUpload(t, paths, "book.txt", []byte("Hello world.\nSecond line."))

	if err := e.Extract(context.Background(), "book-1", src); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	out, err := os.ReadFile(paths.ExtractedText("book-1"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(out), "Hello world.") {
		t.Errorf("artifact = %q", out)
	}
}

func TestExtractTXTWithBOM(t *testing.T) {
	e, paths := testExtractor(t)

	// UTF-16 LE with BOM.
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	encoded, err := enc.Bytes([]byte("Voilà un livre."))
	if err != nil {
		t.Fatal(err)
	}
	src := writeUpload(t, paths, "book.txt", encoded)

	if err := e.Extract(context.Background(), "book-1", src); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	out, _ := os.ReadFile(paths.ExtractedText("book-1"))
	if string(out) != "Voilà un livre." {
		t.Errorf("artifact = %q", out)
	}
}

func TestExtractTXTLatin1(t *testing.T) {
	// Statistical detection path: Latin-1 text without BOM.
	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte("Un café très fort. " + strings.Repeat("Le livre était déjà là. ", 20)))
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := decodeText(encoded)
	if err != nil {
		t.Fatalf("decodeText() error = %v", err)
	}
	if !strings.Contains(decoded, "café") && !strings.Contains(decoded, "était") {
		t.Errorf("accents lost: %q", decoded[:40])
	}
}

func TestExtractMissingFile(t *testing.T) {
	e, _ := testExtractor(t)
	err := e.Extract(context.Background(), "book-1", "/nonexistent/book.txt")
	if err == nil {
		t.Fatal("expected error for missing source file")
	}
}

func TestExtractUnsupportedExtension(t *testing.T) {
	e, paths := testExtractor(t)
	src := writeUpload(t, paths, "book.mobi", []byte("data"))
	if err := e.Extract(context.Background(), "book-1", src); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func writeTestEPUB(t *testing.T, paths layout.Paths) string {
	t.Helper()
	var names = map[string]string{
		"META-INF/container.xml": `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`,
		"OEBPS/content.opf": `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
  </manifest>
  <spine><itemref idref="ch1"/><itemref idref="ch2"/></spine>
</package>`,
		"OEBPS/ch1.xhtml": `<html><head><style>p { color: red }</style></head>
<body><p>Chapter one text.</p><script>alert("no")</script></body></html>`,
		"OEBPS/ch2.xhtml": `<html><body><p>Chapter two text.</p></body></html>`,
		"OEBPS/style.css": `p { margin: 0 }`,
	}

	dir := paths.UploadDir("book-1")
	os.MkdirAll(dir, 0o755)
	path := filepath.Join(dir, "book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, body := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func TestExtractEPUB(t *testing.T) {
	e, paths := testExtractor(t)
	src := writeTestEPUB(t, paths)

	if err := e.Extract(context.Background(), "book-1", src); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	out, _ := os.ReadFile(paths.ExtractedText("book-1"))
	text := string(out)

	if !strings.Contains(text, "Chapter one text.") || !strings.Contains(text, "Chapter two text.") {
		t.Errorf("missing chapter text: %q", text)
	}
	// Spine order preserved.
	if strings.Index(text, "Chapter one") > strings.Index(text, "Chapter two") {
		t.Error("spine order not preserved")
	}
	// Style and script subtrees stripped.
	if strings.Contains(text, "color: red") || strings.Contains(text, "alert") {
		t.Errorf("style/script leaked into text: %q", text)
	}
}

func TestHandlerChainsSegmentTask(t *testing.T) {
	e, paths := testExtractor(t)
	src := writeUpload(t, paths, "book.txt", []byte("Some book text."))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	b := broker.NewWithClient(rdb, nil)

	h := NewHandler(e, b)
	task := broker.NewTask("book-1")
	task.FilePath = src
	task.UserID = "user-1"

	completion := broker.NewCompletion("book-1")
	if err := h.Handle(context.Background(), task, &completion); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	var next broker.Task
	if err := b.Pop(context.Background(), broker.SegmentQueue, time.Second, &next); err != nil {
		t.Fatalf("segment task not enqueued: %v", err)
	}
	if next.BookID != "book-1" || next.UserID != "user-1" {
		t.Errorf("segment task = %+v", next)
	}
}

func TestHandlerFailureDoesNotChain(t *testing.T) {
	e, _ := testExtractor(t)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	b := broker.NewWithClient(rdb, nil)

	h := NewHandler(e, b)
	task := broker.NewTask("book-1")
	task.FilePath = "/missing.txt"

	completion := broker.NewCompletion("book-1")
	if err := h.Handle(context.Background(), task, &completion); err == nil {
		t.Fatal("expected failure for missing file")
	}

	depth, _ := b.Depth(context.Background(), broker.SegmentQueue)
	if depth != 0 {
		t.Errorf("segment queue depth = %d after failure, want 0", depth)
	}
}
