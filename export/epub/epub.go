// Package epub writes finished picture books as EPUB 3 files.
package epub

import (
	"archive/zip"
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/beevik/etree"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	fixzip "github.com/hidez8891/zip"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"weaver/book"
	"weaver/config"
	imgutil "weaver/utils/images"
)

const (
	mimetypeContent = "application/epub+zip"
	oebpsDir        = "OEBPS"
	imagesDir       = "images"
	coverFile       = "cover.xhtml"
)

//go:embed stylesheet.css
var defaultStylesheet []byte

var ErrNoPages = errors.New("book has no pages")

// Story is what gets exported.
type Story struct {
	// store id, empty for books which were never saved
	ID     string
	Title  string
	Author string
	Pages  []book.Page
}

type pageImage struct {
	id       string
	filename string
	mimeType string
	data     []byte
	width    int
	height   int
}

type pageData struct {
	id       string
	filename string
	title    string
	image    *pageImage
	doc      *etree.Document
}

type generator struct {
	story       *Story
	cfg         *config.ExportConfig
	lang        language.Tag
	uid         string
	placeholder []byte
	// rasterized placeholder, shared by all holes
	hole *pageImage
	log  *zap.Logger
}

// Generate writes story to outputPath. Page 0 becomes the cover, every other
// page becomes a scene page. Pages without picture get placeholder produced
// from placeholderSVG.
func Generate(ctx context.Context, st *Story, outputPath string, cfg *config.ExportConfig, placeholderSVG []byte, log *zap.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(st.Pages) == 0 {
		return ErrNoPages
	}

	lang, err := language.Parse(cfg.Language)
	if err != nil {
		return fmt.Errorf("unable to parse book language: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("unable to generate book id: %w", err)
	}

	g := &generator{
		story:       st,
		cfg:         cfg,
		lang:        lang,
		uid:         "urn:uuid:" + id.String(),
		placeholder: placeholderSVG,
		log:         log.Named("epub"),
	}
	g.log.Info("Generating EPUB", zap.String("title", st.Title), zap.Int("pages", len(st.Pages)), zap.String("output", outputPath))

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}

	f, err := os.CreateTemp("", "weaver-*"+outputExt)
	if err != nil {
		return fmt.Errorf("unable to create output file: %w", err)
	}
	tmpName := f.Name()
	defer os.Remove(tmpName)
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	if err := writeMimetype(zw); err != nil {
		return fmt.Errorf("unable to write mimetype: %w", err)
	}
	if err := writeContainer(zw); err != nil {
		return fmt.Errorf("unable to write container: %w", err)
	}

	pages, err := g.preparePages(ctx)
	if err != nil {
		return err
	}

	if err := g.writeImages(zw, pages); err != nil {
		return fmt.Errorf("unable to write images: %w", err)
	}
	for _, p := range pages {
		if err := writeXMLToZip(zw, path.Join(oebpsDir, p.filename), p.doc); err != nil {
			return fmt.Errorf("unable to write page %s: %w", p.id, err)
		}
	}
	if err := g.writeStylesheet(zw); err != nil {
		return fmt.Errorf("unable to write stylesheet: %w", err)
	}
	if err := g.writeOPF(zw, pages); err != nil {
		return fmt.Errorf("unable to write OPF: %w", err)
	}
	if err := g.writeNav(zw, pages); err != nil {
		return fmt.Errorf("unable to write NAV: %w", err)
	}
	if err := g.writeNCX(zw, pages); err != nil {
		return fmt.Errorf("unable to write NCX: %w", err)
	}

	// make sure buffers are flushed before continuing
	if err := zw.Close(); err != nil {
		return fmt.Errorf("unable to close output archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("unable to finalize output file: %w", err)
	}

	if cfg.FixZip {
		return copyZipWithoutDataDescriptors(tmpName, outputPath)
	}
	return copyFile(tmpName, outputPath)
}

func (g *generator) preparePages(ctx context.Context) ([]pageData, error) {
	pages := make([]pageData, 0, len(g.story.Pages))
	for i, p := range g.story.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := g.prepareImage(i, p)
		if err != nil {
			return nil, fmt.Errorf("unable to prepare image for page %d: %w", i, err)
		}

		pd := pageData{
			id:       fmt.Sprintf("page-%03d", i),
			filename: fmt.Sprintf("page-%03d.xhtml", i),
			title:    book.PageLabel(i),
			image:    img,
		}
		if i == 0 {
			pd.id, pd.filename = "cover-page", coverFile
			pd.doc = g.coverPage(img)
		} else {
			pd.doc = g.scenePage(pd.title, img, p.Text)
		}
		pages = append(pages, pd)
	}
	return pages, nil
}

func (g *generator) prepareImage(index int, p book.Page) (*pageImage, error) {
	if p.Image != nil && p.Image.IsImage() {
		prepared, err := imgutil.Prepare(p.Image.Data, imgutil.Options{
			Width:       g.cfg.Images.Width,
			JPEGQuality: g.cfg.Images.JPEGQuality,
			Format:      g.cfg.Images.Format,
		})
		if err == nil {
			ext := ".png"
			if prepared.MimeType == "image/jpeg" {
				ext = ".jpg"
			}
			return &pageImage{
				id:       fmt.Sprintf("img-%03d", index),
				filename: fmt.Sprintf("page-%03d%s", index, ext),
				mimeType: prepared.MimeType,
				data:     prepared.Data,
				width:    prepared.Width,
				height:   prepared.Height,
			}, nil
		}
		g.log.Warn("Unable to prepare page image, using placeholder", zap.Int("page", index), zap.Error(err))
	}
	return g.holeImage()
}

func (g *generator) holeImage() (*pageImage, error) {
	if g.hole != nil {
		return g.hole, nil
	}
	img, err := imgutil.RasterizeSVG(g.placeholder, g.cfg.Images.Width, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to rasterize placeholder: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, fmt.Errorf("unable to encode placeholder: %w", err)
	}
	g.hole = &pageImage{
		id:       "img-placeholder",
		filename: "placeholder.png",
		mimeType: "image/png",
		data:     buf.Bytes(),
		width:    img.Bounds().Dx(),
		height:   img.Bounds().Dy(),
	}
	return g.hole, nil
}

func (g *generator) writeImages(zw *zip.Writer, pages []pageData) error {
	written := make(map[string]bool, len(pages))
	for _, p := range pages {
		if written[p.image.id] {
			continue
		}
		if err := writeDataToZip(zw, path.Join(oebpsDir, imagesDir, p.image.filename), p.image.data); err != nil {
			return fmt.Errorf("unable to write image %s: %w", p.image.id, err)
		}
		written[p.image.id] = true
	}
	return nil
}

func (g *generator) createXHTMLDocument(title string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	html := doc.CreateElement("html")
	html.CreateAttr("xmlns", "http://www.w3.org/1999/xhtml")
	html.CreateAttr("xmlns:epub", "http://www.idpf.org/2007/ops")
	html.CreateAttr("xml:lang", g.lang.String())

	head := html.CreateElement("head")

	meta := head.CreateElement("meta")
	meta.CreateAttr("http-equiv", "Content-Type")
	meta.CreateAttr("content", "text/html; charset=utf-8")

	link := head.CreateElement("link")
	link.CreateAttr("rel", "stylesheet")
	link.CreateAttr("type", "text/css")
	link.CreateAttr("href", "stylesheet.css")

	titleElem := head.CreateElement("title")
	titleElem.SetText(title)

	return doc, html.CreateElement("body")
}

// coverPage wraps cover picture into SVG so it is always scaled to fit the
// screen keeping aspect ratio.
func (g *generator) coverPage(img *pageImage) *etree.Document {
	doc, body := g.createXHTMLDocument(g.story.Title)

	head := doc.FindElement("//head")
	style := head.CreateElement("style")
	style.CreateAttr("type", "text/css")
	style.SetText("html, body { margin: 0; padding: 0; width: 100%; height: 100%; } svg { display: block; width: auto; height: 100%; margin: 0 auto }")

	svg := body.CreateElement("svg")
	svg.CreateAttr("version", "1.1")
	svg.CreateAttr("xmlns", "http://www.w3.org/2000/svg")
	svg.CreateAttr("xmlns:xlink", "http://www.w3.org/1999/xlink")
	svg.CreateAttr("viewBox", fmt.Sprintf("0 0 %d %d", img.width, img.height))
	svg.CreateAttr("preserveAspectRatio", "xMidYMid meet")

	svgImage := svg.CreateElement("image")
	svgImage.CreateAttr("x", "0")
	svgImage.CreateAttr("y", "0")
	svgImage.CreateAttr("width", fmt.Sprintf("%d", img.width))
	svgImage.CreateAttr("height", fmt.Sprintf("%d", img.height))
	svgImage.CreateAttr("xlink:href", path.Join(imagesDir, img.filename))

	return doc
}

func (g *generator) scenePage(title string, img *pageImage, text *string) *etree.Document {
	doc, body := g.createXHTMLDocument(title)

	scene := body.CreateElement("div")
	scene.CreateAttr("class", "scene")

	illustration := scene.CreateElement("div")
	illustration.CreateAttr("class", "illustration")
	imgElem := illustration.CreateElement("img")
	imgElem.CreateAttr("src", path.Join(imagesDir, img.filename))
	imgElem.CreateAttr("alt", title)

	if text != nil {
		narrative := scene.CreateElement("div")
		narrative.CreateAttr("class", "narrative")
		for _, para := range book.Paragraphs(*text) {
			narrative.CreateElement("p").SetText(para)
		}
	}
	return doc
}

func (g *generator) writeStylesheet(zw *zip.Writer) error {
	css := defaultStylesheet
	if len(g.cfg.StylesheetPath) > 0 {
		data, err := os.ReadFile(g.cfg.StylesheetPath)
		if err != nil {
			return fmt.Errorf("unable to read stylesheet: %w", err)
		}
		css = data
	}
	return writeDataToZip(zw, path.Join(oebpsDir, "stylesheet.css"), css)
}

func (g *generator) writeOPF(zw *zip.Writer, pages []pageData) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	pkg := doc.CreateElement("package")
	pkg.CreateAttr("xmlns", "http://www.idpf.org/2007/opf")
	pkg.CreateAttr("unique-identifier", "BookId")
	pkg.CreateAttr("version", "3.0")

	metadata := pkg.CreateElement("metadata")
	metadata.CreateAttr("xmlns:dc", "http://purl.org/dc/elements/1.1/")
	metadata.CreateAttr("xmlns:opf", "http://www.idpf.org/2007/opf")

	metadata.CreateElement("dc:title").SetText(g.story.Title)

	dcIdentifier := metadata.CreateElement("dc:identifier")
	dcIdentifier.CreateAttr("id", "BookId")
	dcIdentifier.SetText(g.uid)

	metadata.CreateElement("dc:language").SetText(g.lang.String())

	if len(g.story.Author) > 0 {
		dcCreator := metadata.CreateElement("dc:creator")
		dcCreator.CreateAttr("id", "creator0")
		dcCreator.SetText(g.story.Author)

		roleMeta := metadata.CreateElement("meta")
		roleMeta.CreateAttr("refines", "#creator0")
		roleMeta.CreateAttr("property", "role")
		roleMeta.CreateAttr("scheme", "marc:relators")
		roleMeta.SetText("aut")
	}

	// some older readers still look for it
	coverMeta := metadata.CreateElement("meta")
	coverMeta.CreateAttr("name", "cover")
	coverMeta.CreateAttr("content", pages[0].image.id)

	modifiedMeta := metadata.CreateElement("meta")
	modifiedMeta.CreateAttr("property", "dcterms:modified")
	modifiedMeta.SetText(time.Now().UTC().Format("2006-01-02T15:04:05Z"))

	manifest := pkg.CreateElement("manifest")

	addItem := func(id, href, mediaType, properties string) {
		item := manifest.CreateElement("item")
		item.CreateAttr("id", id)
		item.CreateAttr("href", href)
		item.CreateAttr("media-type", mediaType)
		if len(properties) > 0 {
			item.CreateAttr("properties", properties)
		}
	}

	addItem("nav", "nav.xhtml", "application/xhtml+xml", "nav")
	addItem("ncx", "toc.ncx", "application/x-dtbncx+xml", "")
	addItem("style", "stylesheet.css", "text/css", "")

	listed := make(map[string]bool, len(pages))
	for i, p := range pages {
		properties := ""
		if i == 0 {
			properties = "svg"
		}
		addItem(p.id, p.filename, "application/xhtml+xml", properties)

		if listed[p.image.id] {
			continue
		}
		listed[p.image.id] = true
		properties = ""
		if i == 0 {
			properties = "cover-image"
		}
		addItem(p.image.id, path.Join(imagesDir, p.image.filename), p.image.mimeType, properties)
	}

	spine := pkg.CreateElement("spine")
	spine.CreateAttr("toc", "ncx")
	for _, p := range pages {
		itemref := spine.CreateElement("itemref")
		itemref.CreateAttr("idref", p.id)
	}

	return writeXMLToZip(zw, path.Join(oebpsDir, "content.opf"), doc)
}

func (g *generator) writeNav(zw *zip.Writer, pages []pageData) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	html := doc.CreateElement("html")
	html.CreateAttr("xmlns", "http://www.w3.org/1999/xhtml")
	html.CreateAttr("xmlns:epub", "http://www.idpf.org/2007/ops")

	head := html.CreateElement("head")
	head.CreateElement("meta").CreateAttr("charset", "utf-8")
	head.CreateElement("title").SetText(g.story.Title)

	link := head.CreateElement("link")
	link.CreateAttr("rel", "stylesheet")
	link.CreateAttr("type", "text/css")
	link.CreateAttr("href", "stylesheet.css")

	body := html.CreateElement("body")

	nav := body.CreateElement("nav")
	nav.CreateAttr("epub:type", "toc")
	nav.CreateAttr("id", "toc")
	nav.CreateAttr("role", "doc-toc")

	h1 := nav.CreateElement("h1")
	h1.CreateAttr("class", "title")
	h1.SetText(g.story.Title)

	ol := nav.CreateElement("ol")
	for _, p := range pages {
		a := ol.CreateElement("li").CreateElement("a")
		a.CreateAttr("href", p.filename)
		a.SetText(p.title)
	}

	landmarks := body.CreateElement("nav")
	landmarks.CreateAttr("epub:type", "landmarks")
	landmarks.CreateAttr("id", "landmarks")
	landmarks.CreateAttr("hidden", "")

	landmarksOL := landmarks.CreateElement("ol")
	a := landmarksOL.CreateElement("li").CreateElement("a")
	a.CreateAttr("epub:type", "cover")
	a.CreateAttr("href", coverFile)
	a.SetText("Cover")

	start := coverFile
	if len(pages) > 1 {
		start = pages[1].filename
	}
	a = landmarksOL.CreateElement("li").CreateElement("a")
	a.CreateAttr("epub:type", "bodymatter")
	a.CreateAttr("href", start)
	a.SetText("Start")

	return writeXMLToZip(zw, path.Join(oebpsDir, "nav.xhtml"), doc)
}

func (g *generator) writeNCX(zw *zip.Writer, pages []pageData) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	ncx := doc.CreateElement("ncx")
	ncx.CreateAttr("xmlns", "http://www.daisy.org/z3986/2005/ncx/")
	ncx.CreateAttr("version", "2005-1")

	head := ncx.CreateElement("head")
	for _, m := range [][2]string{
		{"dtb:uid", g.uid},
		{"dtb:depth", "1"},
		{"dtb:totalPageCount", "0"},
		{"dtb:maxPageNumber", "0"},
	} {
		meta := head.CreateElement("meta")
		meta.CreateAttr("name", m[0])
		meta.CreateAttr("content", m[1])
	}

	ncx.CreateElement("docTitle").CreateElement("text").SetText(g.story.Title)

	navMap := ncx.CreateElement("navMap")
	for i, p := range pages {
		navPoint := navMap.CreateElement("navPoint")
		navPoint.CreateAttr("id", "nav-"+p.id)
		navPoint.CreateAttr("playOrder", fmt.Sprintf("%d", i+1))
		navPoint.CreateElement("navLabel").CreateElement("text").SetText(p.title)
		navPoint.CreateElement("content").CreateAttr("src", p.filename)
	}

	return writeXMLToZip(zw, path.Join(oebpsDir, "toc.ncx"), doc)
}

func writeMimetype(zw *zip.Writer) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   "mimetype",
		Method: zip.Store,
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, mimetypeContent)
	return err
}

func writeContainer(zw *zip.Writer) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	container := doc.CreateElement("container")
	container.CreateAttr("version", "1.0")
	container.CreateAttr("xmlns", "urn:oasis:names:tc:opendocument:xmlns:container")

	rootfile := container.CreateElement("rootfiles").CreateElement("rootfile")
	rootfile.CreateAttr("full-path", path.Join(oebpsDir, "content.opf"))
	rootfile.CreateAttr("media-type", "application/oebps-package+xml")

	return writeXMLToZip(zw, "META-INF/container.xml", doc)
}

func writeXMLToZip(zw *zip.Writer, name string, doc *etree.Document) error {
	var buf bytes.Buffer
	doc.Indent(2)
	if _, err := doc.WriteTo(&buf); err != nil {
		return err
	}
	return writeDataToZip(zw, name, buf.Bytes())
}

func writeDataToZip(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// copyZipWithoutDataDescriptors rewrites archive so local file headers carry
// sizes, some readers refuse books otherwise.
func copyZipWithoutDataDescriptors(from, to string) error {
	out, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("unable to create target file (%s): %w", to, err)
	}
	defer out.Close()

	r, err := fixzip.OpenReader(from)
	if err != nil {
		return fmt.Errorf("unable to read archive file (%s): %w", from, err)
	}
	defer r.Close()

	w := fixzip.NewWriter(out)
	for _, file := range r.File {
		file.Flags &= ^fixzip.FlagDataDescriptor
		if err := w.CopyFile(file); err != nil {
			return fmt.Errorf("unable to write target file (%s): %w", to, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("unable to finalize target file (%s): %w", to, err)
	}
	return out.Close()
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destinationFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer destinationFile.Close()

	if _, err = io.Copy(destinationFile, sourceFile); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}
	return destinationFile.Close()
}
