package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/pkg/types"
)

// epubBaseFontSize is the nominal size of unstyled text. Inline font-size
// declarations scale it so the detector can compare EPUB and PDF sizes.
const epubBaseFontSize = 12.0

// EPUBParser parses EPUB 2 and EPUB 3 files.
type EPUBParser struct{}

// NewEPUBParser creates a new EPUB parser
func NewEPUBParser() *EPUBParser {
	return &EPUBParser{}
}

func (p *EPUBParser) SupportedFormats() []string {
	return []string{"epub"}
}

type epubContainer struct {
	RootFiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata struct {
		Titles    []string `xml:"title"`
		Creators  []string `xml:"creator"`
		Languages []string `xml:"language"`
	} `xml:"metadata"`
	Manifest []struct {
		ID         string `xml:"id,attr"`
		Href       string `xml:"href,attr"`
		MediaType  string `xml:"media-type,attr"`
		Properties string `xml:"properties,attr"`
	} `xml:"manifest>item"`
	Spine struct {
		TOC      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type ncxDoc struct {
	NavPoints []ncxNavPoint `xml:"navMap>navPoint"`
}

type ncxNavPoint struct {
	Label    string        `xml:"navLabel>text"`
	Content  ncxContent    `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

type ncxContent struct {
	Src string `xml:"src,attr"`
}

// epubArchive indexes the zip entries by cleaned path.
type epubArchive struct {
	files map[string]*zip.File
}

func (a *epubArchive) read(name string) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("missing archive entry: %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (p *EPUBParser) Parse(ctx context.Context, data []byte) (*types.Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid epub archive: %w", err)
	}

	arc := &epubArchive{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		arc.files[path.Clean(f.Name)] = f
	}

	if _, ok := arc.files["META-INF/encryption.xml"]; ok {
		if hasEncryptedContent(arc) {
			return nil, domainerrors.Unsupportedf("epub is DRM protected")
		}
	}

	raw, err := arc.read("META-INF/container.xml")
	if err != nil {
		return nil, fmt.Errorf("epub container: %w", err)
	}
	var container epubContainer
	if err := xml.Unmarshal(raw, &container); err != nil {
		return nil, fmt.Errorf("parsing container.xml: %w", err)
	}
	if len(container.RootFiles) == 0 || container.RootFiles[0].FullPath == "" {
		return nil, fmt.Errorf("no rootfile found in container.xml")
	}

	opfPath := path.Clean(container.RootFiles[0].FullPath)
	raw, err = arc.read(opfPath)
	if err != nil {
		return nil, fmt.Errorf("epub package: %w", err)
	}
	var pkg opfPackage
	if err := xml.Unmarshal(raw, &pkg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", opfPath, err)
	}

	doc := &types.Document{
		Format:   "epub",
		Title:    firstNonEmpty(pkg.Metadata.Titles),
		Author:   joinNonEmpty(pkg.Metadata.Creators, ", "),
		Language: firstNonEmpty(pkg.Metadata.Languages),
	}

	opfDir := path.Dir(opfPath)
	type item struct{ href, mediaType, props string }
	manifest := make(map[string]item, len(pkg.Manifest))
	var navHref, ncxHref string
	for _, it := range pkg.Manifest {
		full := resolveHref(opfDir, it.Href)
		manifest[it.ID] = item{href: full, mediaType: it.MediaType, props: it.Properties}
		if hasToken(it.Properties, "nav") {
			navHref = full
		}
		if it.MediaType == "application/x-dtbncx+xml" {
			ncxHref = full
		}
	}
	if it, ok := manifest[pkg.Spine.TOC]; ok && pkg.Spine.TOC != "" {
		ncxHref = it.href
	}

	if navHref != "" {
		doc.TOC = readNavTOC(arc, navHref)
	}
	if len(doc.TOC) == 0 && ncxHref != "" {
		doc.TOC = readNCXTOC(arc, ncxHref)
	}

	tocIndex := newTOCIndex(doc.TOC)

	for _, ref := range pkg.Spine.ItemRefs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		it, ok := manifest[ref.IDRef]
		if !ok || ref.Linear == "no" || hasToken(it.props, "nav") {
			continue
		}
		if it.mediaType != "application/xhtml+xml" && it.mediaType != "text/html" {
			continue
		}

		content, err := arc.read(it.href)
		if err != nil {
			return nil, fmt.Errorf("epub spine: %w", err)
		}
		node, err := html.Parse(bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", it.href, err)
		}

		w := &xhtmlWalker{source: it.href, toc: tocIndex}
		w.walk(findBody(node), epubBaseFontSize, false)
		doc.Blocks = append(doc.Blocks, w.blocks...)
	}

	if len(doc.Blocks) == 0 {
		return nil, fmt.Errorf("no text content found in epub")
	}

	return doc, nil
}

func hasEncryptedContent(arc *epubArchive) bool {
	raw, err := arc.read("META-INF/encryption.xml")
	if err != nil {
		return false
	}
	// Font obfuscation is the only encryption readers may legitimately skip.
	var enc struct {
		Data []struct {
			Method struct {
				Algorithm string `xml:"Algorithm,attr"`
			} `xml:"EncryptionMethod"`
		} `xml:"EncryptedData"`
	}
	if err := xml.Unmarshal(raw, &enc); err != nil {
		return true
	}
	for _, d := range enc.Data {
		alg := d.Method.Algorithm
		if alg != "http://www.idpf.org/2008/embedding" && alg != "http://ns.adobe.com/pdf/enc#RC" {
			return true
		}
	}
	return false
}

// resolveHref joins href to dir, unescapes it and keeps any fragment.
func resolveHref(dir, href string) string {
	frag := ""
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href, frag = href[:i], href[i:]
	}
	if u, err := url.PathUnescape(href); err == nil {
		href = u
	}
	if href == "" {
		return frag
	}
	return path.Join(dir, href) + frag
}

func splitFragment(href string) (string, string) {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i], href[i+1:]
	}
	return href, ""
}

func readNavTOC(arc *epubArchive, navHref string) []types.TOCEntry {
	raw, err := arc.read(navHref)
	if err != nil {
		return nil
	}
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil
	}

	var nav *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if nav != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Nav {
			for _, a := range n.Attr {
				if strings.HasSuffix(a.Key, "type") && hasToken(a.Val, "toc") {
					nav = n
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(root)
	if nav == nil {
		return nil
	}

	dir := path.Dir(navHref)
	var entries []types.TOCEntry
	var walkList func(list *html.Node, level int)
	walkList = func(list *html.Node, level int) {
		for li := list.FirstChild; li != nil; li = li.NextSibling {
			if li.Type != html.ElementNode || li.DataAtom != atom.Li {
				continue
			}
			for c := li.FirstChild; c != nil; c = c.NextSibling {
				if c.Type != html.ElementNode {
					continue
				}
				switch c.DataAtom {
				case atom.A, atom.Span:
					title := collapseSpace(nodeText(c))
					href := attr(c, "href")
					if title != "" {
						entries = append(entries, types.TOCEntry{Title: title, Href: resolveHref(dir, href), Level: level})
					}
				case atom.Ol, atom.Ul:
					walkList(c, level+1)
				}
			}
		}
	}
	for c := nav.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Ol || c.DataAtom == atom.Ul) {
			walkList(c, 1)
		}
	}
	return entries
}

func readNCXTOC(arc *epubArchive, ncxHref string) []types.TOCEntry {
	raw, err := arc.read(ncxHref)
	if err != nil {
		return nil
	}
	var ncx ncxDoc
	if err := xml.Unmarshal(raw, &ncx); err != nil {
		return nil
	}

	dir := path.Dir(ncxHref)
	var entries []types.TOCEntry
	var walk func(points []ncxNavPoint, level int)
	walk = func(points []ncxNavPoint, level int) {
		for _, np := range points {
			if title := collapseSpace(np.Label); title != "" {
				entries = append(entries, types.TOCEntry{Title: title, Href: resolveHref(dir, np.Content.Src), Level: level})
			}
			walk(np.Children, level+1)
		}
	}
	walk(ncx.NavPoints, 1)
	return entries
}

// tocIndex maps spine documents and fragment anchors to TOC titles. Each
// entry is handed out once.
type tocIndex struct {
	byDoc    map[string]string
	byAnchor map[string]string
}

func newTOCIndex(entries []types.TOCEntry) *tocIndex {
	idx := &tocIndex{byDoc: map[string]string{}, byAnchor: map[string]string{}}
	for _, e := range entries {
		doc, frag := splitFragment(e.Href)
		if frag == "" {
			if _, dup := idx.byDoc[doc]; !dup {
				idx.byDoc[doc] = e.Title
			}
			continue
		}
		key := doc + "#" + frag
		if _, dup := idx.byAnchor[key]; !dup {
			idx.byAnchor[key] = e.Title
		}
	}
	return idx
}

func (t *tocIndex) takeDoc(doc string) string {
	title := t.byDoc[doc]
	delete(t.byDoc, doc)
	return title
}

func (t *tocIndex) takeAnchor(doc, id string) string {
	key := doc + "#" + id
	title := t.byAnchor[key]
	delete(t.byAnchor, key)
	return title
}

// xhtmlWalker emits blocks for one spine document.
type xhtmlWalker struct {
	source     string
	toc        *tocIndex
	blocks     []types.Block
	pendingIDs []string
	started    bool
}

var paragraphAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Li: true, atom.Blockquote: true, atom.Pre: true,
	atom.Dd: true, atom.Dt: true, atom.Figcaption: true, atom.Td: true, atom.Th: true,
	atom.Address: true,
}

var containerAtoms = map[atom.Atom]bool{
	atom.Div: true, atom.Section: true, atom.Article: true, atom.Header: true,
	atom.Footer: true, atom.Main: true, atom.Aside: true, atom.Body: true,
	atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Table: true, atom.Tbody: true,
	atom.Thead: true, atom.Tr: true, atom.Figure: true, atom.Hgroup: true, atom.Center: true,
}

var skipAtoms = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Head: true, atom.Nav: true,
	atom.Noscript: true, atom.Svg: true, atom.Math: true,
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

func (w *xhtmlWalker) walk(n *html.Node, size float64, bold bool) {
	if n == nil {
		return
	}
	if n.Type != html.ElementNode {
		if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" && n.Parent != nil && containerAtoms[n.Parent.DataAtom] {
			// Loose text directly inside a container.
			w.emit(n, types.BlockParagraph, 0, size, bold)
		}
		return
	}
	if skipAtoms[n.DataAtom] {
		return
	}

	size = scaledFontSize(n, size)
	bold = bold || isBoldStyle(n)
	if id := attr(n, "id"); id != "" {
		w.pendingIDs = append(w.pendingIDs, id)
	}

	if lvl := headingLevel(n.DataAtom); lvl > 0 {
		w.emit(n, types.BlockHeading, lvl, size, bold)
		return
	}
	if paragraphAtoms[n.DataAtom] && !hasBlockChild(n) {
		w.emit(n, types.BlockParagraph, 0, size, bold)
		return
	}
	if (n.DataAtom == atom.Div || !containerAtoms[n.DataAtom]) && !hasBlockChild(n) {
		// Leaf div, or inline content sitting at block level.
		w.emit(n, types.BlockParagraph, 0, size, bold)
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, size, bold)
	}
}

func (w *xhtmlWalker) emit(n *html.Node, kind string, level int, size float64, bold bool) {
	text := collapseSpace(nodeText(n))
	if text == "" {
		return
	}

	if n.Type == html.ElementNode {
		collectIDs(n, &w.pendingIDs)
		if !bold {
			bold = n.DataAtom == atom.B || n.DataAtom == atom.Strong || wrappedInBold(n, text)
		}
	}

	b := types.Block{
		Text:     text,
		Kind:     kind,
		Level:    level,
		FontSize: size,
		Bold:     bold,
		Source:   w.source,
	}

	if !w.started {
		b.TOCTitle = w.toc.takeDoc(w.source)
		w.started = true
	}
	for _, id := range w.pendingIDs {
		if title := w.toc.takeAnchor(w.source, id); title != "" && b.TOCTitle == "" {
			b.TOCTitle = title
		}
	}
	w.pendingIDs = w.pendingIDs[:0]

	w.blocks = append(w.blocks, b)
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if headingLevel(c.DataAtom) > 0 || paragraphAtoms[c.DataAtom] || containerAtoms[c.DataAtom] {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if skipAtoms[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Br {
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return b.String()
}

func collectIDs(n *html.Node, ids *[]string) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if id := attr(c, "id"); id != "" {
			*ids = append(*ids, id)
		}
		collectIDs(c, ids)
	}
}

// wrappedInBold reports whether a single b or strong descendant carries all
// of the block's text.
func wrappedInBold(n *html.Node, text string) bool {
	found := false
	var rec func(*html.Node)
	rec = func(c *html.Node) {
		if found || c.Type != html.ElementNode {
			return
		}
		if c.DataAtom == atom.B || c.DataAtom == atom.Strong || isBoldStyle(c) {
			if collapseSpace(nodeText(c)) == text {
				found = true
				return
			}
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			rec(cc)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		rec(c)
	}
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func styleValue(n *html.Node, prop string) string {
	for _, decl := range strings.Split(attr(n, "style"), ";") {
		k, v, ok := strings.Cut(decl, ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), prop) {
			return strings.ToLower(strings.TrimSpace(v))
		}
	}
	return ""
}

func isBoldStyle(n *html.Node) bool {
	switch styleValue(n, "font-weight") {
	case "bold", "bolder", "600", "700", "800", "900":
		return true
	}
	return false
}

// scaledFontSize applies an inline font-size declaration to the inherited size.
func scaledFontSize(n *html.Node, inherited float64) float64 {
	v := styleValue(n, "font-size")
	if v == "" {
		return inherited
	}
	switch v {
	case "xx-small":
		return epubBaseFontSize * 0.6
	case "x-small":
		return epubBaseFontSize * 0.75
	case "small":
		return epubBaseFontSize * 0.89
	case "medium":
		return epubBaseFontSize
	case "large":
		return epubBaseFontSize * 1.2
	case "x-large":
		return epubBaseFontSize * 1.5
	case "xx-large":
		return epubBaseFontSize * 2
	case "larger":
		return inherited * 1.2
	case "smaller":
		return inherited / 1.2
	}

	for _, u := range []struct {
		suffix string
		apply  func(float64) float64
	}{
		{"rem", func(f float64) float64 { return epubBaseFontSize * f }},
		{"em", func(f float64) float64 { return inherited * f }},
		{"%", func(f float64) float64 { return inherited * f / 100 }},
		{"px", func(f float64) float64 { return f * 0.75 }},
		{"pt", func(f float64) float64 { return f }},
	} {
		if strings.HasSuffix(v, u.suffix) {
			f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(v, u.suffix)), 64)
			if err != nil || f <= 0 {
				return inherited
			}
			return u.apply(f)
		}
	}
	return inherited
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v = collapseSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(values []string, sep string) string {
	var out []string
	for _, v := range values {
		if v = collapseSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, sep)
}
