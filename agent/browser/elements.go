package browser

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/OperatorNext/OperatorNext/agent"
)

// 元素属性白名单，其余属性不进入提示词
var keptAttrs = map[string]bool{
	"href":        true,
	"type":        true,
	"name":        true,
	"placeholder": true,
	"aria-label":  true,
	"value":       true,
	"role":        true,
	"title":       true,
}

// 不计入正文的标签
var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"template": true,
	"svg":      true,
}

const maxElementText = 100

// Page 从 HTML 解析出的正文与可交互元素
type Page struct {
	Text     string
	Elements []agent.Element
}

// ExtractPage 解析 HTML，收集带序号标记的元素与可见文本。
// maxElements <= 0 表示不限制。
func ExtractPage(doc string, maxElements int) (Page, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return Page{}, err
	}

	var (
		text     strings.Builder
		elements []agent.Element
	)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedTags[n.Data] {
				return
			}
			if el, ok := markedElement(n); ok {
				elements = append(elements, el)
			}
		}
		if n.Type == html.TextNode {
			if s := collapseSpace(n.Data); s != "" {
				if text.Len() > 0 {
					text.WriteByte(' ')
				}
				text.WriteString(s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	sort.SliceStable(elements, func(i, j int) bool { return elements[i].Index < elements[j].Index })
	if maxElements > 0 && len(elements) > maxElements {
		elements = elements[:maxElements]
	}
	return Page{Text: text.String(), Elements: elements}, nil
}

func markedElement(n *html.Node) (agent.Element, bool) {
	el := agent.Element{Tag: n.Data}
	found := false
	for _, a := range n.Attr {
		if a.Key == indexAttr {
			idx, err := strconv.Atoi(a.Val)
			if err != nil {
				return agent.Element{}, false
			}
			el.Index = idx
			found = true
			continue
		}
		if keptAttrs[a.Key] && a.Val != "" {
			if el.Attrs == nil {
				el.Attrs = make(map[string]string)
			}
			el.Attrs[a.Key] = a.Val
		}
	}
	if !found {
		return agent.Element{}, false
	}
	el.Text = truncateRunes(innerText(n), maxElementText)
	return el, true
}

func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if s := collapseSpace(n.Data); s != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FormatElements 渲染为提示词中的元素列表，如 `[3]<a href="/x">Docs</a>`
func FormatElements(elements []agent.Element) string {
	var b strings.Builder
	for _, el := range elements {
		b.WriteString("[")
		b.WriteString(strconv.Itoa(el.Index))
		b.WriteString("]<")
		b.WriteString(el.Tag)
		keys := make([]string, 0, len(el.Attrs))
		for k := range el.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(" ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(strconv.Quote(el.Attrs[k]))
		}
		b.WriteString(">")
		b.WriteString(el.Text)
		b.WriteString("</")
		b.WriteString(el.Tag)
		b.WriteString(">\n")
	}
	return b.String()
}
