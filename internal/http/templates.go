package httpapp

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/favicon.svg
var faviconSVG []byte

type Templates struct {
	Home   *template.Template
	Thread *template.Template
	Agent  *template.Template
}

// Raw HTML in bodies is escaped; goldmark only emits it with html.WithUnsafe.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func renderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

func loadTemplates() (*Templates, error) {
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") },
		"markdown":   renderMarkdown,
		"truncate": func(s string, n int) string {
			r := []rune(s)
			if len(r) <= n {
				return s
			}
			return string(r[:n]) + "…"
		},
	}

	layoutContent, err := templateFS.ReadFile("templates/layout.html")
	if err != nil {
		return nil, err
	}

	makePage := func(files ...string) (*template.Template, error) {
		t, err := template.New("layout").Funcs(funcs).Parse(string(layoutContent))
		if err != nil {
			return nil, err
		}
		for _, name := range files {
			content, err := templateFS.ReadFile("templates/" + name + ".html")
			if err != nil {
				return nil, err
			}
			if t, err = t.Parse(string(content)); err != nil {
				return nil, err
			}
		}
		return t, nil
	}

	home, err := makePage("home", "threadlist")
	if err != nil {
		return nil, err
	}
	thread, err := makePage("thread")
	if err != nil {
		return nil, err
	}
	agent, err := makePage("agent", "threadlist")
	if err != nil {
		return nil, err
	}

	return &Templates{
		Home:   home,
		Thread: thread,
		Agent:  agent,
	}, nil
}
