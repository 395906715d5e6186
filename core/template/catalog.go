package template

import (
	"bytes"
	"io/fs"
	"sort"
	"strings"
	tmpl "text/template"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/somo/core/course"
)

// Catalog holds the templates read from YAML files.
type Catalog struct {
	templates []Template
	byID      map[string]Template
}

type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadCatalog reads the templates of the files of `fsys` matching `pattern`.
// Every placeholder must render; template IDs must be unique.
func LoadCatalog(fsys fs.FS, pattern string) (*Catalog, error) {
	paths, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "listing catalog files")
	}
	sort.Strings(paths)

	cat := &Catalog{byID: make(map[string]Template)}
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", path)
		}
		for _, t := range file.Templates {
			if err := check(t); err != nil {
				return nil, errors.Wrapf(err, "%s: template %q", path, t.ID)
			}
			if _, dup := cat.byID[t.ID]; dup {
				return nil, errors.Errorf("%s: duplicate template %q", path, t.ID)
			}
			cat.byID[t.ID] = t
			cat.templates = append(cat.templates, t)
		}
	}
	return cat, nil
}

func check(t Template) error {
	if t.ID == "" || t.Name == "" {
		return errors.New("id and name are required")
	}
	if !isDifficulty(t.Difficulty) {
		return errors.Errorf("unknown difficulty %q", t.Difficulty)
	}
	if len(t.Modules) == 0 {
		return errors.New("no module")
	}
	vars := placeholders{Topic: "topic", Audience: "audience"}
	for _, m := range t.Modules {
		if len(m.Lessons) == 0 {
			return errors.Errorf("module %q has no lesson", m.Title)
		}
		for _, s := range append([]string{m.Title, m.Description}, m.Lessons...) {
			if _, err := render(s, vars); err != nil {
				return err
			}
		}
	}
	return nil
}

func isDifficulty(s string) bool {
	for _, d := range course.Difficulties {
		if s == d {
			return true
		}
	}
	return false
}

// List returns the templates in catalog order.
func (cat *Catalog) List() []Template {
	return append([]Template(nil), cat.templates...)
}

func (cat *Catalog) Get(id string) (Template, bool) {
	t, ok := cat.byID[strings.ToLower(strings.TrimSpace(id))]
	return t, ok
}

type placeholders struct {
	Topic    string
	Audience string
}

func render(s string, vars placeholders) (string, error) {
	t, err := tmpl.New("").Option("missingkey=error").Parse(s)
	if err != nil {
		return "", errors.Wrapf(err, "parsing %q", s)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", errors.Wrapf(err, "rendering %q", s)
	}
	return buf.String(), nil
}
