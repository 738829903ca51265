// Package i18n holds the translated user-facing strings.
package i18n

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localesFS embed.FS

const Fallback = "en"

var supported = []language.Tag{language.English, language.Chinese}

var matcher = language.NewMatcher(supported)

type Catalog struct {
	messages map[string]map[string]string
}

// Load reads every <lang>.yaml file at the root of fsys.
func Load(fsys fs.FS) (*Catalog, error) {
	files, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("list catalogs: %w", err)
	}
	c := &Catalog{messages: make(map[string]map[string]string, len(files))}
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", name, err)
		}
		msgs := map[string]string{}
		if err := yaml.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", name, err)
		}
		c.messages[strings.TrimSuffix(path.Base(name), ".yaml")] = msgs
	}
	if _, ok := c.messages[Fallback]; !ok {
		return nil, fmt.Errorf("catalog %q missing", Fallback)
	}
	return c, nil
}

// T translates key into lang and substitutes {name} placeholders from
// name/value pairs. Unknown keys fall back to English, then to the key itself.
func (c *Catalog) T(lang, key string, kv ...string) string {
	msg, ok := c.messages[lang][key]
	if !ok {
		msg, ok = c.messages[Fallback][key]
	}
	if !ok {
		msg = key
	}
	if len(kv) == 0 {
		return msg
	}
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+kv[i]+"}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

func (c *Catalog) Languages() []string {
	langs := make([]string, 0, len(c.messages))
	for l := range c.messages {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

var defaultCatalog = mustLoadDefault()

func mustLoadDefault() *Catalog {
	sub, err := fs.Sub(localesFS, "locales")
	if err != nil {
		panic(err)
	}
	c, err := Load(sub)
	if err != nil {
		panic(err)
	}
	return c
}

var defaultLang atomic.Value

func init() {
	defaultLang.Store(Fallback)
}

// SetDefault sets the language used when a request does not name one.
func SetDefault(lang string) {
	defaultLang.Store(Normalize(lang))
}

func Default() string {
	return defaultLang.Load().(string)
}

// T translates with the embedded catalogs.
func T(lang, key string, kv ...string) string {
	return defaultCatalog.T(lang, key, kv...)
}

// Normalize maps a language tag or Accept-Language header onto a supported
// catalog ("zh-CN" -> "zh"). Unsupported input yields the default language.
func Normalize(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultOr(Fallback)
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return defaultOr(Fallback)
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return defaultOr(Fallback)
	}
	base, _ := supported[idx].Base()
	return base.String()
}

func defaultOr(lang string) string {
	if v, ok := defaultLang.Load().(string); ok && v != "" {
		return v
	}
	return lang
}

type ctxKey struct{}

func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, ctxKey{}, lang)
}

// FromContext returns the request language, or the default one.
func FromContext(ctx context.Context) string {
	if lang, ok := ctx.Value(ctxKey{}).(string); ok && lang != "" {
		return lang
	}
	return Default()
}

// Tc translates into the language carried by ctx.
func Tc(ctx context.Context, key string, kv ...string) string {
	return T(FromContext(ctx), key, kv...)
}
