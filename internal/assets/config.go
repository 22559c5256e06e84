package assets

type Config struct {
	// URL prefix the static handler is mounted under
	Prefix string
	// Whether to minify stylesheets and scripts
	Minify bool
	// Layout template shared by every page, relative to the template FS
	Layout string
	// Glob matching page templates, relative to the template FS
	PageGlob string
	// Glob matching partial templates available to every page
	PartialGlob string
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Prefix:      "/static/",
		Minify:      true,
		Layout:      "layout.html",
		PageGlob:    "pages/*.html",
		PartialGlob: "partials/*.html",
	}
}
