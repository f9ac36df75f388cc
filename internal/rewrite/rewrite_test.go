package rewrite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyIfNeededSkipsUnmatchedContentType(t *testing.T) {
	t.Parallel()

	body := []byte(`{"src":"/a.png"}`)
	out, rewritten := ApplyIfNeeded("application/json", body, "brave-otter-1")
	assert.False(t, rewritten)
	assert.Equal(t, body, out)
}

func TestRewriteHTMLInjectsShimAndRewritesAttrsAndModules(t *testing.T) {
	t.Parallel()

	body := []byte(`<!doctype html><html><head><title>x</title></head><body><img src="/a.png"><script type="module">import x from "/m.js"</script></body></html>`)
	out, rewritten := ApplyIfNeeded("text/html; charset=utf-8", body, "my-app")
	require.True(t, rewritten)

	s := string(out)
	assert.Contains(t, s, shimGuardVar)
	assert.Contains(t, s, `<base href="/t/my-app/">`)
	assert.Contains(t, s, `<img src="/t/my-app/a.png">`)
	assert.Contains(t, s, `import x from "/t/my-app/m.js"`)

	shimIdx := strings.Index(s, "<head")
	require.GreaterOrEqual(t, shimIdx, 0)
	assert.Less(t, strings.Index(s, `<base href`), strings.Index(s, "<title>"))
}

func TestRewriteHTMLIdempotent(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><head></head><body><img src="/a.png"></body></html>`)
	once := RewriteHTML(body, "my-app", "/t/my-app")
	twice := RewriteHTML(once, "my-app", "/t/my-app")
	assert.Equal(t, once, twice)
}

func TestProtocolRelativeURLUntouched(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><head></head><body><script src="//cdn.example/x.js"></script></body></html>`)
	out, _ := ApplyIfNeeded("text/html", body, "my-app")
	assert.Contains(t, string(out), `src="//cdn.example/x.js"`)
}

func TestRewriteCSSURLAndImport(t *testing.T) {
	t.Parallel()

	body := []byte(`@import "/base.css"; .x { background: url(/img/a.png); }`)
	out, rewritten := ApplyIfNeeded("text/css", body, "s1")
	require.True(t, rewritten)
	assert.Contains(t, string(out), `@import "/t/s1/base.css"`)
	assert.Contains(t, string(out), `url(/t/s1/img/a.png)`)
}

func TestRewriteCSSLeavesAlreadyPrefixedURLs(t *testing.T) {
	t.Parallel()

	body := []byte(`.x { background: url(/t/s1/img/a.png); }`)
	out, rewritten := ApplyIfNeeded("text/css", body, "s1")
	assert.False(t, rewritten)
	assert.Equal(t, body, out)
}

func TestRewriteScriptFetchAndNewURL(t *testing.T) {
	t.Parallel()

	body := []byte(`fetch("/api/things"); const u = new URL("/thing");`)
	out, rewritten := ApplyIfNeeded("application/javascript", body, "s1")
	require.True(t, rewritten)
	assert.Contains(t, string(out), `fetch("/t/s1/api/things")`)
	assert.Contains(t, string(out), `new URL("/t/s1/thing")`)
}

func TestRewriteScriptDynamicImport(t *testing.T) {
	t.Parallel()

	body := []byte(`import("/lazy.js").then(m => m.init())`)
	out, _ := ApplyIfNeeded("text/javascript", body, "s1")
	assert.Contains(t, string(out), `import("/t/s1/lazy.js")`)
}

func TestURLShouldRewritePredicate(t *testing.T) {
	t.Parallel()

	assert.True(t, urlShouldRewrite("/a.png", "/t/s1"))
	assert.False(t, urlShouldRewrite("//cdn.example/x.js", "/t/s1"))
	assert.False(t, urlShouldRewrite("/t/s1/a.png", "/t/s1"))
	assert.False(t, urlShouldRewrite("https://example.com/a.png", "/t/s1"))
	assert.False(t, urlShouldRewrite("relative.png", "/t/s1"))
}

func TestApplyIfNeededPassesThroughNonUTF8(t *testing.T) {
	t.Parallel()

	body := []byte{0xff, 0xfe, 0x00}
	out, rewritten := ApplyIfNeeded("text/html", body, "s1")
	assert.False(t, rewritten)
	assert.Equal(t, body, out)
}

func TestApplyIfNeededEmptyBody(t *testing.T) {
	t.Parallel()

	out, rewritten := ApplyIfNeeded("text/html", nil, "s1")
	assert.False(t, rewritten)
	assert.Nil(t, out)
}
