// Package rewrite adapts absolute-path HTML/JS/CSS bodies emitted by an
// app built for a root mount so they keep working when served under a
// tunnel's `/t/<slug>/` prefix. It is regex-based and operates on a single
// in-memory buffer rather than streaming, by explicit design: these bodies
// are expected to be small enough (dev-server assets) that a parser
// dependency buys nothing a couple of targeted regexes don't already give,
// and a streaming rewrite would have to buffer on suspicious boundary
// cases anyway (a split `<scr` + `ipt>` across chunks).
package rewrite

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// attrNames lists the HTML attributes whose root-absolute values get
// prefixed, per the attribute rewrite rule.
var attrNames = []string{"src", "href", "action", "srcset", "data-src", "content"}

var attrRewriteRe = regexp.MustCompile(
	`(?i)\b(` + strings.Join(attrNames, "|") + `)(\s*=\s*)(["'])(/[^"'/][^"']*)(["'])`,
)

var cssURLRe = regexp.MustCompile(`url\(\s*(["']?)(/[^"'/)][^"')]*)(["']?)\s*\)`)
var cssImportRe = regexp.MustCompile(`@import\s+(["'])(/[^"'/][^"']*)(["'])`)

var moduleScriptRe = regexp.MustCompile(`(?is)(<script\b[^>]*\btype\s*=\s*["']module["'][^>]*>)(.*?)(</script>)`)

var fromImportRe = regexp.MustCompile(`\bfrom\s+(["'])(/[^"'/][^"']*)(["'])`)
var sideEffectImportRe = regexp.MustCompile(`\bimport\s+(["'])(/[^"'/][^"']*)(["'])`)
var dynamicImportRe = regexp.MustCompile(`\bimport\(\s*(["'])(/[^"'/][^"']*)(["'])`)
var fetchCallRe = regexp.MustCompile(`\bfetch\(\s*(["'])(/[^"'/][^"']*)(["'])`)
var newURLRe = regexp.MustCompile(`\bnew\s+URL\(\s*(["'])(/[^"'/][^"']*)(["'])`)
var sourceMapRe = regexp.MustCompile(`//#\s*sourceMappingURL=(/[^\s"'/][^\s"']*)`)

var headOpenRe = regexp.MustCompile(`(?i)<head[^>]*>`)

const shimGuardVar = "__tunnelmuxShimInstalled"

// ApplyIfNeeded runs the rewriter on body if contentType matches one of
// the triggering substrings (text/html, javascript, typescript, text/css);
// otherwise body is returned unmodified. rewritten reports whether the
// buffer changed (so the caller knows whether Content-Length needs
// recomputing).
func ApplyIfNeeded(contentType string, body []byte, slug string) (out []byte, rewritten bool) {
	if len(body) == 0 {
		return body, false
	}
	if !utf8.Valid(body) {
		return body, false
	}

	prefix := "/t/" + slug

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/html"):
		out = RewriteHTML(body, slug, prefix)
	case strings.Contains(ct, "javascript"), strings.Contains(ct, "typescript"):
		out = RewriteScript(body, prefix)
	case strings.Contains(ct, "text/css"):
		out = RewriteCSS(body, prefix)
	default:
		return body, false
	}

	return out, !bytes.Equal(out, body)
}

// urlShouldRewrite reports whether a captured URL is root-absolute (exactly
// one leading '/', not a protocol-relative "//...") and not already under
// the tunnel's prefix.
func urlShouldRewrite(url, prefix string) bool {
	if !strings.HasPrefix(url, "/") || strings.HasPrefix(url, "//") {
		return false
	}
	if url == prefix || strings.HasPrefix(url, prefix+"/") {
		return false
	}
	return true
}

// RewriteHTML applies the attribute rewrite, inline-module rewrite, and
// shim/base injection passes over an HTML document.
func RewriteHTML(body []byte, slug, prefix string) []byte {
	out := rewriteAttrs(body, prefix)
	out = moduleScriptRe.ReplaceAllFunc(out, func(block []byte) []byte {
		m := moduleScriptRe.FindSubmatch(block)
		open, inner, closeTag := m[1], m[2], m[3]
		rewritten := rewriteModuleSpecifiers(inner, prefix)
		return append(append(append([]byte{}, open...), rewritten...), closeTag...)
	})
	out = injectBaseAndShim(out, slug, prefix)
	return out
}

func rewriteAttrs(body []byte, prefix string) []byte {
	out := attrRewriteRe.ReplaceAllFunc(body, func(m []byte) []byte {
		sub := attrRewriteRe.FindSubmatch(m)
		name, eq, q1, url, q2 := sub[1], sub[2], sub[3], string(sub[4]), sub[5]
		if !urlShouldRewrite(url, prefix) {
			return m
		}
		return []byte(fmt.Sprintf("%s%s%s%s%s", name, eq, q1, prefix+url, q2))
	})
	out = cssURLRe.ReplaceAllFunc(out, func(m []byte) []byte {
		sub := cssURLRe.FindSubmatch(m)
		q1, url, q2 := string(sub[1]), string(sub[2]), string(sub[3])
		if !urlShouldRewrite(url, prefix) {
			return m
		}
		return []byte("url(" + q1 + prefix + url + q2 + ")")
	})
	return out
}

func rewriteModuleSpecifiers(src []byte, prefix string) []byte {
	out := fromImportRe.ReplaceAllFunc(src, func(m []byte) []byte {
		sub := fromImportRe.FindSubmatch(m)
		q, url := string(sub[1]), string(sub[2])
		if !urlShouldRewrite(url, prefix) {
			return m
		}
		return []byte("from " + q + prefix + url + q)
	})
	out = sideEffectImportRe.ReplaceAllFunc(out, func(m []byte) []byte {
		sub := sideEffectImportRe.FindSubmatch(m)
		q, url := string(sub[1]), string(sub[2])
		if !urlShouldRewrite(url, prefix) {
			return m
		}
		return []byte("import " + q + prefix + url + q)
	})
	out = dynamicImportRe.ReplaceAllFunc(out, func(m []byte) []byte {
		sub := dynamicImportRe.FindSubmatch(m)
		q, url := string(sub[1]), string(sub[2])
		if !urlShouldRewrite(url, prefix) {
			return m
		}
		return []byte("import(" + q + prefix + url + q)
	})
	return out
}

// RewriteScript applies the standalone-script rewrite passes: import
// specifiers, fetch()/new URL() calls, and the source map comment.
func RewriteScript(body []byte, prefix string) []byte {
	out := rewriteModuleSpecifiers(body, prefix)
	out = fetchCallRe.ReplaceAllFunc(out, func(m []byte) []byte {
		sub := fetchCallRe.FindSubmatch(m)
		q, url := string(sub[1]), string(sub[2])
		if !urlShouldRewrite(url, prefix) {
			return m
		}
		return []byte("fetch(" + q + prefix + url + q)
	})
	out = newURLRe.ReplaceAllFunc(out, func(m []byte) []byte {
		sub := newURLRe.FindSubmatch(m)
		q, url := string(sub[1]), string(sub[2])
		if !urlShouldRewrite(url, prefix) {
			return m
		}
		return []byte("new URL(" + q + prefix + url + q)
	})
	out = sourceMapRe.ReplaceAllFunc(out, func(m []byte) []byte {
		sub := sourceMapRe.FindSubmatch(m)
		url := string(sub[1])
		if !urlShouldRewrite(url, prefix) {
			return m
		}
		return []byte("//# sourceMappingURL=" + prefix + url)
	})
	return out
}

// RewriteCSS applies the url()/@import rewrite passes.
func RewriteCSS(body []byte, prefix string) []byte {
	out := cssURLRe.ReplaceAllFunc(body, func(m []byte) []byte {
		sub := cssURLRe.FindSubmatch(m)
		q1, url, q2 := string(sub[1]), string(sub[2]), string(sub[3])
		if !urlShouldRewrite(url, prefix) {
			return m
		}
		return []byte("url(" + q1 + prefix + url + q2 + ")")
	})
	out = cssImportRe.ReplaceAllFunc(out, func(m []byte) []byte {
		sub := cssImportRe.FindSubmatch(m)
		q, url := string(sub[1]), string(sub[2])
		if !urlShouldRewrite(url, prefix) {
			return m
		}
		return []byte("@import " + q + prefix + url + q)
	})
	return out
}

// injectBaseAndShim inserts a <base href> tag and the runtime shim as the
// first children of <head>, unless the shim guard is already present
// (idempotency: rewriting twice must yield identical bytes).
func injectBaseAndShim(body []byte, slug, prefix string) []byte {
	if bytes.Contains(body, []byte(shimGuardVar)) {
		return body
	}

	loc := headOpenRe.FindIndex(body)
	injection := []byte(fmt.Sprintf(`<base href="%s/">%s`, prefix, shimScript(prefix)))

	if loc == nil {
		return append(injection, body...)
	}

	out := make([]byte, 0, len(body)+len(injection))
	out = append(out, body[:loc[1]]...)
	out = append(out, injection...)
	out = append(out, body[loc[1]:]...)
	return out
}

func shimScript(prefix string) string {
	return fmt.Sprintf(`<script>(function(){
if (window.%[1]s) return;
window.%[1]s = true;
var PREFIX = %[2]q;
function rw(u) {
  if (typeof u !== "string") return u;
  if (u.length < 1 || u[0] !== "/" || (u.length > 1 && u[1] === "/")) return u;
  if (u === PREFIX || u.indexOf(PREFIX + "/") === 0) return u;
  return PREFIX + u;
}
var origFetch = window.fetch;
if (origFetch) {
  window.fetch = function(input, init) {
    if (typeof input === "string") input = rw(input);
    else if (input && input.url) input = new Request(rw(input.url), input);
    return origFetch.call(this, input, init);
  };
}
var origOpen = XMLHttpRequest.prototype.open;
XMLHttpRequest.prototype.open = function(method, url) {
  arguments[1] = rw(url);
  return origOpen.apply(this, arguments);
};
var origPush = history.pushState;
history.pushState = function(state, title, url) {
  return origPush.call(this, state, title, rw(url));
};
var origReplace = history.replaceState;
history.replaceState = function(state, title, url) {
  return origReplace.call(this, state, title, rw(url));
};
function patchSetter(proto, prop) {
  var d = Object.getOwnPropertyDescriptor(proto, prop);
  if (!d || !d.set) return;
  Object.defineProperty(proto, prop, {
    get: d.get,
    set: function(v) { d.set.call(this, rw(v)); },
    configurable: true,
  });
}
patchSetter(HTMLImageElement.prototype, "src");
patchSetter(HTMLScriptElement.prototype, "src");
patchSetter(HTMLLinkElement.prototype, "href");
var OrigWebSocket = window.WebSocket;
if (OrigWebSocket) {
  window.WebSocket = function(url, protocols) {
    try {
      if (typeof url === "string" && url[0] === "/" && url[1] !== "/") {
        var scheme = location.protocol === "https:" ? "wss:" : "ws:";
        url = scheme + "//" + location.host + rw(url);
      }
      return protocols === undefined ? new OrigWebSocket(url) : new OrigWebSocket(url, protocols);
    } catch (e) {
      return {
        readyState: 3,
        send: function() {},
        close: function() {},
        addEventListener: function() {},
        removeEventListener: function() {},
        onopen: null, onclose: null, onmessage: null, onerror: null,
      };
    }
  };
  window.WebSocket.prototype = OrigWebSocket.prototype;
  window.WebSocket.CONNECTING = 0;
  window.WebSocket.OPEN = 1;
  window.WebSocket.CLOSING = 2;
  window.WebSocket.CLOSED = 3;
}
var OrigEventSource = window.EventSource;
if (OrigEventSource) {
  window.EventSource = function(url, opts) {
    return new OrigEventSource(rw(url), opts);
  };
  window.EventSource.prototype = OrigEventSource.prototype;
}
})();</script>`, shimGuardVar, prefix)
}
