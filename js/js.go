// Package js holds the scripts executed in the browser. Each script is a
// function body reading its parameters from arguments[n], the convention of
// WebDriver's execute script. A nil scroll root argument means the
// document's scrolling element.
package js

import (
	"fmt"
	"strings"
)

// ScrollRootMarkerAttr is the attribute written by MarkScrollRoot.
const ScrollRootMarkerAttr = "data-vrt-scroll-root"

const scrollRoot = `var el = arguments[0] || document.scrollingElement || document.documentElement;`

// GetViewportSize returns [width, height] of the layout viewport.
const GetViewportSize = `var w = 0, h = 0;
if (window.innerHeight) { h = window.innerHeight; } else if (document.documentElement && document.documentElement.clientHeight) { h = document.documentElement.clientHeight; } else if (document.body) { h = document.body.clientHeight; }
if (window.innerWidth) { w = window.innerWidth; } else if (document.documentElement && document.documentElement.clientWidth) { w = document.documentElement.clientWidth; } else if (document.body) { w = document.body.clientWidth; }
return [w, h];`

// GetDevicePixelRatio returns window.devicePixelRatio.
const GetDevicePixelRatio = `return window.devicePixelRatio || 1;`

// GetScrollPosition returns [scrollLeft, scrollTop] of arguments[0].
const GetScrollPosition = scrollRoot + `
return [Math.round(el.scrollLeft), Math.round(el.scrollTop)];`

// ScrollTo scrolls arguments[0] to (arguments[1], arguments[2]) and returns
// the resulting [scrollLeft, scrollTop].
const ScrollTo = scrollRoot + `
el.scrollLeft = arguments[1];
el.scrollTop = arguments[2];
return [Math.round(el.scrollLeft), Math.round(el.scrollTop)];`

// GetTransforms returns the inline transform style values of arguments[0].
const GetTransforms = scrollRoot + `
return {transform: el.style.transform || '', webkitTransform: el.style.webkitTransform || ''};`

// SetTransforms writes every key of arguments[1] into the style of arguments[0].
const SetTransforms = scrollRoot + `
var t = arguments[1];
Object.keys(t).forEach(function (k) { el.style[k] = t[k]; });
return null;`

// GetEntireSize returns [width, height] of the scrollable content of arguments[0].
const GetEntireSize = scrollRoot + `
if (el === document.scrollingElement || el === document.documentElement) {
  var b = document.body || el, d = document.documentElement;
  return [Math.max(d.scrollWidth, b.scrollWidth, d.clientWidth), Math.max(d.scrollHeight, b.scrollHeight, d.clientHeight)];
}
return [el.scrollWidth, el.scrollHeight];`

// GetOverflow returns the inline overflow style of arguments[0].
const GetOverflow = scrollRoot + `
return el.style.overflow || '';`

// SetOverflow sets the inline overflow style of arguments[0] to arguments[1]
// and returns the previous value.
const SetOverflow = scrollRoot + `
var prev = el.style.overflow || '';
el.style.overflow = arguments[1];
return prev;`

// MarkScrollRoot writes ScrollRootMarkerAttr=arguments[1] on arguments[0].
const MarkScrollRoot = scrollRoot + `
el.setAttribute('` + ScrollRootMarkerAttr + `', arguments[1]);
return null;`

// untranslated measures the bounding rect of el without the inline
// translations of el and its ancestors, which are part of the inner offset.
const untranslated = `var el = arguments[0], r = el.getBoundingClientRect();
var s = document.scrollingElement || document.documentElement;
var tx = 0, ty = 0;
for (var a = el; a; a = a.parentElement) {
  var t = a.style && (a.style.transform || a.style.webkitTransform);
  if (!t || t === 'none') { continue; }
  try { var m = new DOMMatrixReadOnly(t); tx += m.m41; ty += m.m42; } catch (e) {}
}
var x = r.left + s.scrollLeft - tx, y = r.top + s.scrollTop - ty;`

// GetElementRect returns [x, y, width, height] of the border box of
// arguments[0] in document coordinates of its browsing context.
const GetElementRect = untranslated + `
return [Math.round(x), Math.round(y), Math.round(r.width), Math.round(r.height)];`

// GetElementClientRect returns [x, y, width, height] of the padding box of
// arguments[0] (borders and scrollbars excluded) in document coordinates.
const GetElementClientRect = untranslated + `
return [Math.round(x + el.clientLeft), Math.round(y + el.clientTop), el.clientWidth, el.clientHeight];`

// IsScrollable reports whether arguments[0] has content beyond its client box.
const IsScrollable = `var el = arguments[0];
return el.scrollHeight > el.clientHeight || el.scrollWidth > el.clientWidth;`

// GetUserAgent returns navigator.userAgent.
const GetUserAgent = `return navigator.userAgent;`

// FrameSelector matches every frame element.
const FrameSelector = "frame, iframe"

// NameOrIDSelector matches frame elements whose name or id is name.
func NameOrIDSelector(name string) string {
	q := quote(name)
	return fmt.Sprintf(`iframe[name=%s], frame[name=%s], iframe[id=%s], frame[id=%s]`, q, q, q, q)
}

// ScrollRootMarkerSelector matches the element marked by MarkScrollRoot with id.
func ScrollRootMarkerSelector(id string) string {
	return fmt.Sprintf(`[%s=%s]`, ScrollRootMarkerAttr, quote(id))
}

func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
