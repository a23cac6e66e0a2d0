// internal/browser/scripts.go
package browser

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// refAttribute tags elements resolved by the locate scripts so chromedp can
// address them with a plain CSS query afterwards.
const refAttribute = "data-formpilot-ref"

// elementAtScript describes the element under a viewport point. Arguments are
// substituted with fmt: x, y, text limit.
const elementAtScript = `((x, y, limit) => {
  const el = document.elementFromPoint(x, y);
  if (!el || el === document.documentElement) return { found: false };
  const r = el.getBoundingClientRect();
  const cls = typeof el.className === "string" ? el.className : (el.getAttribute("class") || "");
  const text = (el.innerText || el.textContent || "").trim().slice(0, limit);
  const closest = el.closest("label");
  const label = ((el.labels && el.labels[0] && el.labels[0].innerText) ||
    el.getAttribute("aria-label") || el.getAttribute("name") || el.getAttribute("placeholder") ||
    (closest && closest.innerText) || "").trim().slice(0, limit);
  return {
    found: true,
    element: {
      tag: el.tagName.toLowerCase(),
      id: el.id || "",
      name: el.getAttribute("name") || "",
      className: cls,
      type: el.getAttribute("type") || "",
      value: typeof el.value === "string" ? el.value : "",
      text: text,
      label: label,
      rect: { x: r.x, y: r.y, width: r.width, height: r.height },
    },
  };
})(%f, %f, %d)`

// locateFieldScript resolves a form control from a list of labels. Arguments:
// JSON array of labels, ref attribute, ref value. It returns the ref value or "".
const locateFieldScript = `((labels, attr, ref) => {
  const controls = "input, textarea, select";
  const visible = (el) => !!(el && (el.offsetParent !== null || el.getClientRects().length));
  const tag = (el) => { el.setAttribute(attr, ref); el.scrollIntoView({ block: "center" }); return ref; };
  const looksLikeSelector = (s) => /^[#.\[]/.test(s);
  for (const raw of labels) {
    const label = (raw || "").trim();
    if (!label) continue;
    if (looksLikeSelector(label)) {
      try {
        const el = document.querySelector(label);
        if (el) return tag(el);
      } catch (e) {}
      continue;
    }
    const lower = label.toLowerCase();
    for (const l of document.querySelectorAll("label")) {
      if (!(l.innerText || "").toLowerCase().includes(lower)) continue;
      const forId = l.getAttribute("for");
      let el = forId ? document.getElementById(forId) : null;
      if (!el) el = l.querySelector(controls);
      if (!el && l.parentElement) el = l.parentElement.querySelector(controls);
      if (el) return tag(el);
    }
    const esc = label.replace(/"/g, '\\"');
    const normalized = lower.replace(/\s+/g, "_").replace(/"/g, '\\"');
    const candidates = [
      'input[placeholder*="' + esc + '"]',
      'textarea[placeholder*="' + esc + '"]',
      'input[aria-label*="' + esc + '"]',
      'input[name*="' + normalized + '"]',
      'textarea[name*="' + normalized + '"]',
      'select[name*="' + normalized + '"]',
    ];
    for (const sel of candidates) {
      const all = Array.from(document.querySelectorAll(sel));
      const el = all.find(visible) || all[0];
      if (el) return tag(el);
    }
  }
  return "";
})(%s, %s, %s)`

// locateClickableScript resolves a click target given as a CSS selector or as
// visible text. Arguments: target string, ref attribute, ref value.
const locateClickableScript = `((target, attr, ref) => {
  const t = (target || "").trim();
  if (!t) return "";
  const tag = (el) => { el.setAttribute(attr, ref); el.scrollIntoView({ block: "center" }); return ref; };
  const enabled = (el) => !el.disabled && el.getAttribute("aria-disabled") !== "true";
  try {
    const el = document.querySelector(t);
    if (el && enabled(el)) return tag(el);
  } catch (e) {}
  const norm = (s) => (s || "").replace(/\s+/g, " ").trim().toLowerCase();
  const want = norm(t);
  const pool = Array.from(document.querySelectorAll(
    'button, a, [role="button"], input[type="submit"], input[type="button"], label, summary'));
  const textOf = (el) => norm(el.innerText || el.value || el.getAttribute("aria-label") || "");
  const exact = pool.find((el) => enabled(el) && textOf(el) === want);
  if (exact) return tag(exact);
  const partial = pool.find((el) => enabled(el) && textOf(el).includes(want));
  if (partial) return tag(partial);
  return "";
})(%s, %s, %s)`

// clearRefScript removes a ref attribute set by a locate script. Arguments:
// ref attribute, ref value.
const clearRefScript = `((attr, ref) => {
  for (const el of document.querySelectorAll("[" + attr + "]")) {
    if (el.getAttribute(attr) === ref) el.removeAttribute(attr);
  }
  return true;
})(%s, %s)`

// setCheckedScript sets a checkbox or radio and fires the events frameworks listen to.
const setCheckedScript = `((sel, on) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  if (el.checked !== on) el.click();
  if (el.checked !== on) {
    el.checked = on;
    el.dispatchEvent(new Event("input", { bubbles: true }));
    el.dispatchEvent(new Event("change", { bubbles: true }));
  }
  return true;
})(%s, %s)`

// selectOptionScript picks an option by value or by visible text.
const selectOptionScript = `((sel, want) => {
  const el = document.querySelector(sel);
  if (!el || !el.options) return false;
  const opt = Array.from(el.options).find((o) => o.value === want || o.text.trim() === want);
  if (!opt) return false;
  el.value = opt.value;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return true;
})(%s, %s)`

// clearFieldScript empties a text control before typing.
const clearFieldScript = `((sel) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  el.focus();
  el.value = "";
  el.dispatchEvent(new Event("input", { bubbles: true }));
  return true;
})(%s)`

// selectorVisibleScript reports whether a selector matches a rendered element.
const selectorVisibleScript = `((sel) => {
  let el = null;
  try { el = document.querySelector(sel); } catch (e) { return false; }
  return !!(el && (el.offsetParent !== null || el.getClientRects().length));
})(%s)`

// textPresentScript reports whether the page's rendered text contains a string.
const textPresentScript = `((want) => {
  const body = document.body;
  return !!body && (body.innerText || "").includes(want);
})(%s)`

// jsLiteral renders v as a JavaScript literal for substitution into a script.
func jsLiteral(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
