// internal/inspector/script.go
package inspector

import "fmt"

// bindingName is the page-global function the instrumentation script reports through.
const bindingName = "formpilotInspectorReport"

// instrumentScript listens for clicks, control changes and form submits in
// capture phase and reports a typed payload for each. It installs itself once
// per document.
var instrumentScript = fmt.Sprintf(`(() => {
  if (window.__formpilotInspector) return;
  window.__formpilotInspector = true;
  const report = window[%[1]q];
  if (typeof report !== "function") return;
  const attr = (el, n) => (el.getAttribute && el.getAttribute(n)) || "";
  const labelOf = (el) => {
    if (el.labels && el.labels.length && el.labels[0].innerText) return el.labels[0].innerText;
    const closest = el.closest && el.closest("label");
    return attr(el, "aria-label") || attr(el, "name") || attr(el, "placeholder") ||
      (closest ? closest.innerText : "");
  };
  const describe = (kind, el) => ({
    kind: kind,
    tag: (el.tagName || "").toLowerCase(),
    id: el.id || "",
    name: attr(el, "name"),
    className: typeof el.className === "string" ? el.className : attr(el, "class"),
    type: attr(el, "type"),
    text: (el.innerText || el.textContent || "").trim().slice(0, 1000),
    label: (labelOf(el) || "").trim(),
    url: location.href,
  });
  const send = (kind, el) => {
    try {
      if (el && el.nodeType === 1) report(JSON.stringify(describe(kind, el)));
    } catch (e) {}
  };
  document.addEventListener("click", (e) => send("click", e.target), true);
  document.addEventListener("change", (e) => {
    const t = e.target;
    if (t && /^(INPUT|TEXTAREA|SELECT)$/.test(t.tagName)) send("input", t);
  }, true);
  document.addEventListener("submit", (e) => send("submit", e.target), true);
})()`, bindingName)
