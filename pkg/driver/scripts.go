package driver

// Function bodies shared by the browser backends. Each runs with el bound
// to the element and returns its result; FillScript also reads the value
// to fill from v.
const (
	VisibleScript = `
const s = getComputedStyle(el);
if (s.visibility === 'hidden' || s.display === 'none') return false;
const r = el.getBoundingClientRect();
return r.width > 0 && r.height > 0;`

	EnabledScript = `
if (el.disabled) return false;
if (el.getAttribute('aria-disabled') === 'true') return false;
if (el.classList.contains('disabled')) return false;
return !el.closest('fieldset[disabled]');`

	TextScript = `
if (['SCRIPT', 'STYLE', 'NOSCRIPT', 'TEMPLATE'].includes(el.tagName)) return el.textContent || '';
return el.innerText ?? el.textContent ?? '';`

	CheckedScript = `return !!el.checked || el.getAttribute('aria-checked') === 'true';`

	// FillScript selects an option by value then label and returns
	// "select", clears a text control, focuses it and returns "text", or
	// returns "unsupported".
	FillScript = `
const fire = (t) => el.dispatchEvent(new Event(t, {bubbles: true}));
if (el.tagName === 'SELECT') {
  const opts = Array.from(el.options);
  const opt = opts.find(o => o.value === v) || opts.find(o => o.label === v || o.text.trim() === v);
  if (!opt) throw new Error('no option ' + JSON.stringify(v));
  el.value = opt.value;
  fire('input');
  fire('change');
  return 'select';
}
if (el.tagName === 'INPUT' || el.tagName === 'TEXTAREA' || el.isContentEditable) {
  el.focus();
  if ('value' in el) el.value = ''; else el.textContent = '';
  fire('input');
  return 'text';
}
return 'unsupported';`

	// ChangeScript fires the change event after typing.
	ChangeScript = `el.dispatchEvent(new Event('change', {bubbles: true})); return true;`
)
