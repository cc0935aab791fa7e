package browser

// Script interactions used when a native action is rejected. Each is a function
// whose this is the target element.
const (
	ScriptClick = `() => this.click()`

	ScriptSetValue = `(value) => {
		this.focus();
		this.value = value;
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`

	ScriptSelectOption = `(wanted) => {
		const opts = Array.from(this.options || []);
		const hit = opts.find(o => o.value === wanted) || opts.find(o => o.text.trim() === wanted);
		if (!hit) throw new Error('option not found: ' + wanted);
		this.value = hit.value;
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`

	ScriptSubmit = `() => {
		const opts = { key: 'Enter', code: 'Enter', keyCode: 13, bubbles: true };
		this.dispatchEvent(new KeyboardEvent('keydown', opts));
		this.dispatchEvent(new KeyboardEvent('keyup', opts));
		if (this.form) this.form.requestSubmit();
	}`
)

// Page level scripts.
const (
	ScriptScrollBottom = `() => window.scrollTo(0, document.body.scrollHeight)`
	ScriptScrollTop    = `() => window.scrollTo(0, 0)`
)
