package browser

// Lookup scripts evaluated in the page. Patterns arrive as regexp source and
// are compiled case-insensitively.

const jsByText = `(css, pattern) => {
	const re = new RegExp(pattern, "i");
	return Array.from(document.querySelectorAll(css)).filter(el => {
		const text = (el.innerText || el.textContent || "").trim();
		return re.test(text) || re.test(el.getAttribute("aria-label") || "") || re.test(el.value || "");
	});
}`

const jsByLabel = `(pattern) => {
	const re = new RegExp(pattern, "i");
	const out = [];
	for (const label of document.querySelectorAll("label")) {
		if (!re.test((label.innerText || label.textContent || "").trim())) continue;
		let target = null;
		const id = label.getAttribute("for");
		if (id) target = document.getElementById(id);
		if (!target) target = label.querySelector("input, select, textarea");
		if (target) out.push(target);
	}
	for (const el of document.querySelectorAll("input, select, textarea, [role=combobox], [role=textbox]")) {
		const aria = el.getAttribute("aria-label") || "";
		const ph = el.getAttribute("placeholder") || "";
		if ((aria && re.test(aria)) || (ph && re.test(ph))) out.push(el);
	}
	return out;
}`

const jsNear = `(pattern, css) => {
	const re = new RegExp(pattern, "i");
	const out = [];
	const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_ELEMENT);
	while (walker.nextNode()) {
		const node = walker.currentNode;
		const own = Array.from(node.childNodes)
			.filter(n => n.nodeType === Node.TEXT_NODE)
			.map(n => n.textContent)
			.join(" ")
			.trim();
		if (!own || !re.test(own)) continue;
		let scope = node;
		for (let i = 0; i < 4 && scope; i++) {
			const hit = scope.querySelector(css);
			if (hit) { out.push(hit); break; }
			scope = scope.parentElement;
		}
	}
	return out;
}`

const jsSelect = `function (values) {
	const opts = Array.from(this.options || []);
	const want = values.map(v => String(v).toLowerCase().trim());
	const pick =
		opts.find(o => want.includes(o.value.toLowerCase())) ||
		opts.find(o => want.includes(o.text.toLowerCase().trim())) ||
		opts.find(o => want.some(w => w && o.text.toLowerCase().includes(w)));
	if (!pick) return false;
	this.value = pick.value;
	this.dispatchEvent(new Event("input", { bubbles: true }));
	this.dispatchEvent(new Event("change", { bubbles: true }));
	return true;
}`

// jsSetValue assigns a control's value directly; native date pickers ignore
// synthesized key input.
const jsSetValue = `function (v) {
	this.value = v;
	this.dispatchEvent(new Event("input", { bubbles: true }));
	this.dispatchEvent(new Event("change", { bubbles: true }));
}`
