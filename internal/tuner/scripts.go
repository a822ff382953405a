package tuner

import "fmt"

// Page scripts driving the provider's guide UI. Everything that inspects
// the DOM is evaluated in page context so the Go side only ever sees typed
// results; this keeps the matching logic testable against fixtures.

// guideEntriesScript snapshots the accessible name of every guide entry in
// document order.
const guideEntriesScript = `(() => {
	const sel = '[role="row"], [role="button"], [role="gridcell"] a, [data-testid*="guide"], [class*="guide"] [role="link"]';
	const seen = new Set();
	const out = [];
	let i = 0;
	for (const el of document.querySelectorAll(sel)) {
		if (seen.has(el)) continue;
		seen.add(el);
		const name = el.getAttribute('aria-label') || el.textContent || '';
		out.push({index: i++, name: name.trim().replace(/\s+/g, ' ')});
	}
	return out;
})()`

// clickGuideEntryScript clicks the nth element of the same snapshot the
// entries script produced.
func clickGuideEntryScript(index int) string {
	return fmt.Sprintf(`(() => {
	const sel = '[role="row"], [role="button"], [role="gridcell"] a, [data-testid*="guide"], [class*="guide"] [role="link"]';
	const seen = new Set();
	const els = [];
	for (const el of document.querySelectorAll(sel)) {
		if (seen.has(el)) continue;
		seen.add(el);
		els.push(el);
	}
	const el = els[%d];
	if (!el) return false;
	el.scrollIntoView({block: 'center'});
	el.click();
	return true;
})()`, index)
}

// scrollGuideScript pages the guide down one viewport.
const scrollGuideScript = `(() => { window.scrollBy(0, window.innerHeight); return window.scrollY; })()`

// noAiringsScript probes the visible text for the no-upcoming-airings notice.
const noAiringsScript = `(() => {
	const text = (document.body.innerText || '').toLowerCase();
	return text.includes('no upcoming airings');
})()`

// closeNoticeScript closes the topmost dialog/notice.
const closeNoticeScript = `(() => {
	for (const el of document.querySelectorAll('[aria-label="Close"], [aria-label="close"], button')) {
		const name = (el.getAttribute('aria-label') || el.textContent || '').trim().toLowerCase();
		if (name === 'close' || name === 'dismiss' || name === 'ok') { el.click(); return true; }
	}
	document.activeElement && document.activeElement.dispatchEvent(
		new KeyboardEvent('keydown', {key: 'Escape', bubbles: true}));
	return false;
})()`

// playControlScripts locate and click a play control, tried strictly in
// order. Each returns true iff it clicked something.
var playControlScripts = []string{
	// Accessible name containing play/watch/tune.
	`(() => {
	for (const el of document.querySelectorAll('button, [role="button"], a')) {
		const name = (el.getAttribute('aria-label') || el.textContent || '').toLowerCase();
		if (/\b(play|watch|tune)\b/.test(name)) { el.click(); return true; }
	}
	return false;
})()`,
	// SVG play glyph inside a clickable ancestor.
	`(() => {
	for (const svg of document.querySelectorAll('svg')) {
		const label = (svg.getAttribute('aria-label') || '').toLowerCase();
		const cls = (svg.getAttribute('class') || '').toLowerCase();
		if (!label.includes('play') && !cls.includes('play')) continue;
		const target = svg.closest('button, [role="button"], a, [onclick]');
		if (target) { target.click(); return true; }
	}
	return false;
})()`,
	// Row labelled "On Now".
	`(() => {
	for (const el of document.querySelectorAll('[role="row"], li, div')) {
		const text = (el.textContent || '');
		if (/\bOn Now\b/i.test(text)) { el.click(); return true; }
	}
	return false;
})()`,
	// First program row of a generic dialog whose text carries a HH:MM time.
	`(() => {
	const dialog = document.querySelector('[role="dialog"]');
	if (!dialog) return false;
	for (const el of dialog.querySelectorAll('[role="row"], li, a, button')) {
		if (/\b\d{1,2}:\d{2}\b/.test(el.textContent || '')) { el.click(); return true; }
	}
	return false;
})()`,
	// Legacy inline-style marker.
	`(() => {
	const el = document.querySelector('[style*="play-button"], [style*="playButton"]');
	if (el) { el.click(); return true; }
	return false;
})()`,
}

// videoStateScript reports the first video element's playback state.
const videoStateScript = `(() => {
	const v = document.querySelector('video');
	if (!v) return {found: false, readyState: 0, currentTime: 0, paused: true};
	return {found: true, readyState: v.readyState, currentTime: v.currentTime, paused: v.paused};
})()`

// unmutePlayScript attempts a programmatic unmute and play once.
const unmutePlayScript = `(() => {
	const v = document.querySelector('video');
	if (!v) return false;
	v.muted = false;
	v.volume = 1.0;
	const p = v.play();
	if (p && p.catch) p.catch(() => {});
	return true;
})()`

// fillViewportScript makes the playing video fill the capture display:
// unmute, fixed full-viewport placement, native controls hidden.
const fillViewportScript = `(() => {
	const v = document.querySelector('video');
	if (!v) return false;
	v.muted = false;
	v.volume = 1.0;
	v.controls = false;
	v.style.position = 'fixed';
	v.style.top = '0';
	v.style.left = '0';
	v.style.width = '100vw';
	v.style.height = '100vh';
	v.style.objectFit = 'contain';
	v.style.zIndex = '2147483647';
	v.style.background = '#000';
	document.documentElement.style.overflow = 'hidden';
	document.body.style.background = '#000';
	return true;
})()`

// videoState mirrors videoStateScript's result.
type videoState struct {
	Found       bool    `json:"found"`
	ReadyState  int     `json:"readyState"`
	CurrentTime float64 `json:"currentTime"`
	Paused      bool    `json:"paused"`
}
