package browser

import (
	"context"
	"encoding/json"
	"fmt"
)

// probeInstallJS installs the in-page probes after navigation: a recurring
// frame callback that records main-thread gaps longer than 50ms as long
// tasks. State lives on a single window global so repeated installs reset
// cleanly.
const probeInstallJS = `() => {
	const s = window.__pageagent = { longTasks: [], last: performance.now() };
	const tick = (now) => {
		if (now - s.last > 50) s.longTasks.push([s.last, now]);
		s.last = now;
		requestAnimationFrame(tick);
	};
	requestAnimationFrame(tick);
	return true;
}`

// collectPageDataJS gathers the probe record: navigation-timing deltas
// relative to navigation start, paint entries by name, DOM element count
// and viewport size. Every source is independently guarded so an absent
// API degrades to omission, not failure.
const collectPageDataJS = `() => {
	const out = {};
	try {
		const nav = performance.getEntriesByType('navigation')[0];
		if (nav) {
			out['TTFB'] = nav.responseStart;
			out['domContentLoadedEventStart'] = nav.domContentLoadedEventStart;
			out['domContentLoadedEventEnd'] = nav.domContentLoadedEventEnd;
			out['loadEventStart'] = nav.loadEventStart;
			out['loadEventEnd'] = nav.loadEventEnd;
			out['domInteractive'] = nav.domInteractive;
		}
	} catch (e) {}
	try {
		for (const p of performance.getEntriesByType('paint')) {
			out['PerformancePaintTiming.' + p.name] = p.startTime;
		}
	} catch (e) {}
	try {
		if (window.chrome && window.chrome.loadTimes) {
			const lt = window.chrome.loadTimes();
			out['chromeUserTiming.firstPaint'] =
				Math.max(0, (lt.firstPaintTime - lt.startLoadTime) * 1000);
		}
	} catch (e) {}
	try { out['domElements'] = document.getElementsByTagName('*').length; } catch (e) {}
	try {
		out['viewportWidth'] = window.innerWidth;
		out['viewportHeight'] = window.innerHeight;
	} catch (e) {}
	return out;
}`

// drainLongTasksJS returns and clears the accumulated long-task intervals,
// as [start, end] pairs in milliseconds since the page time origin.
const drainLongTasksJS = `() => {
	const s = window.__pageagent;
	if (!s) return [];
	const tasks = s.longTasks;
	s.longTasks = [];
	return tasks;
}`

// InstallProbes injects the in-page probes. Call after each navigation;
// navigation replaces the document and the probe state with it.
func (s *Session) InstallProbes(ctx context.Context) error {
	_, err := s.Execute(ctx, probeInstallJS)
	if err != nil {
		return fmt.Errorf("installing probes: %w", err)
	}
	return nil
}

// CollectPageData fetches the numeric probe record. Non-numeric fields are
// dropped; a missing probe source is simply absent from the map.
func (s *Session) CollectPageData(ctx context.Context) (map[string]float64, error) {
	value, err := s.Execute(ctx, collectPageDataJS)
	if err != nil {
		return nil, fmt.Errorf("collecting page data: %w", err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("decoding page data: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decoding page data: %w", err)
	}
	data := make(map[string]float64, len(fields))
	for k, v := range fields {
		if n, ok := v.(float64); ok {
			data[k] = n
		}
	}
	return data, nil
}

// DrainLongTasks fetches and resets the probe's long-task intervals as
// [startMs, endMs] pairs relative to the page time origin.
func (s *Session) DrainLongTasks(ctx context.Context) ([][2]float64, error) {
	value, err := s.Execute(ctx, drainLongTasksJS)
	if err != nil {
		return nil, fmt.Errorf("draining long tasks: %w", err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("decoding long tasks: %w", err)
	}
	var tasks [][2]float64
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("decoding long tasks: %w", err)
	}
	return tasks, nil
}
