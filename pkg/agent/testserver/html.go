package testserver

// basicPage paints immediately and finishes loading without further work.
const basicPage = `<!DOCTYPE html>
<html>
<head><title>pageagent test page</title></head>
<body>
<h1>pageagent test page</h1>
<p>Static content, no scripts.</p>
</body>
</html>`

// busyPage blocks the main thread for a caller-chosen number of
// milliseconds shortly after load, producing one long task.
const busyPage = `<!DOCTYPE html>
<html>
<head><title>busy page</title></head>
<body>
<h1>busy page</h1>
<script>
window.addEventListener('load', () => {
	setTimeout(() => {
		const until = performance.now() + %d;
		while (performance.now() < until) {}
	}, 100);
});
</script>
</body>
</html>`

// assetPage references a same-origin tracker script that block-list tests
// target.
const assetPage = `<!DOCTYPE html>
<html>
<head><title>asset page</title></head>
<body>
<h1>asset page</h1>
<script src="/assets/tracker.js"></script>
</body>
</html>`

// echoPage reflects the X-Test and X-Extra headers into the document so
// override tests can read them back from the page.
const echoPage = `<!DOCTYPE html>
<html>
<head><title>echo page</title></head>
<body>
<div id="x-test">%s</div>
<div id="x-extra">%s</div>
</body>
</html>`
