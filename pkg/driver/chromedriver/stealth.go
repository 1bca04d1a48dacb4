package chromedriver

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthScript hides the most common headless tells before any page
// script runs.
const stealthScript = `
(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
  try { delete Object.getPrototypeOf(navigator).webdriver; } catch (e) {}

  Object.defineProperty(navigator, 'languages', {
    get: () => Object.freeze(['en-US', 'en']),
    configurable: true,
  });

  if (navigator.plugins.length === 0) {
    const fake = [{ name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer' }];
    Object.defineProperty(navigator, 'plugins', {
      get: () => Object.assign(fake, { item: (i) => fake[i] || null, namedItem: () => null, refresh: () => {} }),
      configurable: true,
    });
  }

  if (!window.chrome) {
    Object.defineProperty(window, 'chrome', { value: {}, writable: true, configurable: false });
  }
  if (!window.chrome.runtime) {
    window.chrome.runtime = { connect: () => {}, sendMessage: () => {} };
  }

  const query = Permissions.prototype.query;
  Permissions.prototype.query = function (p) {
    if (p && p.name === 'notifications') {
      return Promise.resolve({ state: Notification.permission });
    }
    return query.call(this, p);
  };

  const spoof = {
    apply(target, self, args) {
      if (args[0] === 37445) return 'Intel Inc.';
      if (args[0] === 37446) return 'Intel Iris OpenGL Engine';
      return Reflect.apply(target, self, args);
    },
  };
  for (const ctx of [window.WebGLRenderingContext, window.WebGL2RenderingContext]) {
    if (ctx) {
      try { ctx.prototype.getParameter = new Proxy(ctx.prototype.getParameter, spoof); } catch (e) {}
    }
  }

  if (!navigator.hardwareConcurrency) {
    Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 4, configurable: true });
  }
  if (!navigator.deviceMemory) {
    Object.defineProperty(navigator, 'deviceMemory', { get: () => 8, configurable: true });
  }
})();
`

// stealthFlags removes the automation switches sites check for.
func stealthFlags() []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("lang", "en-US,en"),
		chromedp.Flag("accept-lang", "en-US,en;q=0.9"),
	}
}

// injectStealth registers stealthScript for every new document in the tab.
func injectStealth() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})
}
