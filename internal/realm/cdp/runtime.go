package cdp

// Names of the bindings the in-page runtime reports through.
const (
	createBinding = "__sdkdebuggerCreate"
	callBinding   = "__sdkdebuggerCall"
)

// fnMarker tags exported function values.
const fnMarker = "__sdkdebuggerFn"

// stubBody is served in place of a redirected SDK script. The entry point is
// installed over CDP before the body is delivered, so the body itself is inert.
const stubBody = "/* sdkdebugger component stub */\n"

// runtimeJS installs window.__sdkdebugger, the page half of the realm.
// It runs on every new document and once on the current one.
const runtimeJS = `function () {
  if (window.__sdkdebugger) { return; }

  var pending = {};
  var seq = 0;
  var maxDepth = 8;

  function exportValue(v, depth) {
    if (v === undefined || v === null) { return null; }
    if (typeof v === 'function') {
      var fn = {};
      fn['` + fnMarker + `'] = v.name || '';
      return fn;
    }
    if (typeof v === 'bigint' || typeof v === 'symbol') { return String(v); }
    if (typeof v !== 'object') { return v; }
    if (depth >= maxDepth) { return '[Object]'; }
    if (v instanceof Error) { return String(v); }
    if (typeof Promise !== 'undefined' && v instanceof Promise) { return '[Promise]'; }
    if (Array.isArray(v)) {
      return v.map(function (item) { return exportValue(item, depth + 1); });
    }
    var out = {};
    Object.keys(v).forEach(function (key) {
      try { out[key] = exportValue(v[key], depth + 1); } catch (e) { out[key] = String(e); }
    });
    return out;
  }

  window.__sdkdebugger = {
    exportValue: function (v) { return exportValue(v, 0); },

    create: function (name, args) {
      var id = ++seq;
      var callback = args.length > 1 && typeof args[args.length - 1] === 'function' ? args[args.length - 1] : null;
      var promise = new Promise(function (resolve, reject) {
        pending[id] = { options: args[0], resolve: resolve, reject: reject };
      });
      window.` + createBinding + `({
        id: id,
        name: name,
        args: args.map(function (a) { return exportValue(a, 0); }),
        callback: !!callback
      });
      if (callback) {
        promise.then(function (v) { callback(null, v); }, function (e) { callback(e); });
      }
      return promise;
    },

    options: function (id) { return pending[id] ? pending[id].options : undefined; },

    settle: function (id, ok, value) {
      var entry = pending[id];
      if (!entry) { return; }
      delete pending[id];
      if (ok) { entry.resolve(value); } else { entry.reject(value); }
    },

    install: function (ns, name, version, capabilities) {
      var root = window[ns] = window[ns] || {};
      var ep = {
        VERSION: version,
        create: function () { return window.__sdkdebugger.create(name, Array.prototype.slice.call(arguments)); }
      };
      Object.keys(capabilities || {}).forEach(function (key) {
        var value = capabilities[key];
        ep[key] = function () { return value; };
      });
      root[name] = ep;
    },

    wrap: function (target, wrapID) {
      return new Proxy(target, {
        get: function (t, prop, receiver) {
          var value = Reflect.get(t, prop, receiver);
          if (typeof value !== 'function' || typeof prop !== 'string') { return value; }
          return function () {
            var args = Array.prototype.slice.call(arguments);
            window.` + callBinding + `({
              wrap: wrapID,
              name: prop,
              args: args.map(function (a) { return exportValue(a, 0); })
            });
            return value.apply(this, args);
          };
        }
      });
    }
  };
}`

const (
	jsInstall = `(ns, name, version, capabilities) => window.__sdkdebugger.install(ns, name, version, capabilities)`

	jsRemove = `(ns, name) => { if (window[ns]) { delete window[ns][name]; } }`

	jsLoadScript = `(src) => new Promise((resolve, reject) => {
  const s = document.createElement('script');
  s.src = src;
  s.onload = () => resolve();
  s.onerror = () => reject(new Error('failed to load ' + src));
  (document.head || document.documentElement).appendChild(s);
})`

	jsHasEntryPoint = `(ns, name) => !!(window[ns] && window[ns][name] && typeof window[ns][name].create === 'function')`

	jsCreateReal = `(ns, name, options) => window[ns][name].create(options)`

	jsCreateOptions = `(id) => window.__sdkdebugger.options(id)`

	jsSettle = `(id, ok, value) => window.__sdkdebugger.settle(id, ok, value)`

	jsSettleError = `(id, message) => window.__sdkdebugger.settle(id, false, new Error(message))`

	jsWrap = `(target, wrapID) => window.__sdkdebugger.wrap(target, wrapID)`

	jsProperty = `function (name) { return this[name]; }`

	jsCallMethod = `function (method) { return this[method](); }`

	jsIdentity = `(v) => v`

	jsExport = `(v) => window.__sdkdebugger.exportValue(v)`
)
