// Package settings resolves and applies Morphic solution settings.
//
// A Solutions registry holds every known Solution. A Solution is an ordered
// list of setting Groups; each Group owns exactly one Handler (the adapter
// that reads and writes a backing store such as the registry, an ini file,
// or the remote preference service) and the Settings that share it.
//
// # Layout
//
//	Solutions ─┬─ Solution "com.microsoft.windows.highContrast"
//	           │    ├─ Group (registry handler) ── Setting "enabled"
//	           │    └─ Group (ini handler)      ─┬─ Setting "theme"
//	           │                                 └─ Setting "scheme"
//	           └─ Solution ...
//
// # Values
//
// Handlers never return errors for I/O failures. A failed capture or apply
// is logged by the handler and reported as a boolean, so Setting.GetValue
// falls back to the zero value of the setting's DataType and SetValue
// returns false. Structural problems (unknown ids, duplicate setting ids,
// malformed range limits) are returned as errors.
//
// # Ranges
//
// Numeric settings may declare a Range whose bounds are Limits. A Limit is
// either a literal or an expression of the form
//
//	settingId [ (+|-) increment ] [ ? default ]
//
// which resolves against another setting of the same solution (or a
// "solution/setting" compound id) and falls back to the default, itself a
// Limit, when that setting has no value.
//
// # Change monitoring
//
// Setting.OnChanged subscribes a listener. The first subscription of a
// setting asks its Group to start monitoring it through the configured
// Monitor; stopping the last subscription stops the monitor again.
package settings
