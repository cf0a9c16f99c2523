package page

import (
	"log/slog"

	"webptt/internal/storewatch"
)

// Injected is the endpoint that lives inside the page. It owns the page
// store and reports shortcut and voice state changes on the bus.
type Injected struct {
	detector *storewatch.Detector
}

// Inject installs a change detector over store and announces the current
// state on bus. From then on page code must write through Store.
func Inject(store storewatch.Store, bus *Bus) *Injected {
	d := storewatch.NewDetector(store, bus.Publish)
	d.Prime()
	slog.Debug("[page] store detector installed", "broadcasting", d.Broadcasting())
	return &Injected{detector: d}
}

// Store is the patched store page code writes to.
func (i *Injected) Store() storewatch.Store {
	return i.detector
}

// Broadcasting reports the last composed broadcasting signal.
func (i *Injected) Broadcasting() bool {
	return i.detector.Broadcasting()
}
