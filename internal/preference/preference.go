// Package preference resolves the effective dark-mode flag from the user's
// tri-state preference and the host's ambient light/dark signal.
package preference

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/muesli/termenv"
	"github.com/pedichat-go/internal/models"
)

// Resolve returns the effective dark flag for pref given the ambient signal
func Resolve(pref models.DarkModePreference, ambient bool) bool {
	switch pref {
	case models.DarkModeLight:
		return false
	case models.DarkModeDark:
		return true
	default:
		return ambient
	}
}

// Next advances system → light → dark → system
func Next(pref models.DarkModePreference) models.DarkModePreference {
	switch pref {
	case models.DarkModeSystem:
		return models.DarkModeLight
	case models.DarkModeLight:
		return models.DarkModeDark
	default:
		return models.DarkModeSystem
	}
}

// Parse maps a stored value to a preference; anything unknown is system
func Parse(value string) models.DarkModePreference {
	switch models.DarkModePreference(value) {
	case models.DarkModeLight, models.DarkModeDark:
		return models.DarkModePreference(value)
	default:
		return models.DarkModeSystem
	}
}

// DetectTerminal reports whether the terminal has a dark background
func DetectTerminal() bool {
	return termenv.HasDarkBackground()
}

// SystemDetector asks the desktop for its color scheme on every call and falls
// back to the terminal background sampled when the detector was built. The
// terminal is only queried once since the UI owns the tty afterwards.
func SystemDetector() func() bool {
	fallback := DetectTerminal()
	return func() bool {
		if dark, ok := desktopDark(); ok {
			return dark
		}
		return fallback
	}
}

func desktopDark() (bool, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	switch runtime.GOOS {
	case "darwin":
		// Exits non-zero when the light appearance is active
		out, err := exec.CommandContext(ctx, "defaults", "read", "-g", "AppleInterfaceStyle").Output()
		if err != nil {
			if _, exited := err.(*exec.ExitError); exited {
				return false, true
			}
			return false, false
		}
		return strings.Contains(strings.ToLower(string(out)), "dark"), true
	case "linux":
		out, err := exec.CommandContext(ctx, "gsettings", "get", "org.gnome.desktop.interface", "color-scheme").Output()
		if err != nil {
			return false, false
		}
		return strings.Contains(string(out), "dark"), true
	default:
		return false, false
	}
}

// Ambient holds the host's light/dark signal and fans out changes
type Ambient struct {
	mu     sync.Mutex
	dark   bool
	nextID uint64
	subs   map[uint64]func(bool)
}

// NewAmbient creates an ambient signal with an initial value
func NewAmbient(dark bool) *Ambient {
	return &Ambient{
		dark: dark,
		subs: make(map[uint64]func(bool)),
	}
}

// Dark returns the current ambient value
func (a *Ambient) Dark() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dark
}

// Set updates the signal and notifies subscribers when it changed
func (a *Ambient) Set(dark bool) {
	a.mu.Lock()
	if a.dark == dark {
		a.mu.Unlock()
		return
	}
	a.dark = dark
	callbacks := make([]func(bool), 0, len(a.subs))
	for _, fn := range a.subs {
		callbacks = append(callbacks, fn)
	}
	a.mu.Unlock()

	for _, fn := range callbacks {
		fn(dark)
	}
}

// Subscribe registers fn for every change. The returned cancel is idempotent.
func (a *Ambient) Subscribe(fn func(bool)) (cancel func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered callbacks
func (a *Ambient) Subscribers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// Watch polls detect every interval and publishes the result until ctx is done
func (a *Ambient) Watch(ctx context.Context, detect func() bool, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Set(detect())
		}
	}
}

// Resolver owns a preference and keeps the effective flag in sync with the
// ambient signal. It only listens to the signal while the preference is system.
type Resolver struct {
	ambient *Ambient

	mu          sync.Mutex
	pref        models.DarkModePreference
	effective   bool
	unsubscribe func()
	onChange    func(bool)
}

// NewResolver creates a resolver starting at the system preference
func NewResolver(ambient *Ambient) *Resolver {
	r := &Resolver{ambient: ambient}
	r.SetPreference(models.DarkModeSystem)
	return r
}

// OnChange registers a callback for effective value changes
func (r *Resolver) OnChange(fn func(bool)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Preference returns the current preference
func (r *Resolver) Preference() models.DarkModePreference {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pref
}

// Dark returns the effective flag
func (r *Resolver) Dark() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effective
}

// SetPreference changes the preference and recomputes the effective flag
func (r *Resolver) SetPreference(pref models.DarkModePreference) {
	r.mu.Lock()
	r.pref = pref
	if pref == models.DarkModeSystem && r.unsubscribe == nil {
		r.unsubscribe = r.ambient.Subscribe(r.ambientChanged)
	} else if pref != models.DarkModeSystem && r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	notify := r.update(Resolve(pref, r.ambient.Dark()))
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Cycle advances the preference and returns the new value
func (r *Resolver) Cycle() models.DarkModePreference {
	next := Next(r.Preference())
	r.SetPreference(next)
	return next
}

// Close drops the ambient subscription
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

func (r *Resolver) ambientChanged(dark bool) {
	r.mu.Lock()
	if r.pref != models.DarkModeSystem {
		r.mu.Unlock()
		return
	}
	notify := r.update(dark)
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// update must be called with mu held; it returns the notification to run after unlocking
func (r *Resolver) update(effective bool) func() {
	if r.effective == effective {
		return nil
	}
	r.effective = effective
	if r.onChange == nil {
		return nil
	}
	fn := r.onChange
	return func() { fn(effective) }
}
