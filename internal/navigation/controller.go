// Package navigation is the view router: one main view plus independent overlays.
package navigation

import (
	"errors"
	"fmt"
	"sync"
)

// View is the main screen
type View int

const (
	Landing View = iota
	LoginForm
	RegisterForm
	Authenticated
)

func (v View) String() string {
	switch v {
	case Landing:
		return "landing"
	case LoginForm:
		return "login"
	case RegisterForm:
		return "register"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("view(%d)", int(v))
	}
}

// ErrInvalidTransition is returned when an action does not apply to the current view
var ErrInvalidTransition = errors.New("invalid navigation transition")

// Point is a screen position
type Point struct {
	X, Y int
}

// ContextMenu is the per-session menu
type ContextMenu struct {
	At        Point
	SessionID int64
}

// State is a snapshot of the controller
type State struct {
	View             View
	LanguageSelector bool
	// LanguageForced is set when a first-time user must pick a language
	LanguageForced bool
	Settings       bool
	ContextMenu    *ContextMenu
}

// Controller is safe for concurrent use
type Controller struct {
	mu    sync.Mutex
	state State
}

// NewController starts on the landing view
func NewController() *Controller {
	return &Controller{state: State{View: Landing}}
}

// State returns a snapshot
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.ContextMenu != nil {
		menu := *s.ContextMenu
		s.ContextMenu = &menu
	}
	return s
}

// View returns the main view
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.View
}

func (c *Controller) transition(to View, from ...View) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range from {
		if c.state.View == f {
			c.state.View = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state.View, to)
}

// ShowLogin moves from the landing page to the login form
func (c *Controller) ShowLogin() error {
	return c.transition(LoginForm, Landing)
}

// ShowRegister moves from the landing page to the registration form
func (c *Controller) ShowRegister() error {
	return c.transition(RegisterForm, Landing)
}

// SwitchForm toggles between the login and registration forms
func (c *Controller) SwitchForm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state.View {
	case LoginForm:
		c.state.View = RegisterForm
	case RegisterForm:
		c.state.View = LoginForm
	default:
		return fmt.Errorf("%w: switch form from %s", ErrInvalidTransition, c.state.View)
	}
	return nil
}

// Authenticate enters the chat after a successful login or registration
func (c *Controller) Authenticate() error {
	return c.transition(Authenticated, LoginForm, RegisterForm)
}

// Restore enters the chat directly when a stored token is found at startup
func (c *Controller) Restore() error {
	return c.transition(Authenticated, Landing, Authenticated)
}

// Logout returns to the landing page and closes every overlay
func (c *Controller) Logout() {
	c.mu.Lock()
	c.state = State{View: Landing}
	c.mu.Unlock()
}

// OpenLanguageSelector shows the language overlay; forced marks first-time selection
func (c *Controller) OpenLanguageSelector(forced bool) {
	c.mu.Lock()
	c.state.LanguageSelector = true
	c.state.LanguageForced = forced && c.state.View == Authenticated
	c.mu.Unlock()
}

// CloseLanguageSelector hides the language overlay
func (c *Controller) CloseLanguageSelector() {
	c.mu.Lock()
	c.state.LanguageSelector = false
	c.state.LanguageForced = false
	c.mu.Unlock()
}

// OpenSettings shows the settings overlay
func (c *Controller) OpenSettings() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.View != Authenticated {
		return fmt.Errorf("%w: settings from %s", ErrInvalidTransition, c.state.View)
	}
	c.state.Settings = true
	return nil
}

// CloseSettings hides the settings overlay
func (c *Controller) CloseSettings() {
	c.mu.Lock()
	c.state.Settings = false
	c.mu.Unlock()
}

// OpenContextMenu shows the menu for a session at a position
func (c *Controller) OpenContextMenu(at Point, sessionID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.View != Authenticated {
		return fmt.Errorf("%w: context menu from %s", ErrInvalidTransition, c.state.View)
	}
	c.state.ContextMenu = &ContextMenu{At: at, SessionID: sessionID}
	return nil
}

// CloseContextMenu hides the context menu
func (c *Controller) CloseContextMenu() {
	c.mu.Lock()
	c.state.ContextMenu = nil
	c.mu.Unlock()
}

// ClickOutside closes the context menu
func (c *Controller) ClickOutside() {
	c.CloseContextMenu()
}

// Escape closes the context menu and the settings and language overlays
func (c *Controller) Escape() {
	c.mu.Lock()
	c.state.ContextMenu = nil
	c.state.Settings = false
	c.state.LanguageSelector = false
	c.state.LanguageForced = false
	c.mu.Unlock()
}
