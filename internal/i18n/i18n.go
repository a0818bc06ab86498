package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pedichat-go/internal/config"
	"github.com/pedichat-go/internal/models"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// Languages is the fixed set offered to users; the first entry is the default
var Languages = []models.Language{
	{Code: "en", Name: "English", NativeName: "English"},
	{Code: "es", Name: "Spanish", NativeName: "Español"},
	{Code: "fr", Name: "French", NativeName: "Français"},
	{Code: "zh", Name: "Chinese", NativeName: "中文"},
	{Code: "ar", Name: "Arabic", NativeName: "العربية"},
}

// Default returns the first enumerated language
func Default() models.Language {
	return Languages[0]
}

// Find looks up a language by code. Region subtags are ignored, so "es-MX" finds Spanish.
func Find(code string) (models.Language, bool) {
	if code == "" {
		return models.Language{}, false
	}
	tag, err := language.Parse(code)
	if err != nil {
		return models.Language{}, false
	}
	base, _ := tag.Base()
	for _, lang := range Languages {
		if lang.Code == base.String() {
			return lang, true
		}
	}
	return models.Language{}, false
}

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer from the embedded message files,
// optionally overridden by files in cfg.Directory.
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range Languages {
		name := fmt.Sprintf("locales/%s.json", lang.Code)
		if _, err := bundle.LoadMessageFileFS(locales, name); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang.Code, err)
		}
		if cfg.Directory == "" {
			continue
		}
		override := filepath.Join(cfg.Directory, lang.Code+".json")
		if _, err := os.Stat(override); err == nil {
			if _, err := bundle.LoadMessageFile(override); err != nil {
				return nil, fmt.Errorf("failed to load language file %s: %w", override, err)
			}
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range Languages {
		localizers[lang.Code] = i18n.NewLocalizer(bundle, lang.Code)
	}

	defaultLanguage := cfg.DefaultLanguage
	if _, ok := localizers[defaultLanguage]; !ok {
		defaultLanguage = Default().Code
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	return l.localize(lang, &i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
}

// Plural returns a localized message chosen by count; Count is available to the template
func (l *Localizer) Plural(lang, messageID string, count int) string {
	return l.localize(lang, &i18n.LocalizeConfig{
		MessageID:    messageID,
		PluralCount:  count,
		TemplateData: map[string]interface{}{"Count": count},
	})
}

func (l *Localizer) localize(lang string, lc *i18n.LocalizeConfig) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(lc)
	if err != nil {
		return lc.MessageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgAppTitle            = "app_title"
	MsgAppSubtitle         = "app_subtitle"
	MsgLandingTagline      = "landing_tagline"
	MsgLandingHint         = "landing_hint"
	MsgLoginTitle          = "login_title"
	MsgLoginSubtitle       = "login_subtitle"
	MsgRegisterSubtitle    = "register_subtitle"
	MsgEmail               = "email"
	MsgPassword            = "password"
	MsgFullName            = "full_name"
	MsgConfirmPassword     = "confirm_password"
	MsgSignIn              = "sign_in"
	MsgSigningIn           = "signing_in"
	MsgCreateAccount       = "create_account"
	MsgCreatingAccount     = "creating_account"
	MsgNoAccount           = "no_account"
	MsgHaveAccount         = "have_account"
	MsgPasswordsMismatch   = "passwords_mismatch"
	MsgNewChat             = "new_chat"
	MsgMessageCount        = "message_count"
	MsgNoSessions          = "no_sessions"
	MsgSettings            = "settings"
	MsgLogout              = "logout"
	MsgLanguage            = "language"
	MsgSelectLanguage      = "select_language"
	MsgTypeMessage         = "type_message"
	MsgTyping              = "typing"
	MsgAnalyzing           = "analyzing"
	MsgPrescription        = "prescription_analysis"
	MsgPatientAge          = "patient_age"
	MsgPatientConditions   = "patient_conditions"
	MsgImageAttached       = "image_attached"
	MsgAppearance          = "appearance"
	MsgThemeSystem         = "theme_system"
	MsgThemeLight          = "theme_light"
	MsgThemeDark           = "theme_dark"
	MsgThemeSystemDesc     = "theme_system_desc"
	MsgThemeLightDesc      = "theme_light_desc"
	MsgThemeDarkDesc       = "theme_dark_desc"
	MsgSettingsSaved       = "settings_saved"
	MsgErrorOccurred       = "error_occurred"
	MsgEmailLocalOnly      = "email_local_only"
	MsgPasswordUnavailable = "password_unavailable"
	MsgDeleteSession       = "delete_session"
	MsgHelp                = "help"
	MsgUnknownCommand      = "unknown_command"
	MsgMessageTooLong      = "message_too_long"
	MsgImageInvalid        = "image_invalid"
	MsgSessionNotFound     = "session_not_found"
	MsgLanguageChanged     = "language_changed"
	MsgThemeChanged        = "theme_changed"
	MsgNewChatStarted      = "new_chat_started"
	MsgSessionDeleted      = "session_deleted"
	MsgUsage               = "usage"
	MsgUserFallback        = "user_fallback"
)

// AllMessageIDs lists every message id the client uses
var AllMessageIDs = []string{
	MsgAppTitle, MsgAppSubtitle, MsgLandingTagline, MsgLandingHint,
	MsgLoginTitle, MsgLoginSubtitle, MsgRegisterSubtitle,
	MsgEmail, MsgPassword, MsgFullName, MsgConfirmPassword,
	MsgSignIn, MsgSigningIn, MsgCreateAccount, MsgCreatingAccount,
	MsgNoAccount, MsgHaveAccount, MsgPasswordsMismatch,
	MsgNewChat, MsgMessageCount, MsgNoSessions, MsgSettings, MsgLogout,
	MsgLanguage, MsgSelectLanguage, MsgTypeMessage, MsgTyping, MsgAnalyzing,
	MsgPrescription, MsgPatientAge, MsgPatientConditions, MsgImageAttached,
	MsgAppearance, MsgThemeSystem, MsgThemeLight, MsgThemeDark,
	MsgThemeSystemDesc, MsgThemeLightDesc, MsgThemeDarkDesc,
	MsgSettingsSaved, MsgErrorOccurred, MsgEmailLocalOnly, MsgPasswordUnavailable,
	MsgDeleteSession, MsgHelp, MsgUnknownCommand, MsgMessageTooLong,
	MsgImageInvalid, MsgSessionNotFound, MsgLanguageChanged, MsgThemeChanged,
	MsgNewChatStarted, MsgSessionDeleted, MsgUsage, MsgUserFallback,
}
