package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pedichat-go/internal/app"
	"github.com/pedichat-go/internal/chat"
	"github.com/pedichat-go/internal/handlers"
	"github.com/pedichat-go/internal/models"
	"github.com/pedichat-go/internal/session"
	"github.com/pedichat-go/pkg/markdown"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string

	askImage      string
	askSession    int64
	askRx         bool
	askAge        string
	askConditions string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session token",
	Long: `Sign in with email and password. The password may also be provided
through the PEDICHAT_PASSWORD environment variable.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE:  runLogout,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List your conversations",
	RunE:  runSessions,
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send one message and print the answer",
	Example: `  pedichat ask "My toddler has a fever of 38.5C, what should I do?"
  pedichat ask --session 42 "And if it lasts more than two days?"
  pedichat ask --rx --image ./prescription.jpg --age 4 --conditions asthma`,
	RunE: runAsk,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", os.Getenv("PEDICHAT_EMAIL"), "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password")

	askCmd.Flags().StringVar(&askImage, "image", "", "Attach an image file")
	askCmd.Flags().Int64Var(&askSession, "session", 0, "Continue an existing conversation")
	askCmd.Flags().BoolVar(&askRx, "rx", false, "Analyze the attached prescription image")
	askCmd.Flags().StringVar(&askAge, "age", "", "Patient age for prescription analysis")
	askCmd.Flags().StringVar(&askConditions, "conditions", "", "Known patient conditions for prescription analysis")
}

// startApp builds the app and restores any stored session
func startApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func requireSession(a *app.App) error {
	if !a.Session.IsAuthenticated() {
		return fmt.Errorf("%w: run 'pedichat login' first", session.ErrNotAuthenticated)
	}
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if loginPassword == "" {
		loginPassword = os.Getenv("PEDICHAT_PASSWORD")
	}
	if loginEmail == "" || loginPassword == "" {
		return errors.New("both --email and a password are required")
	}

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Session.IsAuthenticated() {
		a.Logout(ctx)
	}
	if err := a.Nav.ShowLogin(); err != nil {
		return err
	}
	if err := a.Login(ctx, loginEmail, loginPassword); err != nil {
		return err
	}

	user := a.Session.User()
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>\n", user.FullName, user.Email)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Logout(ctx)
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := requireSession(a); err != nil {
		return err
	}
	if err := a.Chat.ListSessions(ctx); err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMESSAGES\tUPDATED")
	for _, s := range a.Chat.Sessions() {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", s.ID, s.SessionName, s.MessageCount, s.UpdatedAt)
	}
	return w.Flush()
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" && askImage == "" {
		return errors.New("nothing to send: pass a message or --image")
	}
	if askRx && askImage == "" {
		return errors.New("--rx needs --image")
	}

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := requireSession(a); err != nil {
		return err
	}
	if err := a.Validator.ValidateText(text); err != nil {
		return err
	}

	var image *models.Image
	if askImage != "" {
		image, err = handlers.NewMessageHandler(a, log).LoadImage(askImage)
		if err != nil {
			return err
		}
	}

	if askSession > 0 {
		if err := a.Chat.LoadSession(ctx, askSession, ""); err != nil {
			return fmt.Errorf("failed to open session %d: %w", askSession, err)
		}
	}

	before := len(a.Chat.Messages())
	if askRx {
		a.Pipeline.AnalyzePrescription(ctx, image, askAge, askConditions)
	} else {
		a.Pipeline.SendMessage(ctx, text, image)
	}

	messages := a.Chat.Messages()
	if len(messages) <= before {
		return errors.New("no answer received")
	}
	answer := messages[len(messages)-1]
	if answer.IsUser || answer.Text == chat.SendErrorText || answer.Text == chat.PrescriptionErrorText {
		return errors.New(answer.Text)
	}

	renderer := markdown.NewRenderer(cfg.UI.WrapWidth, a.Theme.Dark())
	fmt.Fprintln(cmd.OutOrStdout(), renderer.Render(answer.Text))
	if id, ok := a.Chat.Active().Get(); ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "session %d\n", id)
	}
	return nil
}
