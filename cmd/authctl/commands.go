package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/kbukum/authkit/config"
	"github.com/kbukum/authkit/observability"
	"github.com/kbukum/authkit/session"
	"github.com/kbukum/authkit/validation"
	"github.com/kbukum/authkit/version"
)

const usage = `Usage: authctl [-config FILE] COMMAND

Commands:
  login            Log in with email and password
  login -google    Sign in with Google
  register         Create a new account
  verify-email     Submit the emailed verification code
  forgot-password  Request a password reset email
  reset-password   Complete a password reset from an emailed link
  whoami           Show the current session
  logout           End the session
  version          Print version information`

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("authctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	configFile := global.String("config", "", "path to config.yml")
	if err := global.Parse(args); err != nil {
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	command, cmdArgs := rest[0], rest[1:]

	if command == "version" {
		fmt.Fprintln(stdout, version.Get().String())
		return 0
	}
	if command == "help" {
		fmt.Fprintln(stdout, usage)
		return 0
	}

	cfg := &config.AppConfig{}
	var loadOpts []config.LoaderOption
	if *configFile != "" {
		loadOpts = append(loadOpts, config.WithConfigFile(*configFile))
	}
	if err := config.LoadConfig("authctl", cfg, loadOpts...); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	a, err := newApp(cfg, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	ctx := context.Background()

	if cfg.Tracing.Enabled {
		tp, err := observability.InitTracer(ctx, cfg.Tracing, a.log)
		if err != nil {
			a.errorf("warning: tracing disabled: %v", err)
		} else {
			defer func() { _ = tp.Shutdown(ctx) }()
		}
	}

	a.manager.Start(ctx)

	switch command {
	case "login":
		return a.cmdLogin(ctx, cmdArgs)
	case "register":
		return a.cmdRegister(ctx, cmdArgs)
	case "verify-email":
		return a.cmdVerifyEmail(ctx, cmdArgs)
	case "forgot-password":
		return a.cmdForgotPassword(ctx, cmdArgs)
	case "reset-password":
		return a.cmdResetPassword(ctx, cmdArgs)
	case "whoami":
		return a.cmdWhoami(ctx)
	case "logout":
		return a.cmdLogout(ctx)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s\n", command, usage)
		return 2
	}
}

func (a *app) cmdLogin(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	google := fs.Bool("google", false, "sign in with Google")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if guard := session.AnonGuard()(a.manager); guard.Decision == session.DecisionRedirect {
		a.printf("Already logged in as %s. Run 'authctl logout' first.", a.manager.Identity().Username)
		return 0
	}

	var res session.Result
	if *google {
		a.printf("Opening your browser for Google sign-in...")
		res = a.manager.LoginWithProvider(ctx)
	} else {
		email, err := promptLine(a.reader, a.out, "Email")
		if err != nil {
			a.errorf("error: %v", err)
			return 1
		}
		password, err := promptPassword(a.reader, a.out, "Password")
		if err != nil {
			a.errorf("error: %v", err)
			return 1
		}
		res = a.manager.Login(ctx, email, password)
	}

	if !res.Success {
		a.errorf("Login failed: %s", res.Error)
		if errors.Is(res.Err, session.ErrVerificationRequired) {
			a.printf("Run 'authctl verify-email' once you have your verification code.")
		}
		return 1
	}
	a.printf("Logged in as %s.", a.manager.Identity().Username)
	return 0
}

func (a *app) cmdRegister(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	avatarPath := fs.String("avatar", "", "path to a profile image")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	email, err := promptLine(a.reader, a.out, "Email")
	if err != nil {
		a.errorf("error: %v", err)
		return 1
	}
	username, err := promptLine(a.reader, a.out, "Username")
	if err != nil {
		a.errorf("error: %v", err)
		return 1
	}
	password, err := promptPassword(a.reader, a.out, "Password")
	if err != nil {
		a.errorf("error: %v", err)
		return 1
	}
	confirm, err := promptPassword(a.reader, a.out, "Confirm password")
	if err != nil {
		a.errorf("error: %v", err)
		return 1
	}

	form := session.RegistrationForm{
		Email:     email,
		Username:  username,
		Password:  password,
		Password2: confirm,
	}
	if *avatarPath != "" {
		avatar, err := loadAvatar(*avatarPath)
		if err != nil {
			a.errorf("error: %v", err)
			return 1
		}
		form.Avatar = avatar
	}

	res := a.manager.Register(ctx, form)
	if !res.Success {
		a.errorf("Registration failed: %s", res.Error)
		return 1
	}
	a.printf("Account created. Check %s for a verification code, then run 'authctl verify-email'.", email)
	return 0
}

func (a *app) cmdVerifyEmail(ctx context.Context, args []string) int {
	var email, code string
	var err error
	if len(args) >= 2 {
		email, code = args[0], args[1]
	} else {
		if email, err = promptLine(a.reader, a.out, "Email"); err != nil {
			a.errorf("error: %v", err)
			return 1
		}
		if code, err = promptLine(a.reader, a.out, "Verification code"); err != nil {
			a.errorf("error: %v", err)
			return 1
		}
	}
	if err := validation.New().Required("email", email).Required("code", code).Err(); err != nil {
		a.errorf("error: %v", err)
		return 1
	}

	if !a.manager.VerifyEmail(ctx, email, code) {
		a.errorf("Verification failed. Check the code and try again.")
		return 1
	}
	a.printf("Email verified.")
	if a.manager.Identity() != nil {
		a.printf("Logged in as %s.", a.manager.Identity().Username)
	}
	return 0
}

func (a *app) cmdForgotPassword(ctx context.Context, args []string) int {
	var email string
	var err error
	if len(args) >= 1 {
		email = args[0]
	} else if email, err = promptLine(a.reader, a.out, "Email"); err != nil {
		a.errorf("error: %v", err)
		return 1
	}
	if err := validation.Required("email", email); err != nil {
		a.errorf("error: %v", err)
		return 1
	}

	if !a.manager.RequestPasswordReset(ctx, email) {
		a.errorf("Could not request a reset email. Try again later.")
		return 1
	}
	a.printf("If an account exists for %s, a reset link is on its way.", email)
	return 0
}

func (a *app) cmdResetPassword(ctx context.Context, args []string) int {
	if len(args) < 2 {
		a.errorf("usage: authctl reset-password UIDB64 TOKEN")
		return 2
	}
	uidb64, resetToken := args[0], args[1]

	if res := a.manager.CheckResetToken(ctx, uidb64, resetToken); !res.Success {
		a.errorf("Reset link rejected: %s", res.Error)
		return 1
	}

	password, err := promptPassword(a.reader, a.out, "New password")
	if err != nil {
		a.errorf("error: %v", err)
		return 1
	}
	confirm, err := promptPassword(a.reader, a.out, "Confirm password")
	if err != nil {
		a.errorf("error: %v", err)
		return 1
	}

	res := a.manager.ResetPassword(ctx, uidb64, resetToken, password, confirm)
	if !res.Success {
		a.errorf("Password reset failed: %s", res.Error)
		return 1
	}
	a.printf("Password updated. Log in with your new password.")
	return 0
}

func (a *app) cmdWhoami(ctx context.Context) int {
	guard := session.AuthGuard(false)(a.manager)
	if guard.Decision != session.DecisionAllow {
		a.printf("Not logged in.")
		return 1
	}
	id := a.manager.Identity()
	a.printf("Logged in as %s <%s>", id.Username, id.Email)
	if id.IsVerified {
		a.printf("Email verified.")
	} else {
		a.printf("Email not verified. Run 'authctl verify-email'.")
	}
	return 0
}

func (a *app) cmdLogout(ctx context.Context) int {
	a.manager.Logout(ctx)
	a.printf("Logged out.")
	return 0
}

func loadAvatar(path string) (*session.Avatar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read avatar: %w", err)
	}
	return &session.Avatar{
		FileName:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	}, nil
}
