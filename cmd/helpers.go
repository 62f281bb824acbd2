package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/PolarWolf314/keyward/internal/configs"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/keys"
	"github.com/PolarWolf314/keyward/internal/ui"
	"github.com/PolarWolf314/keyward/internal/utils"
	"github.com/PolarWolf314/keyward/internal/workflows"
	"github.com/briandowns/spinner"
)

const userAuthEnv = "KEYWARD_USER_AUTH"

// startSpinner creates and starts a spinner with the given message when not in verbose or debug mode.
// Returns the spinner and a function that should be deferred to clean up.
//
// spinner.FinalMSG values do not need trailing newlines; the cleanup function
// adds one before printing.
func startSpinner(message string, verbose bool) (*spinner.Spinner, func()) {
	Logger.Debugf("Starting spinner with message: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	if err := s.Color("cyan"); err != nil {
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	quiet := !verbose && !debug
	if quiet {
		s.Start()
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("Running in verbose or debug mode: %s", message)
	}

	cleanup := func() {
		if quiet {
			log.SetOutput(os.Stdout)
		}

		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			// Clear FinalMSG so s.Stop() doesn't print it.
			s.FinalMSG = ""
		}

		if quiet {
			s.Stop()
		}

		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, cleanup
}

// environmentFactory opens the environment commands run against. Tests
// replace it to point at a local server.
var environmentFactory = openEnvironment

func openEnvironment() (*workflows.Environment, error) {
	config, err := configs.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	Logger.Debugf("Using scope %s with %s store at %s", config.Scope().Key(), config.Store.Backend, config.StorePath())
	return workflows.OpenEnvironment(config, Logger)
}

// resolveUserAuth returns the user credential from --user-auth, the
// environment, or an interactive prompt, in that order.
func resolveUserAuth() (string, error) {
	if userAuth != "" {
		Logger.Debugf("Using user credential from --user-auth")
		return userAuth, nil
	}
	if v := os.Getenv(userAuthEnv); v != "" {
		Logger.Debugf("Using user credential from $%s", userAuthEnv)
		return v, nil
	}
	if !utils.IsTerminal() {
		return "", kerrors.New(kerrors.CodeBadRequest, "no user credential: pass --user-auth or set $%s", userAuthEnv)
	}
	secret, err := utils.ReadSecret("User credential: ")
	if err != nil {
		return "", kerrors.Wrap(kerrors.CodeBadRequest, "reading user credential", err)
	}
	return secret, nil
}

// parseAttributes turns repeated key=value flags into an attribute set.
// Repeating a key adds another value.
func parseAttributes(pairs []string) (keys.Attributes, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := keys.Attributes{}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, kerrors.New(kerrors.CodeInvalidValue, "attribute %q is not in key=value form", pair)
		}
		attrs[name] = append(attrs[name], value)
	}
	return attrs, nil
}

// parseMetadata turns key=value flags into request metadata. Values that
// parse as JSON are kept as JSON.
func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, kerrors.New(kerrors.CodeInvalidValue, "metadata %q is not in key=value form", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			meta[name] = decoded
		} else {
			meta[name] = value
		}
	}
	return meta, nil
}

// readInput returns the single argument, or stdin when it is absent or "-".
func readInput(args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := utils.ReadStdin()
	if err != nil {
		return "", kerrors.Wrap(kerrors.CodeMissingValue, "reading input", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// formatError renders a failure with a hint for the errors users can act on.
func formatError(action string, err error) string {
	msg := ui.Cross() + " Failed to " + action + ": " + err.Error()

	switch kerrors.CodeOf(err) {
	case kerrors.CodeNoDeviceProfile:
		return msg + "\n" + ui.Arrow() + " Enroll this device with " + ui.Code.Sprint("keyward device begin") +
			" or " + ui.Code.Sprint("keyward device create")
	case kerrors.CodeBadRequest:
		if strings.Contains(err.Error(), "credential") {
			return msg + "\n" + ui.Arrow() + " Pass " + ui.Flag.Sprint("--user-auth") + " or set " + ui.Code.Sprint("$"+userAuthEnv)
		}
	case kerrors.CodeRequestFailed, kerrors.CodeTimeout:
		return msg + "\n" + ui.Arrow() + " Check that the key service is reachable and " + ui.Code.Sprint("keyward doctor") + " passes"
	case kerrors.CodeKeyDenied, kerrors.CodeStaleKeyAttributes:
		return msg + "\n" + ui.Arrow() + " The key service refused the request for this device"
	case kerrors.CodeParseFailed, kerrors.CodeInvalidValue, kerrors.CodeMissingValue:
		if strings.Contains(err.Error(), "config") {
			return msg + "\n" + ui.Arrow() + " Fix " + ui.Path.Sprint(configs.UserKeywardSettings.ConfigFile()) +
				" or recreate it with " + ui.Code.Sprint("keyward config init --force")
		}
	}
	return msg
}

// fail records err on the spinner and returns ErrReported so the exit code
// is non-zero without printing the error twice.
func fail(s *spinner.Spinner, action string, err error) error {
	Logger.Errorf("Failed to %s: %v", action, err)
	s.FinalMSG = formatError(action, err)
	return fmt.Errorf("%w: %w", ErrReported, err)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatUnix(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}
