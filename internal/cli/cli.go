// Package cli defines the uiserver command tree and turns argv into a Parsed
// request for the app runner.
package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type Command string

const (
	CommandServe   Command = "serve"
	CommandSend    Command = "send"
	CommandStatus  Command = "status"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
)

// Option is one --option or --critical-option flag value.
type Option struct {
	Name     string
	Value    string
	HasValue bool
	Critical bool
}

// Inquire stages an INQUIRE answer, inline or from a file.
type Inquire struct {
	Name     string
	Value    string
	FromFile bool
}

// Send holds the flags of the send command.
type Send struct {
	Verb                  string
	Options               []Option
	Files                 []string
	Senders               []string
	Recipients            []string
	InformativeSenders    bool
	InformativeRecipients bool
	Inquiries             []Inquire
	WindowID              uint64
	HasWindowID           bool
}

type Parsed struct {
	Command    Command
	ConfigPath string
	// Socket overrides the configured endpoint.
	Socket string
	Send   Send
	// Handled is set when cobra already answered, as with --help.
	Handled bool
}

type sendFlags struct {
	options         []string
	criticalOptions []string
	inquiries       []string
	inquiryFiles    []string
	windowID        string
}

func newRoot(parsed *Parsed, out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "uiserver",
		Short:         "Local UI server and command client",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVarP(&parsed.ConfigPath, "config", "c", "",
		"config file path (default: $XDG_CONFIG_HOME/uiserver/config.toml)")
	root.PersistentFlags().StringVar(&parsed.Socket, "socket", "", "socket path override")

	selects := func(cmd Command) func(*cobra.Command, []string) error {
		return func(*cobra.Command, []string) error {
			parsed.Command = cmd
			return nil
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the UI server until interrupted",
			Args:  cobra.NoArgs,
			RunE:  selects(CommandServe),
		},
		newSendCommand(parsed),
		&cobra.Command{
			Use:   "status",
			Short: "Report whether a server is listening",
			Args:  cobra.NoArgs,
			RunE:  selects(CommandStatus),
		},
		&cobra.Command{
			Use:   "doctor",
			Short: "Run configuration and environment checks",
			Args:  cobra.NoArgs,
			RunE:  selects(CommandDoctor),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			RunE:  selects(CommandVersion),
		},
	)
	return root
}

func newSendCommand(parsed *Parsed) *cobra.Command {
	var flags sendFlags
	send := &parsed.Send

	cmd := &cobra.Command{
		Use:   "send [flags] [COMMAND]",
		Short: "Send one command to the server, starting it if needed",
		Long: `Send connects to the UI server, applies options, files and mailboxes,
then issues COMMAND and prints any data it returns. Without COMMAND it only
checks that the server answers.`,
		Example: `  uiserver send --file report.pdf --option checksum-algo=sha256 CHECKSUM_CREATE_FILES
  uiserver send --inquire PASSPHRASE=secret SIGN_FILES`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				send.Verb = args[0]
			}
			if err := flags.apply(send); err != nil {
				return err
			}
			parsed.Command = CommandSend
			return nil
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&flags.options, "option", nil, "send OPTION name[=value]; failures are ignored")
	f.StringArrayVar(&flags.criticalOptions, "critical-option", nil, "send OPTION name[=value]; failure aborts")
	f.StringArrayVar(&send.Files, "file", nil, "send FILE path")
	f.StringArrayVar(&send.Senders, "sender", nil, "send SENDER address")
	f.StringArrayVar(&send.Recipients, "recipient", nil, "send RECIPIENT address")
	f.BoolVar(&send.InformativeSenders, "informative-senders", false, "mark senders as informational")
	f.BoolVar(&send.InformativeRecipients, "informative-recipients", false, "mark recipients as informational")
	f.StringArrayVar(&flags.inquiries, "inquire", nil, "answer INQUIRE name with value (name=value)")
	f.StringArrayVar(&flags.inquiryFiles, "inquire-file", nil, "answer INQUIRE name with a file's contents (name=path)")
	f.StringVar(&flags.windowID, "window-id", "", "parent window id in hexadecimal")
	return cmd
}

func (f sendFlags) apply(send *Send) error {
	for _, raw := range f.options {
		opt, err := parseOption(raw, false)
		if err != nil {
			return err
		}
		send.Options = append(send.Options, opt)
	}
	for _, raw := range f.criticalOptions {
		opt, err := parseOption(raw, true)
		if err != nil {
			return err
		}
		send.Options = append(send.Options, opt)
	}
	for _, raw := range f.inquiries {
		name, value, err := parseAssignment("--inquire", raw)
		if err != nil {
			return err
		}
		send.Inquiries = append(send.Inquiries, Inquire{Name: name, Value: value})
	}
	for _, raw := range f.inquiryFiles {
		name, path, err := parseAssignment("--inquire-file", raw)
		if err != nil {
			return err
		}
		send.Inquiries = append(send.Inquiries, Inquire{Name: name, Value: path, FromFile: true})
	}
	if f.windowID != "" {
		id, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(f.windowID), "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("--window-id must be hexadecimal: %q", f.windowID)
		}
		send.WindowID, send.HasWindowID = id, true
	}
	return nil
}

func parseOption(raw string, critical bool) (Option, error) {
	name, value, hasValue := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t") {
		return Option{}, fmt.Errorf("invalid option %q: want name[=value]", raw)
	}
	return Option{Name: name, Value: value, HasValue: hasValue, Critical: critical}, nil
}

func parseAssignment(flag, raw string) (string, string, error) {
	name, value, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf("%s expects name=value, got %q", flag, raw)
	}
	return strings.TrimSpace(name), value, nil
}

// Parse runs argv through the command tree. Help output goes to out.
func Parse(args []string, out, errOut io.Writer) (Parsed, error) {
	var parsed Parsed
	root := newRoot(&parsed, out, errOut)
	if args == nil {
		// cobra falls back to os.Args on nil.
		args = []string{}
	}
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return Parsed{}, err
	}
	if parsed.Command == "" {
		parsed.Handled = true
	}
	return parsed, nil
}

// HelpText renders the root usage.
func HelpText() string {
	var parsed Parsed
	return newRoot(&parsed, io.Discard, io.Discard).UsageString()
}
