// Package cli defines the Cobra commands of interviewctl, a terminal client
// for the interview server.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/interview-room/internal/chat"
)

var version = "dev" // set via ldflags at build time

// options are the persistent flags shared by every command.
type options struct {
	server     string
	user       string
	userHeader string
	stateFile  string
}

func (o *options) client() *chat.Client {
	var opts []chat.ClientOption
	if o.user != "" {
		opts = append(opts, chat.WithUser(o.userHeader, o.user))
	}
	return chat.NewClient(o.server, opts...)
}

// NewRootCmd builds the interviewctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "interviewctl",
		Short: "Terminal client for the AI interview room",
		Long: `interviewctl talks to an interview server over its HTTP API.
It runs text-only interviews and prints stored session history.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	serverDefault := os.Getenv("INTERVIEW_SERVER")
	if serverDefault == "" {
		serverDefault = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", serverDefault, "Interview server base URL")
	root.PersistentFlags().StringVar(&opts.user, "user", os.Getenv("INTERVIEW_USER"), "User ID asserted through --user-header")
	root.PersistentFlags().StringVar(&opts.userHeader, "user-header", "X-User-ID", "Identity header used with --user")
	root.PersistentFlags().StringVar(&opts.stateFile, "state-file", defaultStateFile(), "File remembering the current session ID")

	root.AddCommand(newChatCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	return root
}

// Execute runs the root command. Called from main.
func Execute() {
	_ = godotenv.Load()
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".interviewctl", "session.json")
	}
	return filepath.Join(dir, "interviewctl", "session.json")
}
