// Package keyctl implements the key administration command line: issuing,
// revoking and blocking user and team API keys.
package keyctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/feedgate/internal/server/services"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// KeyAdmin is implemented by *services.KeyService.
type KeyAdmin interface {
	IssueUserKey(ctx context.Context, userID uuid.UUID, name string) (*services.IssuedKey, error)
	IssueTeamKey(ctx context.Context, teamID uuid.UUID, userID *uuid.UUID, name string) (*services.IssuedKey, error)
	RevokeUserKey(ctx context.Context, prefix string) error
	RevokeTeamKey(ctx context.Context, prefix string) error
	SetTeamKeyBlocked(ctx context.Context, prefix string, blocked bool) error
}

// Opener connects to the key store named by dsn. The returned closer is
// called when the command returns.
type Opener func(ctx context.Context, dsn string) (KeyAdmin, io.Closer, error)

// isTerminal is a test seam for term.IsTerminal on stdin.
var isTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

var errNotConfirmed = errors.New("aborted")

type cli struct {
	open   Opener
	dsn    string
	admin  KeyAdmin
	reader *bufio.Reader
}

// NewRootCmd builds the keyctl command tree. defaultDSN is used unless
// --dsn is given.
func NewRootCmd(open Opener, defaultDSN string, in io.Reader) *cobra.Command {
	c := &cli{open: open, reader: bufio.NewReader(in)}

	root := &cobra.Command{
		Use:           "keyctl",
		Short:         "Manage feedgate API keys",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.dsn, "dsn", defaultDSN, "PostgreSQL DSN")

	root.AddCommand(c.userCmd(), c.teamCmd())
	return root
}

// connected opens the key store before running fn.
func (c *cli) connected(fn func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		admin, closer, err := c.open(cmd.Context(), c.dsn)
		if err != nil {
			return fmt.Errorf("open key store: %w", err)
		}
		defer closer.Close()
		c.admin = admin
		return fn(cmd, args)
	}
}

func (c *cli) userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "User API keys"}

	var name string
	issue := &cobra.Command{
		Use:   "issue <user-id>",
		Short: "Issue a key for a user and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: c.connected(func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			key, err := c.admin.IssueUserKey(cmd.Context(), userID, name)
			if err != nil {
				return err
			}
			printIssued(cmd.OutOrStdout(), key)
			return nil
		}),
	}
	issue.Flags().StringVar(&name, "name", "", "key name")

	var yes bool
	revoke := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke a user key",
		Args:  cobra.ExactArgs(1),
		RunE: c.connected(func(cmd *cobra.Command, args []string) error {
			if err := c.confirm(cmd.OutOrStdout(), yes, fmt.Sprintf("Revoke user key %s?", args[0])); err != nil {
				return err
			}
			if err := c.admin.RevokeUserKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User key %s revoked\n", args[0])
			return nil
		}),
	}
	revoke.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(issue, revoke)
	return cmd
}

func (c *cli) teamCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "team", Short: "Team API keys"}

	var name, user string
	issue := &cobra.Command{
		Use:   "issue <team-id>",
		Short: "Issue a key for a team and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: c.connected(func(cmd *cobra.Command, args []string) error {
			teamID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid team id %q", args[0])
			}
			var userID *uuid.UUID
			if user != "" {
				id, err := uuid.Parse(user)
				if err != nil {
					return fmt.Errorf("invalid user id %q", user)
				}
				userID = &id
			}
			key, err := c.admin.IssueTeamKey(cmd.Context(), teamID, userID, name)
			if err != nil {
				return err
			}
			printIssued(cmd.OutOrStdout(), key)
			return nil
		}),
	}
	issue.Flags().StringVar(&name, "name", "", "key name")
	issue.Flags().StringVar(&user, "user", "", "id of the team member creating the key")

	var yes bool
	revoke := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke a team key",
		Args:  cobra.ExactArgs(1),
		RunE: c.connected(func(cmd *cobra.Command, args []string) error {
			if err := c.confirm(cmd.OutOrStdout(), yes, fmt.Sprintf("Revoke team key %s?", args[0])); err != nil {
				return err
			}
			if err := c.admin.RevokeTeamKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Team key %s revoked\n", args[0])
			return nil
		}),
	}
	revoke.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	block := &cobra.Command{
		Use:   "block <prefix>",
		Short: "Block a team key",
		Args:  cobra.ExactArgs(1),
		RunE:  c.connected(c.setBlocked(true)),
	}
	unblock := &cobra.Command{
		Use:   "unblock <prefix>",
		Short: "Re-activate a blocked team key",
		Args:  cobra.ExactArgs(1),
		RunE:  c.connected(c.setBlocked(false)),
	}

	cmd.AddCommand(issue, revoke, block, unblock)
	return cmd
}

func (c *cli) setBlocked(blocked bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := c.admin.SetTeamKeyBlocked(cmd.Context(), args[0], blocked); err != nil {
			return err
		}
		state := "active"
		if blocked {
			state = "blocked"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Team key %s is now %s\n", args[0], state)
		return nil
	}
}

// confirm asks a yes/no question. Without a terminal on stdin the caller
// must pass --yes.
func (c *cli) confirm(w io.Writer, yes bool, question string) error {
	if yes {
		return nil
	}
	if !isTerminal() {
		return fmt.Errorf("stdin is not a terminal, pass --yes to confirm")
	}
	answer, err := GetSimpleText(c.reader, question+" [y/N]", w)
	if err != nil {
		return err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return nil
	default:
		return errNotConfirmed
	}
}

func printIssued(w io.Writer, key *services.IssuedKey) {
	fmt.Fprintf(w, "ID:     %s\n", key.ID)
	fmt.Fprintf(w, "Prefix: %s\n", key.Prefix)
	fmt.Fprintf(w, "Key:    %s\n", key.Key)
	fmt.Fprintln(w, "Store the key now, it cannot be shown again.")
}

// GetSimpleText prints a prompt to w and reads a single line of input from reader.
// The trailing newline is trimmed. If EOF occurs after some input was read,
// the partial line is returned.
func GetSimpleText(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n> "); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
