package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"persona-chat/internal/chat"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		contact    string
		salutation string
		intimate   bool
	)

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				req := chat.Request{
					Contact:    contact,
					Message:    strings.Join(args, " "),
					Salutation: salutation,
				}
				if cmd.Flags().Changed("intimate") {
					req.AllowIntimate = &intimate
				}

				reply, err := a.chat.Send(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&contact, "contact", "", "contact to talk to (default: configured target)")
	cmd.Flags().StringVar(&salutation, "salutation", "", "override how the contact is addressed")
	cmd.Flags().BoolVar(&intimate, "intimate", false, "use the intimate salutation")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	var contact string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the conversation with a contact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				resolved, err := a.chat.Reset(cmd.Context(), contact)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "history cleared for %s\n", resolved)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&contact, "contact", "", "contact to reset (default: configured target)")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var contact string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored conversation with a contact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				resolved, messages, err := a.chat.History(cmd.Context(), contact)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(messages) == 0 {
					fmt.Fprintf(out, "no history for %s\n", resolved)
					return nil
				}
				for _, m := range messages {
					fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&contact, "contact", "", "contact to show (default: configured target)")
	return cmd
}

func withApp(opts *rootOptions, fn func(a *app) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
