package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"municonsole_back/client"
	"municonsole_back/knowledgebase"
	"municonsole_back/notifications"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the token in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				email = opts.cfg.Email
			}
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				password = os.Getenv("CONSOLECTL_PASSWORD")
			}
			if password == "" {
				cmd.Print("Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimSpace(line)
			}

			c, err := opts.client(false)
			if err != nil {
				return err
			}
			result, err := c.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			opts.cfg.Email = email
			opts.cfg.Token = result.Token
			if err := opts.cfg.save(opts.configPath); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Logged in as %s (token expires %s)", email, result.Expire.Local().Format("2006-01-02 15:04")))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	return cmd
}

func newMunicipalitiesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "municipalities", Aliases: []string{"m"}, Short: "Municipality commands"}

	var query client.MunicipalityQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List municipalities",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(true)
			if err != nil {
				return err
			}
			page, err := c.Municipalities(cmd.Context(), query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(page.Items) == 0 {
				fmt.Fprintln(out, "No municipalities found.")
				return nil
			}
			header := color.New(color.FgCyan)
			header.Fprintf(out, "%-6s %-32s %-4s %s\n", "ID", "NAME", "CC", "ACTIVE")
			for _, m := range page.Items {
				active := color.GreenString("yes")
				if !m.Active {
					active = color.YellowString("no")
				}
				fmt.Fprintf(out, "%-6d %-32s %-4s %s\n", m.ID, m.Name, m.CountryCode, active)
			}
			if page.HasMore {
				fmt.Fprintf(out, "\nMore results: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}
	list.Flags().StringVarP(&query.Search, "search", "q", "", "name filter")
	list.Flags().StringVar(&query.CountryCode, "country", "", "ISO country code")
	list.Flags().StringVar(&query.Cursor, "cursor", "", "page cursor")
	list.Flags().IntVarP(&query.Limit, "limit", "n", 20, "page size")
	cmd.AddCommand(list)
	return cmd
}

func newKnowledgeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "knowledge", Aliases: []string{"kb"}, Short: "Knowledge base commands"}

	var (
		query  client.KnowledgeQuery
		all    bool
		asJSON bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List knowledge items",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(true)
			if err != nil {
				return err
			}
			var (
				items []knowledgebase.Item
				next  string
			)
			if all {
				if items, err = c.AllKnowledge(cmd.Context(), query); err != nil {
					return err
				}
			} else {
				page, err := c.Knowledge(cmd.Context(), query)
				if err != nil {
					return err
				}
				items = page.Items
				if page.HasMore {
					next = page.NextCursor
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "No knowledge items found.")
				return nil
			}
			color.New(color.FgCyan).Fprintf(out, "%-6s %-12s %-10s %s\n", "ID", "STATUS", "SOURCE", "TITLE")
			for _, item := range items {
				fmt.Fprintf(out, "%-6d %-12s %-10s %s\n", item.ID, statusColor(item.Status), item.Source, item.Title)
			}
			if next != "" {
				fmt.Fprintf(out, "\nMore results: --cursor %s (or --all)\n", next)
			}
			return nil
		},
	}
	list.Flags().Uint64Var(&query.MunicipalityID, "municipality", 0, "municipality id")
	list.Flags().Uint64Var(&query.AssistantID, "assistant", 0, "assistant id")
	list.Flags().StringVar(&query.Status, "status", "", "status filter")
	list.Flags().StringVar(&query.Cursor, "cursor", "", "page cursor")
	list.Flags().IntVarP(&query.Limit, "limit", "n", 20, "page size")
	list.Flags().BoolVar(&all, "all", false, "follow cursors until every item is loaded")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.AddCommand(list)
	return cmd
}

func statusColor(status string) string {
	switch status {
	case knowledgebase.StatusCompleted:
		return color.GreenString(status)
	case knowledgebase.StatusFailed:
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}

func newNotificationsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "notifications", Short: "Notification commands"}

	var (
		in      notifications.SendInput
		role    string
		targets []uint
	)
	send := &cobra.Command{
		Use:   "send",
		Short: "Send a notification to municipalities (all active ones by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(true)
			if err != nil {
				return err
			}
			if role != "" {
				in.Role = &role
			}
			in.MunicipalityIDs = nil
			for _, id := range targets {
				in.MunicipalityIDs = append(in.MunicipalityIDs, uint64(id))
			}
			result, err := c.SendNotification(cmd.Context(), in)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
					for field, message := range apiErr.Fields {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", field, message)
					}
				}
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, color.GreenString("Delivered to %d municipalities", result.Delivered))
			if len(result.Failed) > 0 {
				fmt.Fprintln(out, color.RedString("Failed: %v", result.Failed))
			}
			return nil
		},
	}
	send.Flags().StringVar(&in.Title, "title", "", "notification title")
	send.Flags().StringVar(&in.Body, "body", "", "notification message")
	send.Flags().StringVar(&in.Level, "level", "info", "info, warning or critical")
	send.Flags().StringVar(&role, "role", "", "limit to org:admin or org:member")
	send.Flags().UintSliceVar(&targets, "municipality", nil, "target municipality id (repeatable)")
	cmd.AddCommand(send)
	return cmd
}
