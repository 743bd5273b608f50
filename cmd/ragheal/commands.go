package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ragheal/ragheal/retrieval"
	"github.com/ragheal/ragheal/session"
)

func newAskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := resolveMode()
			if err != nil {
				return err
			}
			engine, err := newEngine(false)
			if err != nil {
				return err
			}
			defer engine.Close()

			resp, err := engine.AskQuestion(cmd.Context(), args[0], uuid.NewString(), mode)
			if err != nil {
				return err
			}
			return printResponse(cmd, resp, mode)
		},
	}
}

func newIngestPathCommand() *cobra.Command {
	var docID string
	cmd := &cobra.Command{
		Use:   "ingest-path <path>",
		Short: "Ingest a single file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine(false)
			if err != nil {
				return err
			}
			defer engine.Close()

			res, err := engine.IngestFromPath(cmd.Context(), args[0], docID)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&docID, "doc-id", "", "explicit document id (auto-generated if omitted)")
	return cmd
}

func newIngestTableCommand() *cobra.Command {
	var (
		dbPath   string
		textCols []string
		metaCols []string
		filter   string
	)
	cmd := &cobra.Command{
		Use:   "ingest-table <table-name>",
		Short: "Ingest every row of a source SQLite table as one document per row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return fmt.Errorf("--db is required")
			}
			if len(textCols) == 0 {
				return fmt.Errorf("--text-columns is required")
			}
			engine, err := newEngine(false)
			if err != nil {
				return err
			}
			defer engine.Close()

			results, err := engine.IngestSQLiteTable(cmd.Context(), dbPath, args[0], textCols, metaCols, filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, results)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "path to the source SQLite database")
	cmd.Flags().StringSliceVar(&textCols, "text-columns", nil, "comma-separated list of text columns")
	cmd.Flags().StringSliceVar(&metaCols, "metadata-columns", nil, "comma-separated list of metadata columns")
	cmd.Flags().StringVar(&filter, "filter", "", "SQL WHERE clause restricting rows")
	return cmd
}

func newChatCommand() *cobra.Command {
	var (
		userID     string
		department string
		role       string
		admin      bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine(true)
			if err != nil {
				return err
			}
			defer engine.Close()

			mode := session.ModeUser
			if admin {
				mode = session.ModeAdmin
			}
			sess := engine.Sessions().Create(userID, department, role, mode)
			fmt.Fprintf(cmd.OutOrStdout(), "session %s ready (%s mode). Type 'help' for commands, 'exit' to quit.\n", sess.ID, mode)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				if cmd.Context().Err() != nil {
					return cmd.Context().Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					break
				}

				result, err := engine.Chat(cmd.Context(), sess.ID, line)
				if err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), "error:", err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli-user", "user id for the chat session")
	cmd.Flags().StringVar(&department, "department", "", "department claim for RBAC-aware retrieval")
	cmd.Flags().StringVar(&role, "role", "", "role claim for RBAC-aware retrieval")
	cmd.Flags().BoolVar(&admin, "admin", false, "start the session in admin chat mode")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResponse prints the full structured response in internal/verbose
// mode, and just the answer text in concise mode.
func printResponse(cmd *cobra.Command, resp *retrieval.Response, mode retrieval.ResponseMode) error {
	if mode == retrieval.ModeConcise {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
		return nil
	}
	return printJSON(cmd, resp)
}
