package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/engine"
	"github.com/hupe1980/bankmesh/internal/seed"
	"github.com/hupe1980/bankmesh/model"
	"github.com/hupe1980/bankmesh/search"
)

// genericFailure is shown when a turn fails for a reason other than a
// policy rejection.
const genericFailure = "Sorry, something went wrong while handling your request. Please try again."

func newInitCommand(c *cli) *cobra.Command {
	var (
		seedValue uint64
		skipDocs  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the schema, seed the registry and load demo data",
		Long: `Creates the database schema, registers the built-in agents and tools,
generates a demo customer with accounts and transactions, and ingests the
support knowledge base into the search index.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.StartTimer("init")()

			if err := a.registry.Seed(ctx, a.llm.Info().Name); err != nil {
				return err
			}

			data := seed.Generate(c.userID, func(o *seed.Options) {
				if seedValue != 0 {
					o.Seed = seedValue
				}
			})
			out := cmd.OutOrStdout()

			switch err := seed.Load(ctx, a.store, data); {
			case errors.Is(err, core.ErrConflict):
				fmt.Fprintf(out, "demo data for %s already present\n", data.User.ID)
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "seeded %s with %d accounts and %d transactions\n",
					data.User.ID, len(data.Accounts), len(data.Transactions))
			}

			if skipDocs {
				return nil
			}

			docs, err := seed.SupportDocuments()
			if err != nil {
				return err
			}
			n, err := ingest(ctx, a, docs)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "indexed %d support documents\n", n)

			return nil
		},
	}

	cmd.Flags().Uint64Var(&seedValue, "seed", 0, "random seed for the demo data (0 keeps the default)")
	cmd.Flags().BoolVar(&skipDocs, "skip-docs", false, "do not ingest the support knowledge base")

	return cmd
}

func newIngestDocsCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest-docs <file.yaml>",
		Short: "Add support documents to the search index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			docs, err := seed.ParseDocuments(raw)
			if err != nil {
				return err
			}

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.StartTimer("ingest_docs")()

			n, err := ingest(ctx, a, docs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d support documents\n", n)

			return nil
		},
	}
}

func ingest(ctx context.Context, a *app, docs []search.Document) (int, error) {
	idx, err := a.openSearcher(ctx)
	if err != nil {
		return 0, err
	}
	if err := idx.Add(ctx, docs); err != nil {
		return 0, err
	}
	return idx.Count(ctx)
}

func newChatCommand(c *cli) *cobra.Command {
	var (
		sessionID      string
		message        string
		metricsAddr    string
		simulateFilter bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the banking assistant",
		Long: `Starts an interactive session, or answers a single --message and exits.
Every turn is routed to a specialist agent and written to the trace tables.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if simulateFilter {
				scripted, ok := a.llm.(*model.ScriptedModel)
				if !ok {
					return errors.New("--simulate-filter requires the scripted model provider")
				}
				pe, err := model.ParseFilterPayload([]byte(simulatedFilterPayload))
				if err != nil {
					return err
				}
				scripted.Enqueue(model.ErrorStep(pe))
			}

			eng, err := a.openEngine(ctx, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, a)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			if sessionID == "" {
				sessionID = core.NewID()
			}

			s := &chatSession{engine: eng, userID: c.userID, sessionID: sessionID, out: cmd.OutOrStdout(), app: a}

			if message != "" {
				return s.turn(ctx, message)
			}

			return s.repl(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue (default: a new session)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "answer a single message and exit")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().BoolVar(&simulateFilter, "simulate-filter", false, "make the first model call fail with a content filter rejection (scripted provider only)")

	return cmd
}

// simulatedFilterPayload mirrors the error body returned by a provider
// content filter.
const simulatedFilterPayload = `{
  "error": {
    "code": "content_filter",
    "message": "The response was filtered due to the prompt triggering the content management policy.",
    "innererror": {
      "code": "ResponsibleAIPolicyViolation",
      "content_filter_result": {
        "hate": {"filtered": false, "severity": "safe"},
        "self_harm": {"filtered": false, "severity": "safe"},
        "sexual": {"filtered": false, "severity": "safe"},
        "violence": {"filtered": true, "severity": "medium"}
      }
    }
  }
}`

func serveMetrics(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics.serve.failed", "addr", addr, "error", err)
		}
	}()

	return srv
}

type chatSession struct {
	engine    *engine.Engine
	app       *app
	userID    string
	sessionID string
	out       io.Writer
}

func (s *chatSession) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(s.out, "session %s (type \"exit\" to quit)\n", s.sessionID)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := s.turn(ctx, text); err != nil {
			return err
		}
	}
}

// turn answers one message. Turn failures are logged and reported to the
// user generically; only a cancelled context ends the session.
func (s *chatSession) turn(ctx context.Context, text string) error {
	resp, err := s.engine.Chat(ctx, s.userID, s.sessionID, text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.app.logger.Error("chat.turn.failed", "session_id", s.sessionID, "trace_id", resp.TraceID, "error", err)
		if resp.Text == "" {
			fmt.Fprintln(s.out, genericFailure)
			return nil
		}
	}

	fmt.Fprintf(s.out, "[%s] %s\n", resp.Agent, resp.Text)
	if resp.Truncated {
		fmt.Fprintln(s.out, "(stopped after the iteration limit)")
	}

	return nil
}

func newHistoryCommand(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the recorded messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			eng, err := a.openEngine(ctx, prometheus.NewRegistry())
			if err != nil {
				return err
			}

			recs, err := eng.ConversationHistory(ctx, args[0], limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range recs {
				who := r.AgentName
				if r.MessageType == core.KindHuman {
					who = "user"
				}
				if r.ToolName != "" {
					who += "/" + r.ToolName
				}
				fmt.Fprintf(out, "%s %-11s %-22s %s\n",
					r.TraceEnd.Local().Format(time.DateTime), r.MessageType, who, oneLine(r.Content, 100))
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", engine.DefaultHistoryLimit, "maximum number of records")

	return cmd
}

func newPurgeCommand(c *cli) *cobra.Command {
	var keepSession bool

	cmd := &cobra.Command{
		Use:   "purge <session-id>",
		Short: "Delete the recorded messages of a session",
		Long: `Deletes the session together with its messages and hops. With
--keep-session only the messages are removed and the session row stays.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			eng, err := a.openEngine(ctx, prometheus.NewRegistry())
			if err != nil {
				return err
			}

			if keepSession {
				err = eng.ClearChatHistory(ctx, args[0])
			} else {
				err = eng.PurgeSession(ctx, args[0])
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", args[0])

			return nil
		},
	}

	cmd.Flags().BoolVar(&keepSession, "keep-session", false, "keep the session row")

	return cmd
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}
