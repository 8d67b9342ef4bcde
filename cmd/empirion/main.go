package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cl "empirion/internal/cli"
	"empirion/internal/config"
	"empirion/internal/drafts"
	"empirion/internal/simulation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL
	draftsPath := cfg.DraftsPath

	root := &cobra.Command{
		Use:          "empirion",
		Short:        "Empirion arena CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")
	root.PersistentFlags().StringVar(&draftsPath, "drafts", draftsPath, "local drafts database")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newWhoamiCmd(&apiBase),
		newArenasCmd(&apiBase),
		newTeamCmd(&apiBase),
		newProjectCmd(),
		newDraftCmd(&apiBase, &draftsPath),
		newDecideCmd(&apiBase),
		newReportCmd(&apiBase),
		newMonitorCmd(&apiBase),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// activeSession loads the saved session and refreshes it up front when the
// access token is about to expire.
func activeSession(ctx context.Context, client *cl.Client) (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	if sess.Expired(time.Now()) {
		if err := refreshSession(ctx, client, &sess); err != nil {
			return cl.Session{}, err
		}
	}
	return sess, nil
}

func refreshSession(ctx context.Context, client *cl.Client, sess *cl.Session) error {
	if sess.RefreshToken == "" {
		return errors.New("session expired, run `empirion login`")
	}
	fresh, err := client.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		return fmt.Errorf("session expired, run `empirion login`: %w", err)
	}
	sess.Apply(fresh, time.Now())
	return cl.SaveSession(*sess)
}

// withSession runs fn with the saved access token, refreshing it once when the
// API answers 401.
func withSession(ctx context.Context, client *cl.Client, fn func(token string) error) error {
	sess, err := activeSession(ctx, client)
	if err != nil {
		return err
	}
	err = fn(sess.AccessToken)
	if !cl.IsUnauthorized(err) {
		return err
	}
	if err := refreshSession(ctx, client, &sess); err != nil {
		return err
	}
	return fn(sess.AccessToken)
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an Empirion account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			name, err := promptOptional("Display name (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, name)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Confirm your e-mail, then run `empirion login`.")
				return nil
			}
			if err := cl.SaveSession(cl.NewSession(session, time.Now())); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in to Empirion",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.NewSession(session, time.Now())); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newWhoamiCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show your profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			return withSession(ctx, client, func(token string) error {
				me, err := client.Me(ctx, token)
				if err != nil {
					return err
				}
				accent.Printf("%s ", me.Name)
				fmt.Printf("<%s> role=%s\n", me.Email, me.Role)
				return nil
			})
		},
	}
}

func newArenasCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "arenas",
		Short:   "List public championships",
		Aliases: []string{"arena"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).PublicChampionships(ctx, limit)
			if err != nil {
				return err
			}
			renderArenas(out)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of arenas")
	cmd.AddCommand(newArenaShowCmd(apiBase))
	return cmd
}

func newArenaShowCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <arena-id>",
		Short: "Show one championship and its teams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			return withSession(ctx, client, func(token string) error {
				champ, err := client.Championship(ctx, token, args[0])
				if err != nil {
					return err
				}
				teams, err := client.Teams(ctx, token, champ.ID)
				if err != nil {
					return err
				}
				renderArena(champ, teams)
				return nil
			})
		},
	}
}

func newTeamCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Create or join a team in an arena",
	}

	var createArena, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a team and join it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if createArena == "" || strings.TrimSpace(name) == "" {
				return errors.New("--arena and --name are required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			// one key per invocation, so the retry after a token refresh is not a second team
			idem := uuid.NewString()
			return withSession(ctx, client, func(token string) error {
				team, err := client.CreateTeam(ctx, token, createArena, name, idem)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Team %s created (%s).", team.Name, team.ID))
				return nil
			})
		},
	}
	create.Flags().StringVar(&createArena, "arena", "", "championship id")
	create.Flags().StringVar(&name, "name", "", "team name")

	var joinArena, teamID string
	join := &cobra.Command{
		Use:   "join",
		Short: "Join an existing team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if joinArena == "" || teamID == "" {
				return errors.New("--arena and --team are required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			return withSession(ctx, client, func(token string) error {
				if err := client.JoinTeam(ctx, token, joinArena, teamID); err != nil {
					return err
				}
				printSuccess("Joined team " + teamID + ".")
				return nil
			})
		},
	}
	join.Flags().StringVar(&joinArena, "arena", "", "championship id")
	join.Flags().StringVar(&teamID, "team", "", "team id")

	cmd.AddCommand(create, join)
	return cmd
}

func newProjectCmd() *cobra.Command {
	var decisionsPath, ecosystemPath, branch string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project a decision file locally, without the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := loadScenario(decisionsPath, ecosystemPath, branch)
			if err != nil {
				return err
			}
			res := simulation.CalculateProjections(sc.Decisions, sc.Branch, sc.Ecosystem, sc.Indicators)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			renderProjection(fmt.Sprintf("Projection (%s)", sc.Branch), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&decisionsPath, "decisions", "", "decision YAML file")
	cmd.Flags().StringVar(&ecosystemPath, "ecosystem", "", "ecosystem YAML file overriding the scenario")
	cmd.Flags().StringVar(&branch, "branch", "", "branch override (industrial, commercial, ...)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	_ = cmd.MarkFlagRequired("decisions")
	return cmd
}

func loadScenario(decisionsPath, ecosystemPath, branch string) (config.Scenario, error) {
	sc, err := config.LoadScenario(decisionsPath)
	if err != nil {
		return config.Scenario{}, err
	}
	if ecosystemPath != "" {
		eco, err := config.LoadEcosystemFile(ecosystemPath)
		if err != nil {
			return config.Scenario{}, err
		}
		sc.Ecosystem = eco
	}
	if branch != "" {
		if sc.Branch, err = simulation.ParseBranch(branch); err != nil {
			return config.Scenario{}, err
		}
	}
	return sc, sc.Validate()
}

type targetFlags struct {
	arena string
	team  string
	round int
}

func (t *targetFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.arena, "arena", "", "championship id")
	cmd.Flags().StringVar(&t.team, "team", "", "team id")
	cmd.Flags().IntVar(&t.round, "round", 0, "round number")
}

func (t targetFlags) validate() error {
	if t.arena == "" || t.team == "" || t.round <= 0 {
		return errors.New("--arena, --team and a positive --round are required")
	}
	return nil
}

func newDraftCmd(apiBase, draftsPath *string) *cobra.Command {
	draft := &cobra.Command{
		Use:     "draft",
		Short:   "Local decision drafts",
		Aliases: []string{"drafts"},
	}

	openDrafts := func() (*drafts.DB, error) {
		return drafts.Open(*draftsPath)
	}

	var saveDecisions string
	var saveTarget targetFlags
	save := &cobra.Command{
		Use:   "save NAME",
		Short: "Store a decision file as a named draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := loadScenario(saveDecisions, "", "")
			if err != nil {
				return err
			}
			db, err := openDrafts()
			if err != nil {
				return err
			}
			defer db.Close()
			d, err := db.Save(drafts.Draft{
				Name:           args[0],
				ChampionshipID: saveTarget.arena,
				TeamID:         saveTarget.team,
				Round:          saveTarget.round,
				Branch:         sc.Branch,
				Data:           sc.Decisions,
			})
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Draft %q saved.", d.Name))
			return nil
		},
	}
	save.Flags().StringVar(&saveDecisions, "decisions", "", "decision YAML file")
	saveTarget.bind(save)
	_ = save.MarkFlagRequired("decisions")

	list := &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDrafts()
			if err != nil {
				return err
			}
			defer db.Close()
			out, err := db.List()
			if err != nil {
				return err
			}
			renderDrafts(out)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show NAME",
		Short: "Show a draft with its local projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDrafts()
			if err != nil {
				return err
			}
			defer db.Close()
			d, err := db.Get(args[0])
			if err != nil {
				return err
			}
			res := simulation.CalculateProjections(d.Data, d.Branch, simulation.DefaultEcosystem(), nil)
			renderProjection(fmt.Sprintf("Draft %s (%s, default ecosystem)", d.Name, d.Branch), res)
			return nil
		},
	}

	del := &cobra.Command{
		Use:     "delete NAME",
		Short:   "Delete a draft",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDrafts()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Delete(args[0]); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Draft %q deleted.", args[0]))
			return nil
		},
	}

	var submitTarget targetFlags
	submit := &cobra.Command{
		Use:   "submit NAME",
		Short: "Submit a draft to its arena round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDrafts()
			if err != nil {
				return err
			}
			defer db.Close()
			d, err := db.Get(args[0])
			if err != nil {
				return err
			}
			target := targetFlags{arena: d.ChampionshipID, team: d.TeamID, round: d.Round}
			if submitTarget.arena != "" {
				target.arena = submitTarget.arena
			}
			if submitTarget.team != "" {
				target.team = submitTarget.team
			}
			if submitTarget.round > 0 {
				target.round = submitTarget.round
			}
			if err := target.validate(); err != nil {
				return err
			}
			if err := submitDecisions(cmd.Context(), newClient(apiBase), target, d.Data); err != nil {
				return err
			}
			return db.MarkSubmitted(d.Name, time.Now())
		},
	}
	submitTarget.bind(submit)

	draft.AddCommand(save, list, show, del, submit)
	return draft
}

func newDecideCmd(apiBase *string) *cobra.Command {
	decide := &cobra.Command{
		Use:   "decide",
		Short: "Round decisions",
	}
	var decisionsPath string
	var target targetFlags
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a decision file for a round",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			sc, err := loadScenario(decisionsPath, "", "")
			if err != nil {
				return err
			}
			return submitDecisions(cmd.Context(), newClient(apiBase), target, sc.Decisions)
		},
	}
	submit.Flags().StringVar(&decisionsPath, "decisions", "", "decision YAML file")
	target.bind(submit)
	_ = submit.MarkFlagRequired("decisions")
	decide.AddCommand(submit)
	return decide
}

func submitDecisions(parent context.Context, client *cl.Client, target targetFlags, data simulation.DecisionData) error {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()
	return withSession(ctx, client, func(token string) error {
		rec, err := client.SubmitDecisions(ctx, token, target.arena, target.team, target.round, data)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Round %d decisions submitted at %s.", rec.Round, rec.UpdatedAt.Local().Format(time.Kitchen)))
		res, err := client.DecisionProjection(ctx, token, target.arena, target.team, target.round)
		if err != nil {
			printWarn(fmt.Sprintf("Projection unavailable: %v", err))
			return nil
		}
		renderProjection("Arena projection", res)
		return nil
	})
}

func newReportCmd(apiBase *string) *cobra.Command {
	var arena string
	var round int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Tutor ranking of a round",
		RunE: func(cmd *cobra.Command, args []string) error {
			if arena == "" || round <= 0 {
				return errors.New("--arena and a positive --round are required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			return withSession(ctx, client, func(token string) error {
				out, err := client.RoundReport(ctx, token, arena, round)
				if err != nil {
					return err
				}
				renderReport(out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&arena, "arena", "", "championship id")
	cmd.Flags().IntVar(&round, "round", 0, "round number")
	return cmd
}

func newMonitorCmd(apiBase *string) *cobra.Command {
	var arena string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Follow decision submissions of an arena live",
		RunE: func(cmd *cobra.Command, args []string) error {
			if arena == "" {
				return errors.New("--arena is required")
			}
			client := newClient(apiBase)
			sess, err := activeSession(cmd.Context(), client)
			if err != nil {
				return err
			}
			wsURL, err := client.MonitorURL(arena)
			if err != nil {
				return err
			}
			header := http.Header{}
			header.Set("Authorization", "Bearer "+sess.AccessToken)
			conn, resp, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, header)
			if err != nil {
				if resp != nil {
					return fmt.Errorf("monitor handshake status %d: %w", resp.StatusCode, err)
				}
				return err
			}
			defer conn.Close()

			go func() {
				<-cmd.Context().Done()
				conn.Close()
			}()
			printInfo("Watching arena " + arena + " (Ctrl+C to stop)")
			for {
				var msg monitorMessage
				if err := conn.ReadJSON(&msg); err != nil {
					if cmd.Context().Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						return nil
					}
					return err
				}
				renderMonitorMessage(msg)
			}
		},
	}
	cmd.Flags().StringVar(&arena, "arena", "", "championship id")
	return cmd
}
